package quic

import (
	"io"
	"net"
)

// Client is a QUIC client endpoint: one datapath socket and the engine
// that multiplexes every outbound connection made from it across the
// worker pool, mirroring the teacher's own Client/Server split.
type Client struct {
	engine *engine
}

// NewClient creates a Client with the given configuration. Call
// ListenAndServe before Connect.
func NewClient(config *Config) *Client {
	return &Client{engine: newEngine(config, nil, false)}
}

// SetHandler installs the handler invoked for every connection event.
func (c *Client) SetHandler(h Handler) {
	c.engine.setHandler(h)
}

// SetLogger enables transaction logging at the given verbosity, writing to
// w. level follows the logLevel scale used by the cmd/quince CLI: 0=off
// 1=error 2=info 3=debug 4=trace.
func (c *Client) SetLogger(level int, w io.Writer) {
	c.engine.log.level = logLevel(level)
	c.engine.log.setWriter(w)
}

// ListenAndServe opens the local UDP socket the client sends from and
// receives replies on, and starts the worker pool.
func (c *Client) ListenAndServe(addr string) error {
	d, err := listenUDP("udp", addr)
	if err != nil {
		return err
	}
	c.engine.datapath = d
	c.engine.start()
	return nil
}

// Connect dials a new QUIC connection to addr. The connection's events
// (including the initial EventConnAccept once the handshake completes)
// arrive on the handler installed by SetHandler.
func (c *Client) Connect(addr string) error {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	_, err = c.engine.connect(raddr)
	return err
}

// Close shuts down the worker pool and closes the underlying socket.
func (c *Client) Close() error {
	c.engine.close()
	return nil
}

// Unreachable reports that addr can no longer be reached (e.g. an ICMP
// unreachable notification surfaced by the datapath); matching
// connections are closed locally without a CONNECTION_CLOSE.
func (c *Client) Unreachable(addr net.Addr) {
	c.engine.unreachable(addr)
}
