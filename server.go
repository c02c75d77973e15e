package quic

import (
	"io"
	"net"
)

// Server is a QUIC server endpoint: one listening UDP socket and the
// engine that accepts and multiplexes inbound connections across the
// worker pool.
type Server struct {
	engine *engine
}

// NewServer creates a Server with the given configuration. config.TLS
// must carry a server certificate.
func NewServer(config *Config) *Server {
	return &Server{engine: newEngine(config, nil, true)}
}

// SetHandler installs the handler invoked for every connection event.
func (s *Server) SetHandler(h Handler) {
	s.engine.setHandler(h)
}

// SetLogger enables transaction logging at the given verbosity, writing to
// w. level follows the logLevel scale used by the cmd/quince CLI: 0=off
// 1=error 2=info 3=debug 4=trace.
func (s *Server) SetLogger(level int, w io.Writer) {
	s.engine.log.level = logLevel(level)
	s.engine.log.setWriter(w)
}

// ListenAndServe opens the UDP socket at addr and starts the worker pool.
// It returns once the socket is bound; serving happens on background
// goroutines.
func (s *Server) ListenAndServe(addr string) error {
	d, err := listenUDP("udp", addr)
	if err != nil {
		return err
	}
	s.engine.datapath = d
	s.engine.start()
	return nil
}

// Close shuts down the worker pool and closes the listening socket.
func (s *Server) Close() error {
	s.engine.close()
	return nil
}

// Unreachable reports that addr can no longer be reached (e.g. an ICMP
// unreachable notification surfaced by the datapath); matching
// connections are closed locally without a CONNECTION_CLOSE.
func (s *Server) Unreachable(addr net.Addr) {
	s.engine.unreachable(addr)
}
