package quic

import "net"

// maxDatagramSize is the largest UDP payload the datapath will ever read or
// write in one call, sized above the IPv6 minimum MTU headroom the wire
// protocol already budgets for (spec §6's note that platform MTU probing
// policy stays out of core scope; this is just a safe read buffer size).
const maxDatagramSize = 1452

// Datapath is the platform's socket abstraction. The core only needs a
// read/write/close surface — per spec §6, "Platform datapath... only their
// interface to the core is specified" — so alternate implementations
// (io_uring, XDP, a test fake) can stand in for udpDatapath without
// touching the worker or transport packages.
type Datapath interface {
	ReadFrom(b []byte) (n int, addr net.Addr, err error)
	WriteTo(b []byte, addr net.Addr) (n int, err error)
	LocalAddr() net.Addr
	Close() error
}

// udpDatapath is the default Datapath, backed by a single net.UDPConn. This
// mirrors the teacher's own net.ListenUDP usage and x/net/internal/quic's
// udpConn interface, generalized behind Datapath so the worker pool never
// imports net.UDPConn directly.
type udpDatapath struct {
	conn *net.UDPConn
}

func listenUDP(network, addr string) (*udpDatapath, error) {
	laddr, err := net.ResolveUDPAddr(network, addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, err
	}
	return &udpDatapath{conn: conn}, nil
}

func (d *udpDatapath) ReadFrom(b []byte) (int, net.Addr, error) {
	return d.conn.ReadFrom(b)
}

func (d *udpDatapath) WriteTo(b []byte, addr net.Addr) (int, error) {
	return d.conn.WriteTo(b, addr)
}

func (d *udpDatapath) LocalAddr() net.Addr {
	return d.conn.LocalAddr()
}

func (d *udpDatapath) Close() error {
	return d.conn.Close()
}

var _ Datapath = (*udpDatapath)(nil)
