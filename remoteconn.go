package quic

import (
	"net"
	"time"

	"github.com/quince-project/quic/transport"
)

// remoteConn is one socket-level peer: a transport.Conn plus the
// addressing state the wire protocol itself doesn't track (spec §6,
// "Platform datapath... only their interface to the core is specified").
type remoteConn struct {
	addr net.Addr
	scid []byte
	conn *transport.Conn

	lastActive time.Time

	// justAccepted is true for the one drainEvents call immediately after
	// acceptConn creates this remoteConn, so the veneer-level EventConnAccept
	// (which transport.Conn itself has no notion of) reaches the handler
	// exactly once.
	justAccepted bool

	// lastStats is the most recent transport.Conn.Stats() snapshot taken
	// for this connection, so the engine can report metrics deltas rather
	// than re-adding the whole cumulative counter on every sweep.
	lastStats transport.Stats
}

func newRemoteConn(addr net.Addr, scid []byte, conn *transport.Conn, now time.Time) *remoteConn {
	c := &remoteConn{addr: addr, scid: scid, conn: conn, lastActive: now, justAccepted: true}
	conn.SetPrimaryPath(addr.String(), now)
	return c
}

func (c *remoteConn) RemoteAddr() net.Addr { return c.addr }

func (c *remoteConn) Stream(id uint64) *transport.Stream {
	st, err := c.conn.Stream(id)
	if err != nil {
		return nil
	}
	return st
}

func (c *remoteConn) Close(errorCode uint64, reason string) {
	c.conn.Close(true, errorCode, reason)
}

// observe records an inbound datagram and detects migration to a new
// source address.
func (c *remoteConn) observe(addr net.Addr, n int, now time.Time) {
	c.lastActive = now
	key := addr.String()
	if key != c.addr.String() {
		c.addr = addr
	}
	c.conn.ObservePacketPath(key, n, now)
}

var _ Conn = (*remoteConn)(nil)
