package quic

import (
	"net"

	"github.com/quince-project/quic/transport"
)

// Socket-facing connection lifecycle events. These extend transport's
// connection/stream-scoped transport.EventType with the two events that
// only make sense at the veneer layer, where a connection has a socket
// address and a lifetime independent of any single transport.Conn value
// (spec §7's "ShutdownComplete" and its accept-side counterpart).
const (
	EventConnAccept transport.EventType = 100 + iota
	EventConnClose
)

// Conn is the socket-facing handle an application interacts with: a
// transport.Conn plus the addressing and stream helpers the veneer layer
// adds.
type Conn interface {
	// RemoteAddr returns the peer's network address.
	RemoteAddr() net.Addr
	// Stream returns the stream with the given id, creating it if this
	// endpoint may open it. It returns nil if the id is invalid for this
	// connection (e.g. a locally-numbered unidirectional stream the peer
	// tried to open).
	Stream(id uint64) *transport.Stream
	// Close closes the connection with the given application error code.
	Close(errorCode uint64, reason string)
}

// Handler processes the events accumulated on a connection since the last
// call. Serve is invoked from the worker goroutine owning the
// connection's partition, so it must not block on other connections.
type Handler interface {
	Serve(c Conn, events []transport.Event)
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(c Conn, events []transport.Event)

func (f HandlerFunc) Serve(c Conn, events []transport.Event) {
	f(c, events)
}
