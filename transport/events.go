package transport

// EventType identifies what changed on a connection since the application
// last drained Events(). These correspond to the "User-visible events" of
// spec §7 that are connection/stream scoped (connection-lifecycle events
// such as ShutdownComplete live one layer up, in the veneer package, since
// they concern the socket-facing handle rather than protocol state).
type EventType int

const (
	// EventStream indicates a stream has new readable data, or was just
	// created by the peer (a StreamStarted per spec §7).
	EventStream EventType = iota
	// EventStreamComplete indicates a stream, local or peer-opened, has had
	// all of its outbound data acknowledged.
	EventStreamComplete
	// EventStreamReset indicates the peer reset their send side of a
	// stream.
	EventStreamReset
	// EventStreamStop indicates the peer asked us to stop sending on a
	// stream (STOP_SENDING).
	EventStreamStop
	// EventStreamsAvailable indicates the peer raised our budget of
	// streams we may open.
	EventStreamsAvailable
	// EventPeerAddressChanged indicates the peer's observed address
	// changed (connection migration).
	EventPeerAddressChanged
	// EventDatagramReceived indicates an unreliable datagram frame payload
	// arrived (reserved for future DATAGRAM frame support; not emitted by
	// the current frame codec).
	EventDatagramReceived
	// EventPeerClose indicates the peer closed the connection, via a
	// CONNECTION_CLOSE frame (ErrorCode carries its code) or a stateless
	// reset (ErrorCode zero).
	EventPeerClose
)

// Event describes one change in connection or stream state.
type Event struct {
	Type      EventType
	StreamID  uint64
	ErrorCode uint64
	Bidi      bool   // for EventStreamsAvailable: which stream type
	Available uint64 // for EventStreamsAvailable: new total budget
}

func newStreamRecvEvent(id uint64) Event {
	return Event{Type: EventStream, StreamID: id}
}

func newStreamStartedEvent(id uint64) Event {
	return Event{Type: EventStream, StreamID: id}
}

func newStreamCompleteEvent(id uint64) Event {
	return Event{Type: EventStreamComplete, StreamID: id}
}

func newStreamResetEvent(id, errCode uint64) Event {
	return Event{Type: EventStreamReset, StreamID: id, ErrorCode: errCode}
}

func newStreamStopEvent(id, errCode uint64) Event {
	return Event{Type: EventStreamStop, StreamID: id, ErrorCode: errCode}
}

func newStreamsAvailableEvent(bidi bool, available uint64) Event {
	return Event{Type: EventStreamsAvailable, Bidi: bidi, Available: available}
}

func newPeerAddressChangedEvent() Event {
	return Event{Type: EventPeerAddressChanged}
}

func newPeerCloseEvent(errCode uint64) Event {
	return Event{Type: EventPeerClose, ErrorCode: errCode}
}
