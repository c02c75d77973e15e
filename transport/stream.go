package transport

import "io"

// Stream is one QUIC stream: an independent, flow-controlled byte pipe
// multiplexed onto a connection (spec §5).
type Stream struct {
	id   uint64
	bidi bool

	send sendBuffer
	recv recvBuffer

	flow     flowControl
	connFlow *flowControl

	updateMaxData   bool
	dataBlockedSent bool
}

func (st *Stream) init(id uint64, bidi bool) {
	st.id = id
	st.bidi = bidi
}

// pushRecv stores newly arrived stream data and recomputes whether a
// MAX_STREAM_DATA update should be sent.
func (st *Stream) pushRecv(data []byte, offset uint64, fin bool) error {
	if err := st.recv.push(data, offset, fin); err != nil {
		return err
	}
	st.updateMaxData = st.flow.shouldUpdateMaxRecv()
	return nil
}

// popSend returns the next chunk of outbound data this stream should send.
func (st *Stream) popSend(left int) ([]byte, uint64, bool) {
	return st.send.pop(left)
}

// ackMaxData clears the pending-update flag once a MAX_STREAM_DATA frame
// carrying the current window has been acknowledged as sent.
func (st *Stream) ackMaxData() {
	st.updateMaxData = false
}

// Read reads reassembled stream data into b, honoring the reliable
// in-order delivery the recv buffer enforces. It returns io.EOF once the
// stream's FIN has been delivered and all data consumed.
func (st *Stream) Read(b []byte) (int, error) {
	n, err := st.recv.read(b)
	if n > 0 {
		st.flow.addRecv(n)
		if st.connFlow != nil {
			st.connFlow.addRecv(n)
		}
		st.updateMaxData = st.flow.shouldUpdateMaxRecv()
	}
	return n, err
}

// Write buffers b for sending on this stream, subject to flow control
// being checked at send time by the connection.
func (st *Stream) Write(b []byte) (int, error) {
	st.send.write(b)
	return len(b), nil
}

// Close signals the end of the stream's send side (a FIN will be sent with
// the last outstanding data).
func (st *Stream) Close() error {
	st.send.close()
	return nil
}

// closed reports whether st has finished in every direction it actually
// uses. local is whether this endpoint is the stream's initiator: a
// receive-only stream (peer-initiated uni) never sends, and a send-only
// stream (locally-initiated uni) never receives, so only the direction
// that's actually active for this stream type needs to complete.
func (st *Stream) closed(local bool) bool {
	hasSend := local || st.bidi
	hasRecv := !local || st.bidi
	if hasSend && !st.send.complete() {
		return false
	}
	if hasRecv && !st.recv.complete() {
		return false
	}
	return true
}

var _ io.ReadWriteCloser = (*Stream)(nil)

// cryptoBuffer is the CRYPTO-frame analogue of Stream: a reliable,
// ordered byte pipe with no flow control, framing, or stream ID, used to
// carry the TLS handshake across the Initial/Handshake/Application
// packet-number spaces.
type cryptoBuffer struct {
	send sendBuffer
	recv recvBuffer
}

func (c *cryptoBuffer) pushRecv(data []byte, offset uint64, fin bool) error {
	return c.recv.push(data, offset, fin)
}

func (c *cryptoBuffer) popSend(left int) ([]byte, uint64, bool) {
	return c.send.pop(left)
}
