package transport

// flowControl tracks one flow-controlled budget (a whole connection, or a
// single stream), per RFC 9000 Section 4. maxRecv is the limit currently
// advertised to the peer; maxRecvNext is raised as data is consumed, and
// only takes effect once the corresponding MAX_DATA/MAX_STREAM_DATA frame
// is actually sent (commitMaxRecv).
type flowControl struct {
	maxRecv     uint64
	maxRecvNext uint64
	recvOffset  uint64

	maxSend    uint64
	sendOffset uint64
}

func (f *flowControl) init(maxRecv, maxSend uint64) {
	f.maxRecv = maxRecv
	f.maxRecvNext = maxRecv
	f.maxSend = maxSend
}

// canRecv returns how many more bytes may be received before the peer
// would violate our advertised limit.
func (f *flowControl) canRecv() uint64 {
	if f.recvOffset >= f.maxRecv {
		return 0
	}
	return f.maxRecv - f.recvOffset
}

// addRecv accounts for n newly received bytes, and auto-tunes the next
// advertised window once more than half of it has been consumed.
func (f *flowControl) addRecv(n int) {
	f.recvOffset += uint64(n)
	if f.maxRecvNext-f.recvOffset < f.maxRecvNext/2 {
		f.maxRecvNext *= 2
	}
}

func (f *flowControl) shouldUpdateMaxRecv() bool {
	return f.maxRecvNext > f.maxRecv
}

func (f *flowControl) commitMaxRecv() {
	f.maxRecv = f.maxRecvNext
}

// canSend returns how many more bytes may be sent before hitting the
// peer-advertised limit.
func (f *flowControl) canSend() uint64 {
	if f.sendOffset >= f.maxSend {
		return 0
	}
	return f.maxSend - f.sendOffset
}

func (f *flowControl) addSend(n int) {
	f.sendOffset += uint64(n)
}

// setMaxSend raises the peer-advertised send limit; MAX_DATA/MAX_STREAM_DATA
// must never lower it (RFC 9000 Section 4.1).
func (f *flowControl) setMaxSend(v uint64) {
	if v > f.maxSend {
		f.maxSend = v
	}
}
