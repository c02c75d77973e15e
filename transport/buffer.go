package transport

import (
	"io"

	"github.com/quince-project/quic/internal/ranges"
)

// recvBuffer reassembles a reliable byte stream from out-of-order,
// possibly-overlapping chunks (CRYPTO or STREAM frame payloads), tracking
// which offsets have arrived with a ranges.Set the same way the ACK
// tracker does.
type recvBuffer struct {
	buf        []byte // buf[i] holds stream offset base+i once received
	base       uint64 // stream offset of buf[0]
	received   ranges.Set
	readOffset uint64

	haveFinal bool
	finalSize uint64
}

// push stores data received at offset, extending the final size if fin is
// set. It returns an error if the data is inconsistent with a final size
// already learned (RFC 9000 Section 4.5).
func (r *recvBuffer) push(data []byte, offset uint64, fin bool) error {
	end := offset + uint64(len(data))
	if r.haveFinal && end > r.finalSize {
		return newError(ProtocolViolation, "data beyond final size")
	}
	if fin {
		if r.haveFinal && r.finalSize != end {
			return newError(ProtocolViolation, "final size mismatch")
		}
		r.haveFinal = true
		r.finalSize = end
	}
	if len(data) > 0 {
		r.store(data, offset)
		r.received.Add(offset, uint64(len(data)))
	}
	return nil
}

// reset applies an RFC 9000 Section 3.5 stream reset: it learns the final
// size without requiring the bytes themselves, and reports how many
// previously-uncredited bytes this adds to the connection's flow-control
// accounting.
func (r *recvBuffer) reset(finalSize uint64) (int, error) {
	if r.haveFinal && r.finalSize != finalSize {
		return 0, newError(ProtocolViolation, "final size mismatch")
	}
	prev, ok := r.received.Max()
	var prevBound uint64
	if ok {
		prevBound = prev + 1
	}
	if finalSize < prevBound {
		return 0, newError(ProtocolViolation, "final size smaller than received data")
	}
	newly := finalSize - prevBound
	r.haveFinal = true
	r.finalSize = finalSize
	return int(newly), nil
}

func (r *recvBuffer) store(data []byte, offset uint64) {
	if len(r.buf) == 0 {
		r.base = r.readOffset
	}
	if offset < r.base {
		// Data below our retained window; the overlapping prefix was
		// already delivered to the application, so only the tail matters.
		skip := r.base - offset
		if skip >= uint64(len(data)) {
			return
		}
		data = data[skip:]
		offset = r.base
	}
	end := int(offset-r.base) + len(data)
	if end > len(r.buf) {
		grown := make([]byte, end)
		copy(grown, r.buf)
		r.buf = grown
	}
	copy(r.buf[offset-r.base:], data)
}

// read drains the contiguous run of data starting at readOffset into b.
func (r *recvBuffer) read(b []byte) (int, error) {
	n := r.available()
	if n == 0 {
		if r.haveFinal && r.readOffset >= r.finalSize {
			return 0, io.EOF
		}
		return 0, nil
	}
	if uint64(len(b)) < n {
		n = uint64(len(b))
	}
	start := r.readOffset - r.base
	copy(b, r.buf[start:start+n])
	r.readOffset += n
	return int(n), nil
}

// available reports how many contiguous bytes starting at readOffset are
// ready to deliver.
func (r *recvBuffer) available() uint64 {
	if r.received.Size() == 0 {
		return 0
	}
	first := r.received.Get(0)
	if first.Low > r.readOffset {
		return 0
	}
	return first.High() - r.readOffset
}

// complete reports whether every byte up to and including FIN has been
// delivered to the application.
func (r *recvBuffer) complete() bool {
	return r.haveFinal && r.readOffset >= r.finalSize
}

// sendRange is a pending retransmission: bytes [offset, offset+length) must
// be resent because the packet that originally carried them was lost.
type sendRange struct {
	offset uint64
	length uint64
}

// sendBuffer tracks an outbound byte stream: the bytes written by the
// application, which of them have been sent, acked, or must be resent.
type sendBuffer struct {
	data       []byte
	sendOffset uint64
	acked      ranges.Set
	lost       []sendRange

	fin       bool
	finOffset uint64
	finSent   bool
	finAcked  bool
}

func (s *sendBuffer) write(b []byte) {
	s.data = append(s.data, b...)
}

func (s *sendBuffer) close() {
	s.fin = true
	s.finOffset = uint64(len(s.data))
}

// push re-queues previously sent data for retransmission after the packet
// carrying it was declared lost. A lost FIN (with or without data) re-arms
// the FIN so a later pop carries it again.
func (s *sendBuffer) push(data []byte, offset uint64, fin bool) error {
	if fin {
		s.finSent = false
	}
	if len(data) == 0 {
		return nil
	}
	s.lost = append(s.lost, sendRange{offset: offset, length: uint64(len(data))})
	return nil
}

// hasPending reports whether anything (new data, retransmissions, or an
// unsent FIN) still needs to go out.
func (s *sendBuffer) hasPending() bool {
	return s.sendOffset < uint64(len(s.data)) || len(s.lost) > 0 || (s.fin && !s.finSent)
}

// pop returns the next chunk (at most left bytes) this stream should send:
// retransmissions take priority over new data. A final pop may carry no
// data at all, just the FIN bit.
func (s *sendBuffer) pop(left int) ([]byte, uint64, bool) {
	if left <= 0 {
		return nil, 0, false
	}
	if len(s.lost) > 0 {
		r := s.lost[0]
		n := r.length
		if n > uint64(left) {
			n = uint64(left)
		}
		out := s.data[r.offset : r.offset+n]
		isFin := s.fin && r.offset+n == s.finOffset
		if n == r.length {
			s.lost = s.lost[1:]
		} else {
			s.lost[0] = sendRange{offset: r.offset + n, length: r.length - n}
		}
		if isFin {
			s.finSent = true
		}
		return out, r.offset, isFin
	}
	if s.sendOffset < uint64(len(s.data)) {
		n := uint64(len(s.data)) - s.sendOffset
		if n > uint64(left) {
			n = uint64(left)
		}
		offset := s.sendOffset
		out := s.data[offset : offset+n]
		s.sendOffset += n
		isFin := s.fin && s.sendOffset == s.finOffset
		if isFin {
			s.finSent = true
		}
		return out, offset, isFin
	}
	if s.fin && !s.finSent && s.sendOffset >= s.finOffset {
		s.finSent = true
		return nil, s.finOffset, true
	}
	return nil, s.sendOffset, false
}

// ack records that the peer has confirmed receipt of [offset, offset+length).
func (s *sendBuffer) ack(offset, length uint64) {
	if length == 0 {
		return
	}
	s.acked.Add(offset, length)
}

// ackFin records that a FIN-carrying frame was acknowledged.
func (s *sendBuffer) ackFin() {
	s.finAcked = true
}

// complete reports whether every byte and the FIN have been acked.
func (s *sendBuffer) complete() bool {
	if !s.fin || !s.finAcked {
		return false
	}
	if s.finOffset == 0 {
		return true
	}
	if s.acked.Size() != 1 {
		return false
	}
	r := s.acked.Get(0)
	return r.Low == 0 && r.High() >= s.finOffset
}
