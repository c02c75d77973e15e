package transport

import (
	"time"

	"github.com/quince-project/quic/internal/ranges"
	"github.com/quince-project/quic/internal/varint"
)

// ackRangesCapBytes bounds how many received-packet-number ranges a space
// retains for ACK generation.
const ackRangesCapBytes = 2048

// recvRangeSet is the set of packet numbers received in a space but not
// yet confirmed (by an acked ACK frame) as known to the peer. It wraps
// ranges.Set purely to give it the lowercase, package-local spelling used
// throughout this file.
type recvRangeSet struct {
	ranges.Set
}

func (r *recvRangeSet) removeUntil(limit uint64) {
	r.RemoveUntil(limit)
}

// packetNumberSpace is one of the three independent encryption levels /
// packet-number sequences a connection maintains (spec §3): Initial,
// Handshake, and Application (which also carries 0-RTT keys, unused here).
type packetNumberSpace struct {
	opener *aeadSuite
	sealer *aeadSuite

	// Key-update state, Application space only (RFC 9001 Section 6): the
	// traffic secrets the current opener/sealer derive from, the cipher
	// suite's id (selects the HKDF hash), the current key phase bit, and
	// the previous-generation opener kept to absorb packets reordered
	// across the phase boundary.
	readSecret  []byte
	writeSecret []byte
	cipherSuite uint16
	keyPhase    bool
	prevOpener  *aeadSuite

	nextPacketNumber uint64

	recvPacketNeedAck     recvRangeSet
	largestRecvPacketTime time.Time

	ackElicited      bool
	firstPacketAcked bool

	cryptoStream cryptoBuffer
}

func (sp *packetNumberSpace) init() {
	sp.recvPacketNeedAck.Init(ackRangesCapBytes)
}

// reset clears per-attempt bookkeeping (used after Retry or Version
// Negotiation restarts the handshake) without discarding already-derived
// keys, which the caller re-derives separately.
func (sp *packetNumberSpace) reset() {
	sp.nextPacketNumber = 0
	sp.ackElicited = false
	sp.firstPacketAcked = false
	sp.recvPacketNeedAck.Reset()
	sp.cryptoStream = cryptoBuffer{}
}

// drop discards this space's keys once it is no longer needed (RFC 9001
// Section 4.9), freeing the AEAD state and preventing further sends/recvs.
func (sp *packetNumberSpace) drop() {
	sp.opener = nil
	sp.sealer = nil
	sp.prevOpener = nil
	sp.readSecret = nil
	sp.writeSecret = nil
}

func (sp *packetNumberSpace) canDecrypt() bool { return sp.opener != nil }
func (sp *packetNumberSpace) canEncrypt() bool { return sp.sealer != nil }

// ready reports whether this space has protocol state pending that
// justifies building a packet for it (beyond stream data, which the
// caller checks separately for the Application space).
func (sp *packetNumberSpace) ready() bool {
	if !sp.canEncrypt() {
		return false
	}
	if sp.ackElicited {
		return true
	}
	if sp.cryptoStream.send.sendOffset < uint64(len(sp.cryptoStream.send.data)) {
		return true
	}
	return len(sp.cryptoStream.send.lost) > 0
}

func (sp *packetNumberSpace) isPacketReceived(pn uint64) bool {
	return sp.recvPacketNeedAck.Contains(pn)
}

func (sp *packetNumberSpace) onPacketReceived(pn uint64, now time.Time) {
	sp.recvPacketNeedAck.Add(pn, 1)
	if max, ok := sp.recvPacketNeedAck.Max(); ok && max == pn {
		sp.largestRecvPacketTime = now
	}
}

// decryptPacket removes header protection and decrypts the packet (long or
// short header) whose unprotected routing fields were already parsed into
// p by packet.decodeHeader. It returns the decrypted frame payload and the
// total number of bytes of b this packet occupied.
func (sp *packetNumberSpace) decryptPacket(b []byte, p *packet) ([]byte, int, error) {
	off := p.headerLen
	if p.typ == packetTypeInitial {
		var tokenLen uint64
		n, err := varint.Get(b[off:], &tokenLen)
		if err != nil {
			return nil, 0, newError(FrameEncodingError, "token length")
		}
		off += n
		if uint64(len(b)-off) < tokenLen {
			return nil, 0, newError(FrameEncodingError, "token")
		}
		p.token = b[off : off+int(tokenLen)]
		off += int(tokenLen)
	}
	var pnOffset, remaining int
	if p.typ == packetTypeShort {
		pnOffset = off
		remaining = len(b) - off
	} else {
		var length uint64
		n, err := varint.Get(b[off:], &length)
		if err != nil {
			return nil, 0, newError(FrameEncodingError, "length")
		}
		off += n
		pnOffset = off
		remaining = int(length)
		if remaining < 0 || remaining > len(b)-off {
			return nil, 0, newError(FrameEncodingError, "length exceeds buffer")
		}
	}
	if remaining < 4 {
		return nil, 0, newError(FrameEncodingError, "packet too short")
	}
	sampleOffset := pnOffset + 4
	if sampleOffset+16 > len(b) {
		return nil, 0, newError(FrameEncodingError, "short sample")
	}
	sample := b[sampleOffset : sampleOffset+16]
	mask, err := sp.opener.hpMask(sample)
	if err != nil {
		return nil, 0, err
	}
	if p.typ == packetTypeShort {
		b[0] ^= mask[0] & 0x1f
	} else {
		b[0] ^= mask[0] & 0x0f
	}
	pnLen := int(b[0]&0x3) + 1
	for i := 0; i < pnLen; i++ {
		b[pnOffset+i] ^= mask[1+i]
	}
	var truncated uint64
	for i := 0; i < pnLen; i++ {
		truncated = truncated<<8 | uint64(b[pnOffset+i])
	}
	largestPN := int64(-1)
	if max, ok := sp.recvPacketNeedAck.Max(); ok {
		largestPN = int64(max)
	}
	pn := decodePacketNumber(truncated, pnLen, largestPN)
	p.packetNumber = pn
	p.packetNumberLen = pnLen

	aad := b[:pnOffset+pnLen]
	ciphertext := b[pnOffset+pnLen : pnOffset+remaining]
	if p.typ == packetTypeShort {
		p.keyPhase = b[0]&keyPhaseBit != 0
		if p.keyPhase != sp.keyPhase {
			payload, err := sp.openPhaseMismatch(aad, ciphertext, pn)
			if err != nil {
				return nil, 0, err
			}
			return payload, pnOffset + remaining, nil
		}
	}
	payload, err := sp.opener.open(ciphertext[:0], aad, ciphertext, pn)
	if err != nil {
		return nil, 0, err
	}
	return payload, pnOffset + remaining, nil
}

// openPhaseMismatch handles a 1-RTT packet whose key-phase bit differs
// from ours: either the peer initiated a key update (next-generation keys
// decrypt it) or the packet was reordered from before our last update (the
// retained previous keys do). The ciphertext is copied before each trial
// because an in-place AEAD open zeroes its output buffer on failure.
func (sp *packetNumberSpace) openPhaseMismatch(aad, ciphertext []byte, pn uint64) ([]byte, error) {
	if len(sp.readSecret) > 0 {
		next, nextSecret, err := nextGenSuite(sp.opener, sp.readSecret, sp.cipherSuite)
		if err == nil {
			if payload, err := next.open(nil, aad, append([]byte(nil), ciphertext...), pn); err == nil {
				sp.installKeyUpdate(next, nextSecret)
				return payload, nil
			}
		}
	}
	if sp.prevOpener != nil {
		if payload, err := sp.prevOpener.open(nil, aad, append([]byte(nil), ciphertext...), pn); err == nil {
			return payload, nil
		}
	}
	return nil, newError(CryptoError, "aead open")
}

// installKeyUpdate accepts a peer-initiated key update: the read side
// rotates to the next generation (keeping the old opener for reordered
// packets), the write side rotates in lockstep so our next packets go out
// under the new phase, and the phase bit flips.
func (sp *packetNumberSpace) installKeyUpdate(nextOpener *aeadSuite, nextReadSecret []byte) {
	sp.prevOpener = sp.opener
	sp.opener = nextOpener
	sp.readSecret = nextReadSecret
	if len(sp.writeSecret) > 0 && sp.sealer != nil {
		if sealer, ws, err := nextGenSuite(sp.sealer, sp.writeSecret, sp.cipherSuite); err == nil {
			sp.sealer = sealer
			sp.writeSecret = ws
		}
	}
	sp.keyPhase = !sp.keyPhase
}

// encryptPacket applies AEAD encryption then header protection in place to
// b, which holds the unprotected header, packet number, and plaintext
// frames as written by packet.encode followed by encodeFrames. p.payloadLen
// must already include the AEAD tag's overhead, as set by conn.go's send.
func (sp *packetNumberSpace) encryptPacket(b []byte, p *packet) error {
	payloadOffset := len(b) - p.payloadLen
	overhead := sp.sealer.overhead()
	plaintext := b[payloadOffset : len(b)-overhead]
	aad := b[:payloadOffset]
	sp.sealer.seal(b[payloadOffset:payloadOffset], aad, plaintext, p.packetNumber)

	pnOffset := payloadOffset - p.packetNumberLen
	sampleOffset := pnOffset + 4
	sample := b[sampleOffset : sampleOffset+16]
	mask, err := sp.sealer.hpMask(sample)
	if err != nil {
		return err
	}
	if p.typ == packetTypeShort {
		b[0] ^= mask[0] & 0x1f
	} else {
		b[0] ^= mask[0] & 0x0f
	}
	for i := 0; i < p.packetNumberLen; i++ {
		b[pnOffset+i] ^= mask[1+i]
	}
	return nil
}
