package transport

import (
	"encoding/binary"

	"github.com/quince-project/quic/internal/varint"
)

// packetType distinguishes the long-header packet types plus the short
// (1-RTT) header, per RFC 9000 Section 17.
type packetType uint8

const (
	packetTypeInitial packetType = iota
	packetTypeZeroRTT
	packetTypeHandshake
	packetTypeRetry
	packetTypeVersionNegotiation
	packetTypeShort
)

func (t packetType) String() string {
	switch t {
	case packetTypeInitial:
		return "initial"
	case packetTypeZeroRTT:
		return "0rtt"
	case packetTypeHandshake:
		return "handshake"
	case packetTypeRetry:
		return "retry"
	case packetTypeVersionNegotiation:
		return "version_negotiation"
	case packetTypeShort:
		return "short"
	default:
		return "unknown"
	}
}

// packetSpace is an encryption level / packet-number space. 0-RTT keys
// live alongside 1-RTT in packetSpaceApplication, per spec §3.
type packetSpace uint8

const (
	packetSpaceInitial packetSpace = iota
	packetSpaceHandshake
	packetSpaceApplication
	packetSpaceCount
)

func (s packetSpace) String() string {
	switch s {
	case packetSpaceInitial:
		return "initial"
	case packetSpaceHandshake:
		return "handshake"
	case packetSpaceApplication:
		return "application"
	default:
		return "unknown"
	}
}

func packetTypeFromSpace(space packetSpace) packetType {
	switch space {
	case packetSpaceInitial:
		return packetTypeInitial
	case packetSpaceHandshake:
		return packetTypeHandshake
	default:
		return packetTypeShort
	}
}

const (
	headerFormLong = 0x80
	fixedBit       = 0x40
	keyPhaseBit    = 0x04
	spinBit        = 0x20

	// MaxCIDLength is the largest permitted connection ID length.
	MaxCIDLength = 20
	// MinInitialPacketSize is the minimum UDP payload size of a
	// client-sent Initial packet (datagram padding requirement).
	MinInitialPacketSize = 1200
	// MaxPacketSize is the largest packet this implementation will ever
	// build or accept absent a higher peer-advertised max_udp_payload_size.
	MaxPacketSize = 1452

	minPayloadLength      = 4 // minimum protected payload so sampling for header protection has enough bytes
	retryIntegrityTagLen  = 16
	maxCryptoFrameOverhead = 1 + 8 + 8 // type + offset + length varints (worst case)
	maxStreamFrameOverhead = 1 + 8 + 8 + 8
)

var retryIntegrityKeyV1 = []byte{
	0xbe, 0x0c, 0x69, 0x0b, 0x9f, 0x66, 0x57, 0x5a,
	0x1d, 0x76, 0x6b, 0x54, 0xe3, 0x68, 0xc8, 0x4e,
}
var retryIntegrityNonceV1 = []byte{
	0x46, 0x15, 0x99, 0xd3, 0x5d, 0x63, 0x2b, 0xf2, 0x23, 0x98, 0x25, 0xbb,
}

// packetHeader carries the connection-ID fields common to every packet
// type. dcil is only meaningful while decoding a short header: the caller
// must supply the expected destination CID length (it is implicit, not
// encoded on the wire).
type packetHeader struct {
	version uint32
	dcid    []byte
	scid    []byte
	dcil    uint8
}

// packet is a single QUIC packet, long- or short-header.
type packet struct {
	typ               packetType
	header            packetHeader
	token             []byte
	packetNumber      uint64
	packetNumberLen   int
	payloadLen        int // Length field (long header) or caller-tracked payload size (short header)
	supportedVersions []uint32
	keyPhase          bool
	spin              bool
	headerLen         int // bytes consumed/produced by the unprotected header, not including packet number
}

func (p *packet) String() string {
	return p.typ.String()
}

// decodeHeader parses enough of b to route the packet: its type and the
// destination/source connection IDs. It does not touch the packet number
// or payload, both of which require removing header protection (done by
// packetNumberSpace.decryptPacket).
func (p *packet) decodeHeader(b []byte) (int, error) {
	if len(b) < 1 {
		return 0, newError(FrameEncodingError, "empty packet")
	}
	first := b[0]
	if first&fixedBit == 0 && first&headerFormLong == 0 {
		// Some implementations don't set the fixed bit on stateless
		// resets; still route long-header packets normally below.
	}
	if first&headerFormLong != 0 {
		return p.decodeLongHeader(b)
	}
	return p.decodeShortHeader(b)
}

func (p *packet) decodeLongHeader(b []byte) (int, error) {
	if len(b) < 5 {
		return 0, newError(FrameEncodingError, "short long-header packet")
	}
	first := b[0]
	p.header.version = binary.BigEndian.Uint32(b[1:5])
	off := 5
	if p.header.version == 0 {
		p.typ = packetTypeVersionNegotiation
	} else {
		switch (first >> 4) & 0x3 {
		case 0:
			p.typ = packetTypeInitial
		case 1:
			p.typ = packetTypeZeroRTT
		case 2:
			p.typ = packetTypeHandshake
		case 3:
			p.typ = packetTypeRetry
		}
	}
	if off >= len(b) {
		return 0, newError(FrameEncodingError, "truncated header")
	}
	dcil := int(b[off])
	off++
	if dcil > MaxCIDLength || off+dcil > len(b) {
		return 0, newError(FrameEncodingError, "dcid too long")
	}
	p.header.dcid = b[off : off+dcil]
	off += dcil
	if off >= len(b) {
		return 0, newError(FrameEncodingError, "truncated header")
	}
	scil := int(b[off])
	off++
	if scil > MaxCIDLength || off+scil > len(b) {
		return 0, newError(FrameEncodingError, "scid too long")
	}
	p.header.scid = b[off : off+scil]
	off += scil
	p.headerLen = off
	return off, nil
}

func (p *packet) decodeShortHeader(b []byte) (int, error) {
	dcil := int(p.header.dcil)
	if len(b) < 1+dcil {
		return 0, newError(FrameEncodingError, "short header too small")
	}
	p.typ = packetTypeShort
	p.spin = b[0]&spinBit != 0
	p.header.dcid = b[1 : 1+dcil]
	p.headerLen = 1 + dcil
	return p.headerLen, nil
}

// decodeBody decodes the type-specific unprotected trailer following
// decodeHeader: the supported-version list for Version Negotiation, or the
// retry token for Retry packets. It is a no-op (returns 0) for packet
// types whose remaining fields require decryption first.
func (p *packet) decodeBody(b []byte) (int, error) {
	switch p.typ {
	case packetTypeVersionNegotiation:
		rest := b[p.headerLen:]
		if len(rest)%4 != 0 {
			return 0, newError(FrameEncodingError, "malformed version list")
		}
		p.supportedVersions = p.supportedVersions[:0]
		for i := 0; i+4 <= len(rest); i += 4 {
			p.supportedVersions = append(p.supportedVersions, binary.BigEndian.Uint32(rest[i:i+4]))
		}
		return len(rest), nil
	case packetTypeRetry:
		if len(b) < p.headerLen+retryIntegrityTagLen {
			return 0, newError(FrameEncodingError, "retry too short")
		}
		tokenEnd := len(b) - retryIntegrityTagLen
		p.token = b[p.headerLen:tokenEnd]
		return tokenEnd - p.headerLen, nil
	default:
		return 0, nil
	}
}

// encodedLen estimates the number of bytes the unprotected header (plus
// placeholder packet number) occupies for the packet as currently
// configured. Used to compute how much room is left for frame payload.
func (p *packet) encodedLen() int {
	switch p.typ {
	case packetTypeShort:
		return 1 + len(p.header.dcid) + p.pnLen()
	default:
		n := 1 + 4 + 1 + len(p.header.dcid) + 1 + len(p.header.scid)
		if p.typ == packetTypeInitial {
			n += varint.Len(uint64(len(p.token))) + len(p.token)
		}
		n += varint.Len(uint64(p.payloadLen)) // Length field
		n += p.pnLen()
		return n
	}
}

func (p *packet) pnLen() int {
	if p.packetNumberLen == 0 {
		return 4
	}
	return p.packetNumberLen
}

// encode writes the unprotected header (and a zeroed packet-number
// placeholder) to b, returning the offset at which frame payload should be
// written. The caller fills in the packet number bytes and frame payload,
// then calls packetNumberSpace.encryptPacket to protect it in place.
func (p *packet) encode(b []byte) (int, error) {
	if p.packetNumberLen == 0 {
		p.packetNumberLen = 4
	}
	switch p.typ {
	case packetTypeShort:
		return p.encodeShortHeader(b)
	default:
		return p.encodeLongHeader(b)
	}
}

func (p *packet) encodeLongHeader(b []byte) (int, error) {
	first := byte(headerFormLong | fixedBit)
	switch p.typ {
	case packetTypeInitial:
		// type bits already 0
	case packetTypeZeroRTT:
		first |= 1 << 4
	case packetTypeHandshake:
		first |= 2 << 4
	case packetTypeRetry:
		first |= 3 << 4
	}
	first |= byte(p.packetNumberLen-1) & 0x3
	if len(b) < 1 {
		return 0, errShortBuffer
	}
	b[0] = first
	off := 1
	if off+4 > len(b) {
		return 0, errShortBuffer
	}
	binary.BigEndian.PutUint32(b[off:], p.header.version)
	off += 4
	if off >= len(b) {
		return 0, errShortBuffer
	}
	b[off] = byte(len(p.header.dcid))
	off++
	off += copy(b[off:], p.header.dcid)
	if off >= len(b) {
		return 0, errShortBuffer
	}
	b[off] = byte(len(p.header.scid))
	off++
	off += copy(b[off:], p.header.scid)
	if p.typ == packetTypeInitial {
		b2 := varint.Put(b[:off], uint64(len(p.token)))
		off = len(b2)
		off += copy(b[off:], p.token)
	}
	lengthField := p.payloadLen + p.packetNumberLen
	b2 := varint.Put(b[:off], uint64(lengthField))
	off = len(b2)
	p.headerLen = off
	for i := 0; i < p.packetNumberLen; i++ {
		if off >= len(b) {
			return 0, errShortBuffer
		}
		b[off] = byte(p.packetNumber >> uint(8*(p.packetNumberLen-1-i)))
		off++
	}
	return off, nil
}

func (p *packet) encodeShortHeader(b []byte) (int, error) {
	first := byte(fixedBit)
	if p.spin {
		first |= spinBit
	}
	if p.keyPhase {
		first |= keyPhaseBit
	}
	first |= byte(p.packetNumberLen-1) & 0x3
	if len(b) < 1+len(p.header.dcid)+p.packetNumberLen {
		return 0, errShortBuffer
	}
	b[0] = first
	off := 1
	off += copy(b[off:], p.header.dcid)
	p.headerLen = off
	for i := 0; i < p.packetNumberLen; i++ {
		b[off] = byte(p.packetNumber >> uint(8*(p.packetNumberLen-1-i)))
		off++
	}
	return off, nil
}

// appendVersionNegotiation writes a Version Negotiation packet listing the
// supported versions, echoing the peer's connection IDs swapped.
func appendVersionNegotiation(b []byte, dcid, scid []byte, versions ...uint32) []byte {
	first := byte(headerFormLong | fixedBit)
	b = append(b, first, 0, 0, 0, 0) // version = 0
	b = append(b, byte(len(dcid)))
	b = append(b, dcid...)
	b = append(b, byte(len(scid)))
	b = append(b, scid...)
	for _, v := range versions {
		var vb [4]byte
		binary.BigEndian.PutUint32(vb[:], v)
		b = append(b, vb[:]...)
	}
	return b
}

// PeekLongHeader extracts the version-independent fields of a long-header
// packet (RFC 8999): version and the two connection IDs. The binding layer
// uses it to answer an unsupported version with Version Negotiation before
// any connection exists. ok is false for short headers and malformed input.
func PeekLongHeader(b []byte) (version uint32, dcid, scid []byte, ok bool) {
	if len(b) < 1 || b[0]&headerFormLong == 0 {
		return 0, nil, nil, false
	}
	p := packet{}
	if _, err := p.decodeLongHeader(b); err != nil {
		return 0, nil, nil, false
	}
	return p.header.version, p.header.dcid, p.header.scid, true
}

// IsVersionSupported reports whether this implementation speaks version v.
func IsVersionSupported(v uint32) bool {
	return versionSupported(v)
}

// AppendVersionNegotiation builds the Version Negotiation packet a binding
// sends in answer to an unsupported-version long-header packet, echoing
// the client's connection IDs swapped (dcid here is the client's SCID).
func AppendVersionNegotiation(b, dcid, scid []byte, versions ...uint32) []byte {
	return appendVersionNegotiation(b, dcid, scid, versions...)
}

// PeekInitial extracts the routing fields and retry token of a client
// Initial packet without creating a Conn or touching any key material —
// used by the stateless-retry decision point (spec §4.7, §8 test 5), which
// runs before any Conn exists for this 4-tuple. ok is false for anything
// that isn't a well-formed long-header Initial packet.
func PeekInitial(b []byte) (dcid, scid, token []byte, ok bool) {
	p := packet{}
	_, err := p.decodeHeader(b)
	if err != nil || p.typ != packetTypeInitial {
		return nil, nil, nil, false
	}
	off := p.headerLen
	var tokenLen uint64
	n, err := varint.Get(b[off:], &tokenLen)
	if err != nil || uint64(len(b)-off-n) < tokenLen {
		return nil, nil, nil, false
	}
	off += n
	token = b[off : off+int(tokenLen)]
	return p.header.dcid, p.header.scid, token, true
}

// AppendRetry writes a complete Retry packet (spec §4.3, §4.7, RFC 9000
// §17.2.5): a long header of type Retry echoing dcid (the client's chosen
// SCID becomes our DCID) and scid (the server-issued retry source CID),
// carrying token, followed by the 16-byte integrity tag computed over
// odcid (the client's original DCID — the one this Retry is correcting).
func AppendRetry(b []byte, odcid, dcid, scid, token []byte) ([]byte, error) {
	start := len(b)
	first := byte(headerFormLong | fixedBit | 3<<4)
	b = append(b, first, 0, 0, 0, 0)
	binary.BigEndian.PutUint32(b[start+1:start+5], Version1)
	b = append(b, byte(len(dcid)))
	b = append(b, dcid...)
	b = append(b, byte(len(scid)))
	b = append(b, scid...)
	b = append(b, token...)
	tag, err := retryIntegrityTag(b[start:], odcid)
	if err != nil {
		return nil, err
	}
	return append(b, tag...), nil
}

// packetNumberLength returns the minimal number of bytes (1-4) needed to
// unambiguously encode pn given the largest packet number acknowledged so
// far in this space (-1 if none), per RFC 9000 Appendix A.2.
func packetNumberLength(pn uint64, largestAcked int64) int {
	var numUnacked uint64
	if largestAcked < 0 {
		numUnacked = pn + 1
	} else {
		numUnacked = pn - uint64(largestAcked)
	}
	minBits := bitLen64(numUnacked * 2)
	n := (minBits + 7) / 8
	if n < 1 {
		n = 1
	}
	if n > 4 {
		n = 4
	}
	return n
}

func bitLen64(v uint64) int {
	n := 0
	for v > 0 {
		n++
		v >>= 1
	}
	return n
}

// decodePacketNumber reconstructs the full packet number from its
// truncated wire encoding, per RFC 9000 Appendix A.3.
func decodePacketNumber(truncated uint64, pnLen int, largestPN int64) uint64 {
	expected := uint64(largestPN + 1)
	pnWin := uint64(1) << uint(pnLen*8)
	pnHwin := pnWin / 2
	pnMask := pnWin - 1
	candidate := (expected &^ pnMask) | truncated
	switch {
	case candidate+pnHwin <= expected && candidate < (uint64(1)<<62)-pnWin:
		candidate += pnWin
	case candidate > expected+pnHwin && candidate >= pnWin:
		candidate -= pnWin
	}
	return candidate
}
