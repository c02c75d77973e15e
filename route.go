package quic

import (
	"net"

	"github.com/quince-project/quic/transport"
)

// addrBytes gives a stable byte representation of a net.Addr suitable for
// binding a stateless-retry token to the 4-tuple that requested it (spec
// §4.7, §8 test 5): the network name prevents a UDP and a hypothetical
// alternate-datapath address from colliding.
func addrBytes(addr net.Addr) []byte {
	return append([]byte(addr.Network()+"|"), addr.String()...)
}

// dstConnIDForDatagram extracts the destination connection ID from the
// first packet in a datagram, the way x/net/internal/quic's endpoint.go
// does before it even knows which Conn owns the packet: enough of the
// header to route the datagram is unencrypted by design (RFC 9000 §17.2
// long header carries an explicit DCID length byte; §17.3 short header's
// DCID has no length prefix, so the caller must already know the length it
// handed out as its own connection IDs).
func dstConnIDForDatagram(b []byte, localCIDLen int) ([]byte, bool) {
	if len(b) < 1 {
		return nil, false
	}
	const longHeaderBit = 0x80
	if b[0]&longHeaderBit != 0 {
		// Long header: flags(1) version(4) dcidLen(1) dcid(dcidLen) ...
		const versionLen = 4
		if len(b) < 1+versionLen+1 {
			return nil, false
		}
		dcidLen := int(b[1+versionLen])
		start := 1 + versionLen + 1
		if dcidLen > transport.MaxCIDLength || len(b) < start+dcidLen {
			return nil, false
		}
		return b[start : start+dcidLen], true
	}
	// Short header: flags(1) dcid(localCIDLen) ...
	if len(b) < 1+localCIDLen {
		return nil, false
	}
	return b[1 : 1+localCIDLen], true
}
