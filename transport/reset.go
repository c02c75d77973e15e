package transport

import (
	"crypto/hmac"
	"crypto/sha256"
)

// MinStatelessResetSize is the smallest valid stateless reset datagram: at
// least one header byte, 4 bytes of unpredictable padding, and the 16-byte
// token (RFC 9000 Section 10.3).
const MinStatelessResetSize = 21

// StatelessResetToken derives the 16-byte reset token for cid from a
// binding-held secret, an HMAC so an off-path observer who learns one
// token cannot predict any other (spec §4.7's
// generate_stateless_reset_token).
func StatelessResetToken(secret, cid []byte) [16]byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(cid)
	var token [16]byte
	copy(token[:], mac.Sum(nil))
	return token
}

// AppendStatelessReset formats a stateless reset datagram: random bytes
// shaped like a short-header packet, ending in token. random supplies the
// unpredictable fill (its length decides the datagram size, which the
// caller keeps below the triggering datagram's to prevent loops); it must
// leave room for at least MinStatelessResetSize total bytes.
func AppendStatelessReset(b, random []byte, token [16]byte) []byte {
	if len(random) < MinStatelessResetSize-16 {
		return b
	}
	start := len(b)
	b = append(b, random...)
	// First byte: 0b01xxxxxx, a plausible short header.
	b[start] = 0x40 | (b[start] & 0x3f)
	return append(b, token[:]...)
}
