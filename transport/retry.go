package transport

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
)

// retryTokenValidity bounds how long a stateless-retry token remains
// acceptable, per spec §8 test 5 ("absent/invalid token -> Retry again").
// msquic's own stateless-retry window is on this order.
const retryTokenValidity = int64(15) // seconds

// retryTokenSecret is the process-global HMAC key a server uses to sign
// and verify Retry tokens, per spec §6 ("Stateless reset secret (per
// binding), ... process-global, set once on library init" — the retry
// secret follows the same lifecycle). It must be set with
// SetRetryTokenSecret before AppendRetryToken/ValidateRetryToken are used.
var retryTokenSecret [32]byte

// SetRetryTokenSecret installs the HMAC key used to sign and validate
// stateless-retry tokens. Safe to call once at startup. Tokens are signed
// and checked under whatever key is installed at the time, the zero-value
// key included; tokens built before a real secret is installed never
// validate afterward.
func SetRetryTokenSecret(secret [32]byte) {
	retryTokenSecret = secret
}

// AppendRetryToken builds a signed, self-contained retry token binding the
// original destination CID the client used to the (addr, now) pair that
// requested it. The wire format is plaintext-then-MAC, not encrypted: RFC
// 9000 Section 8.1.2 requires the token be unforgeable and tied to the
// client's address, not confidential.
//
//	[1 byte odcid len][odcid][8 bytes unix-seconds expiry][addr][32 byte HMAC]
func AppendRetryToken(b []byte, odcid []byte, addr []byte, now int64) []byte {
	start := len(b)
	b = append(b, byte(len(odcid)))
	b = append(b, odcid...)
	var expiry [8]byte
	binary.BigEndian.PutUint64(expiry[:], uint64(now+retryTokenValidity))
	b = append(b, expiry[:]...)
	b = append(b, addr...)
	mac := hmac.New(sha256.New, retryTokenSecret[:])
	mac.Write(b[start:])
	return mac.Sum(b)
}

// ValidateRetryToken checks a token returned by the client in its second
// Initial packet against the 4-tuple it arrived on and the current time.
// On success it returns the original destination CID the first, pre-Retry
// Initial used (needed to restore OriginalDestinationCID on the server's
// transport parameters, per conn.go's Accept/odcid contract).
func ValidateRetryToken(token []byte, addr []byte, now int64) (odcid []byte, ok bool) {
	const macLen = sha256.Size
	if len(token) < 1+macLen {
		return nil, false
	}
	body := token[:len(token)-macLen]
	tag := token[len(token)-macLen:]
	mac := hmac.New(sha256.New, retryTokenSecret[:])
	mac.Write(body)
	expected := mac.Sum(nil)
	if !hmac.Equal(expected, tag) {
		return nil, false
	}
	odcidLen := int(body[0])
	if len(body) < 1+odcidLen+8 {
		return nil, false
	}
	odcid = body[1 : 1+odcidLen]
	expiry := int64(binary.BigEndian.Uint64(body[1+odcidLen : 1+odcidLen+8]))
	if now > expiry {
		return nil, false
	}
	wantAddr := body[1+odcidLen+8:]
	if len(wantAddr) != len(addr) || !hmac.Equal(wantAddr, addr) {
		return nil, false
	}
	return odcid, true
}
