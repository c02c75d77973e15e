package transport

import (
	"crypto/tls"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestKeyUpdateAccept drives a peer-initiated key update end to end at the
// AEAD layer: the sender rotates its write keys one generation forward,
// the receiver's phase-mismatch path must decrypt the packet under the
// derived next-generation keys and rotate both directions.
func TestKeyUpdateAccept(t *testing.T) {
	secret := make([]byte, 32)
	for i := range secret {
		secret[i] = byte(i * 7)
	}
	const suite = tls.TLS_AES_128_GCM_SHA256

	cur, err := deriveAEADSuiteForCipherSuite(secret, suite)
	require.NoError(t, err)
	recv := packetNumberSpace{
		opener:      cur,
		readSecret:  append([]byte(nil), secret...),
		writeSecret: append([]byte(nil), secret...),
		cipherSuite: suite,
	}
	sealerCur, err := deriveAEADSuiteForCipherSuite(secret, suite)
	require.NoError(t, err)
	recv.sealer = sealerCur

	// The peer updates its keys and seals a packet under the next
	// generation.
	sendCur, err := deriveAEADSuiteForCipherSuite(secret, suite)
	require.NoError(t, err)
	sendNext, _, err := nextGenSuite(sendCur, secret, suite)
	require.NoError(t, err)

	const pn = 42
	aad := []byte("header")
	plaintext := []byte("updated generation payload")
	ciphertext := sendNext.seal(nil, aad, append([]byte(nil), plaintext...), pn)

	got, err := recv.openPhaseMismatch(aad, ciphertext, pn)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)

	require.True(t, recv.keyPhase, "accepting the update flips the phase")
	require.NotNil(t, recv.prevOpener, "old keys retained for reordering")

	// The old generation must still open a straggler via prevOpener.
	straggler := sendCur.seal(nil, aad, append([]byte(nil), plaintext...), 7)
	got, err = recv.openPhaseMismatch(aad, straggler, 7)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestKeyUpdateHPKeyUnchanged(t *testing.T) {
	secret := make([]byte, 32)
	cur, err := deriveAEADSuiteForCipherSuite(secret, tls.TLS_AES_128_GCM_SHA256)
	require.NoError(t, err)
	next, _, err := nextGenSuite(cur, secret, tls.TLS_AES_128_GCM_SHA256)
	require.NoError(t, err)
	require.Equal(t, cur.hp, next.hp, "header protection key survives a key update")
}

// TestDecodePacketNumberWrap exercises RFC 9000 Appendix A.3's
// reconstruction around truncation boundaries, including the worked
// example from the RFC.
func TestDecodePacketNumberWrap(t *testing.T) {
	// RFC 9000 A.3: largest 0xa82f30ea, truncated 0x9b32 in 2 bytes.
	require.EqualValues(t, 0xa82f9b32, decodePacketNumber(0x9b32, 2, 0xa82f30ea))

	// Wrap forward across a 2-byte boundary.
	require.EqualValues(t, 0x10000, decodePacketNumber(0x0000, 2, 0xffff))

	// 4-byte truncation: a wrap across the 2^32 boundary, and the plain
	// next-packet case.
	require.EqualValues(t, 0x1_0000_0000, decodePacketNumber(0, 4, 0xffff_ffff))
	require.EqualValues(t, 5, decodePacketNumber(5, 4, 4))
}

func TestInitialSecretsKnownAnswer(t *testing.T) {
	// RFC 9001 Appendix A: client Initial secret for DCID 8394c8f03e515708.
	dcid := []byte{0x83, 0x94, 0xc8, 0xf0, 0x3e, 0x51, 0x57, 0x08}
	clientSecret, _ := deriveInitialSecrets(dcid, Version1)
	want := []byte{
		0xc0, 0x0c, 0xf1, 0x51, 0xca, 0x5b, 0xe0, 0x75,
		0xed, 0x0e, 0xbf, 0xb5, 0xc8, 0x03, 0x23, 0xc4,
		0x2d, 0x6b, 0x7d, 0xb6, 0x78, 0x81, 0x28, 0x9a,
		0xf4, 0x00, 0x8f, 0x1f, 0x6c, 0x35, 0x7a, 0xea,
	}
	require.Equal(t, want, clientSecret)
}
