package transport

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/tls"
	"hash"
	"io"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// aeadSuite is the negotiated AEAD + header-protection pair for one
// direction of one packet-number space, derived per RFC 9001 Section 5.
// Three cipher suites are supported: AES-128-GCM (the mandatory suite,
// used for Initial keys regardless of what the handshake ultimately
// picks), AES-256-GCM and ChaCha20-Poly1305.
type aeadSuite struct {
	aead    cipher.AEAD
	hp      []byte // header protection key, consumed by hpMask
	iv      []byte
	isChaCha bool
}

func newAEADSuiteAESGCM(key, iv, hp []byte) (*aeadSuite, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, newError(CryptoError, "aes key")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, newError(CryptoError, "aes-gcm")
	}
	return &aeadSuite{aead: aead, hp: hp, iv: iv}, nil
}

func newAEADSuiteChaCha20(key, iv, hp []byte) (*aeadSuite, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, newError(CryptoError, "chacha20poly1305")
	}
	return &aeadSuite{aead: aead, hp: hp, iv: iv, isChaCha: true}, nil
}

func (s *aeadSuite) nonce(pn uint64) []byte {
	nonce := make([]byte, len(s.iv))
	copy(nonce, s.iv)
	for i := 0; i < 8; i++ {
		nonce[len(nonce)-1-i] ^= byte(pn >> uint(8*i))
	}
	return nonce
}

// seal encrypts payload in place (appending the auth tag) using aad as the
// associated data (the packet header).
func (s *aeadSuite) seal(dst, aad, payload []byte, pn uint64) []byte {
	return s.aead.Seal(dst, s.nonce(pn), payload, aad)
}

func (s *aeadSuite) open(dst, aad, ciphertext []byte, pn uint64) ([]byte, error) {
	p, err := s.aead.Open(dst, s.nonce(pn), ciphertext, aad)
	if err != nil {
		return nil, newError(CryptoError, "aead open")
	}
	return p, nil
}

// hpMask computes the 5-byte header-protection mask for the given sample,
// per RFC 9001 Section 5.4.
func (s *aeadSuite) hpMask(sample []byte) ([]byte, error) {
	if s.isChaCha {
		if len(sample) < 16 {
			return nil, newError(CryptoError, "hp sample")
		}
		var counter uint32
		counter = uint32(sample[0]) | uint32(sample[1])<<8 | uint32(sample[2])<<16 | uint32(sample[3])<<24
		nonce := sample[4:16]
		c, err := chacha20.NewUnauthenticatedCipher(s.hp, nonce)
		if err != nil {
			return nil, newError(CryptoError, "chacha20 hp")
		}
		c.SetCounter(counter)
		mask := make([]byte, 5)
		c.XORKeyStream(mask, mask)
		return mask, nil
	}
	block, err := aes.NewCipher(s.hp)
	if err != nil {
		return nil, newError(CryptoError, "aes hp key")
	}
	if len(sample) < block.BlockSize() {
		return nil, newError(CryptoError, "hp sample")
	}
	mask := make([]byte, block.BlockSize())
	block.Encrypt(mask, sample)
	return mask[:5], nil
}

func (s *aeadSuite) overhead() int { return s.aead.Overhead() }

const (
	hkdfLabelClientIn = "client in"
	hkdfLabelServerIn = "server in"
	hkdfLabelQUICKey  = "quic key"
	hkdfLabelQUICIV   = "quic iv"
	hkdfLabelQUICHP   = "quic hp"
	hkdfLabelQUICKU   = "quic ku"
)

// hkdfExpandLabel implements the TLS 1.3 HKDF-Expand-Label construction
// (RFC 8446 Section 7.1), as reused by QUIC key derivation (RFC 9001
// Section 5.1).
func hkdfExpandLabel(secret []byte, label string, length int) []byte {
	return hkdfExpandLabelHash(sha256.New, secret, label, length)
}

func hkdfExpandLabelHash(newHash func() hash.Hash, secret []byte, label string, length int) []byte {
	fullLabel := "tls13 " + label
	info := make([]byte, 0, 2+1+len(fullLabel)+1)
	info = append(info, byte(length>>8), byte(length))
	info = append(info, byte(len(fullLabel)))
	info = append(info, fullLabel...)
	info = append(info, 0) // empty Context
	out := make([]byte, length)
	r := hkdf.Expand(newHash, secret, info)
	if _, err := io.ReadFull(r, out); err != nil {
		panic(err) // hkdf.Expand reader never errors for in-range lengths
	}
	return out
}

// deriveAEADSuiteForCipherSuite builds the AEAD/header-protection pair for
// a Handshake or Application secret once the handshake has negotiated a
// real cipher suite, per RFC 9001 Section 5.1. Unlike Initial keys (always
// AES-128-GCM/SHA-256), this must follow whatever suite TLS picked.
func deriveAEADSuiteForCipherSuite(secret []byte, suite uint16) (*aeadSuite, error) {
	newHash := sha256.New
	if suite == tls.TLS_AES_256_GCM_SHA384 {
		newHash = sha512.New384
	}
	hpLen := 16
	if suite == tls.TLS_CHACHA20_POLY1305_SHA256 || suite == tls.TLS_AES_256_GCM_SHA384 {
		hpLen = 32
	}
	hp := hkdfExpandLabelHash(newHash, secret, hkdfLabelQUICHP, hpLen)
	iv := hkdfExpandLabelHash(newHash, secret, hkdfLabelQUICIV, 12)
	switch suite {
	case tls.TLS_CHACHA20_POLY1305_SHA256:
		key := hkdfExpandLabelHash(newHash, secret, hkdfLabelQUICKey, chacha20poly1305.KeySize)
		return newAEADSuiteChaCha20(key, iv, hp)
	case tls.TLS_AES_256_GCM_SHA384:
		key := hkdfExpandLabelHash(newHash, secret, hkdfLabelQUICKey, 32)
		return newAEADSuiteAESGCM(key, iv, hp)
	default: // tls.TLS_AES_128_GCM_SHA256
		key := hkdfExpandLabelHash(newHash, secret, hkdfLabelQUICKey, 16)
		return newAEADSuiteAESGCM(key, iv, hp)
	}
}

// deriveInitialSecrets computes the client and server Initial secrets from
// the client's chosen destination connection ID, per RFC 9001 Section 5.2.
func deriveInitialSecrets(dcid []byte, version uint32) (clientSecret, serverSecret []byte) {
	salt := initialSaltFor(version)
	initialSecret := hkdf.Extract(sha256.New, dcid, salt)
	clientSecret = hkdfExpandLabel(initialSecret, hkdfLabelClientIn, sha256.Size)
	serverSecret = hkdfExpandLabel(initialSecret, hkdfLabelServerIn, sha256.Size)
	return clientSecret, serverSecret
}

// deriveAEADSuite builds an AES-128-GCM suite (the suite mandated for
// Initial keys regardless of the negotiated cipher) from a traffic secret.
func deriveAEADSuite(secret []byte) (*aeadSuite, error) {
	key := hkdfExpandLabel(secret, hkdfLabelQUICKey, 16)
	iv := hkdfExpandLabel(secret, hkdfLabelQUICIV, 12)
	hp := hkdfExpandLabel(secret, hkdfLabelQUICHP, 16)
	return newAEADSuiteAESGCM(key, iv, hp)
}

// initialAEAD holds the client and server Initial-space AEAD suites,
// derived from the client's chosen destination connection ID (RFC 9001
// Section 5.2). Each field is the key material derived from that side's
// traffic secret; which one a connection uses as opener vs. sealer depends
// on whether it is the client or the server (see deriveInitialKeyMaterial
// in conn.go).
type initialAEAD struct {
	client *aeadSuite
	server *aeadSuite
}

func (ia *initialAEAD) init(cid []byte) error {
	clientSecret, serverSecret := deriveInitialSecrets(cid, Version1)
	var err error
	ia.client, err = deriveAEADSuite(clientSecret)
	if err != nil {
		return err
	}
	ia.server, err = deriveAEADSuite(serverSecret)
	return err
}

// updateTrafficSecret applies the "quic ku" key-update label (RFC 9001
// Section 6) to derive the next-generation secret from the current one,
// using the hash the negotiated cipher suite prescribes.
func updateTrafficSecret(secret []byte, suite uint16) []byte {
	if suite == tls.TLS_AES_256_GCM_SHA384 {
		return hkdfExpandLabelHash(sha512.New384, secret, hkdfLabelQUICKU, sha512.Size384)
	}
	return hkdfExpandLabel(secret, hkdfLabelQUICKU, sha256.Size)
}

// nextGenSuite derives the AEAD suite one key-update generation past
// secret. The header-protection key is not updated across key updates
// (RFC 9001 Section 6), so it is carried over from cur.
func nextGenSuite(cur *aeadSuite, secret []byte, suite uint16) (*aeadSuite, []byte, error) {
	next := updateTrafficSecret(secret, suite)
	s, err := deriveAEADSuiteForCipherSuite(next, suite)
	if err != nil {
		return nil, nil, err
	}
	s.hp = cur.hp
	return s, next, nil
}

// verifyRetryIntegrity checks the 16-byte integrity tag appended to a
// received Retry packet b, per RFC 9001 Section 5.8. odcid is the original
// destination connection ID the client used in the Initial packet that
// triggered this Retry.
func verifyRetryIntegrity(b, odcid []byte) bool {
	if len(b) < retryIntegrityTagLen {
		return false
	}
	pseudo := b[:len(b)-retryIntegrityTagLen]
	tag := b[len(b)-retryIntegrityTagLen:]
	block, err := aes.NewCipher(retryIntegrityKeyV1)
	if err != nil {
		return false
	}
	aead, err := cipher.NewGCMWithTagSize(block, retryIntegrityTagLen)
	if err != nil {
		return false
	}
	aad := make([]byte, 0, 1+len(odcid)+len(pseudo))
	aad = append(aad, byte(len(odcid)))
	aad = append(aad, odcid...)
	aad = append(aad, pseudo...)
	expected := aead.Seal(nil, retryIntegrityNonceV1, nil, aad)
	if len(expected) != len(tag) {
		return false
	}
	var diff byte
	for i := range expected {
		diff |= expected[i] ^ tag[i]
	}
	return diff == 0
}

// retryIntegrityTag computes the 16-byte tag a server appends to a Retry
// packet, per RFC 9001 Section 5.8. pseudo is the Retry packet as encoded
// so far (header + token, no tag); odcid is the client's original
// destination CID (the DCID of the Initial that triggered this Retry).
// This is the encode-side mirror of verifyRetryIntegrity.
func retryIntegrityTag(pseudo, odcid []byte) ([]byte, error) {
	block, err := aes.NewCipher(retryIntegrityKeyV1)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCMWithTagSize(block, retryIntegrityTagLen)
	if err != nil {
		return nil, err
	}
	aad := make([]byte, 0, 1+len(odcid)+len(pseudo))
	aad = append(aad, byte(len(odcid)))
	aad = append(aad, odcid...)
	aad = append(aad, pseudo...)
	return aead.Seal(nil, retryIntegrityNonceV1, nil, aad), nil
}
