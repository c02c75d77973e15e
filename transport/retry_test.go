package transport

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quince-project/quic/internal/varint"
)

func TestRetryTokenRoundTrip(t *testing.T) {
	var secret [32]byte
	for i := range secret {
		secret[i] = byte(i)
	}
	SetRetryTokenSecret(secret)

	odcid := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	addr := []byte("udp|127.0.0.1:12345")
	now := int64(1000)

	token := AppendRetryToken(nil, odcid, addr, now)
	got, ok := ValidateRetryToken(token, addr, now+1)
	require.True(t, ok)
	require.Equal(t, odcid, got)
}

func TestRetryTokenExpired(t *testing.T) {
	var secret [32]byte
	SetRetryTokenSecret(secret)

	odcid := []byte{9, 9, 9}
	addr := []byte("udp|10.0.0.1:4433")
	now := int64(0)

	token := AppendRetryToken(nil, odcid, addr, now)
	_, ok := ValidateRetryToken(token, addr, now+retryTokenValidity+1)
	require.False(t, ok, "token must not validate once its expiry has passed")
}

func TestRetryTokenWrongAddress(t *testing.T) {
	var secret [32]byte
	SetRetryTokenSecret(secret)

	odcid := []byte{1, 2, 3}
	token := AppendRetryToken(nil, odcid, []byte("udp|1.1.1.1:1"), 0)
	_, ok := ValidateRetryToken(token, []byte("udp|2.2.2.2:2"), 0)
	require.False(t, ok, "a token minted for one 4-tuple must not validate for another")
}

func TestRetryTokenTamperedSecret(t *testing.T) {
	var secretA, secretB [32]byte
	secretB[0] = 1

	SetRetryTokenSecret(secretA)
	token := AppendRetryToken(nil, []byte{1}, []byte("udp|a"), 0)

	SetRetryTokenSecret(secretB)
	_, ok := ValidateRetryToken(token, []byte("udp|a"), 0)
	require.False(t, ok, "a token signed under a different secret must not validate")
}

func TestAppendRetryAndPeekInitial(t *testing.T) {
	odcid := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	clientSCID := []byte{9, 9, 9, 9}
	rcid := []byte{7, 7, 7, 7, 7, 7, 7, 7}

	var secret [32]byte
	SetRetryTokenSecret(secret)
	token := AppendRetryToken(nil, odcid, []byte("udp|x"), 0)

	pkt, err := AppendRetry(nil, odcid, clientSCID, rcid, token)
	require.NoError(t, err)
	require.True(t, len(pkt) > retryIntegrityTagLen)

	// verifyRetryIntegrity is the client-side check conn.go's
	// recvPacketRetry performs on an inbound Retry; it must accept what
	// AppendRetry produced.
	require.True(t, verifyRetryIntegrity(pkt, odcid))

	// A client's follow-up Initial (dcid=rcid, scid=clientSCID, carrying
	// the token) must peek back out intact.
	b := []byte{0x80, 0, 0, 0, 1, byte(len(rcid))}
	b = append(b, rcid...)
	b = append(b, byte(len(clientSCID)))
	b = append(b, clientSCID...)
	b = varint.Put(b, uint64(len(token)))
	b = append(b, token...)

	dcid, scid, peekedToken, ok := PeekInitial(b)
	require.True(t, ok)
	require.Equal(t, rcid, dcid)
	require.Equal(t, clientSCID, scid)
	require.Equal(t, token, peekedToken)
}
