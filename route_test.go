package quic

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDstConnIDForDatagramLongHeader(t *testing.T) {
	dcid := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	b := []byte{0x80 | 0x01, 0, 0, 0, 1, byte(len(dcid))}
	b = append(b, dcid...)
	b = append(b, 0xff) // scid len byte, rest of packet

	got, ok := dstConnIDForDatagram(b, 8)
	require.True(t, ok)
	require.Equal(t, dcid, got)
}

func TestDstConnIDForDatagramShortHeader(t *testing.T) {
	dcid := []byte{9, 8, 7, 6, 5, 4, 3, 2}
	b := append([]byte{0x40}, dcid...)
	b = append(b, 0xaa, 0xbb)

	got, ok := dstConnIDForDatagram(b, len(dcid))
	require.True(t, ok)
	require.Equal(t, dcid, got)
}

func TestDstConnIDForDatagramTruncated(t *testing.T) {
	_, ok := dstConnIDForDatagram(nil, 8)
	require.False(t, ok)

	_, ok = dstConnIDForDatagram([]byte{0x40, 1, 2}, 8)
	require.False(t, ok)

	// Long header claiming a DCID length that overruns the buffer.
	b := []byte{0x80, 0, 0, 0, 1, 20, 1, 2, 3}
	_, ok = dstConnIDForDatagram(b, 8)
	require.False(t, ok)
}
