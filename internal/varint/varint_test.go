package varint

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 63, 64, 16383, 16384, 1073741823, 1073741824, Max}
	for _, v := range values {
		b := Put(nil, v)
		require.Equal(t, Len(v), len(b))
		var got uint64
		n, err := Get(b, &got)
		require.NoError(t, err)
		require.Equal(t, len(b), n)
		require.Equal(t, v, got)
	}
}

func TestGetInsufficientInput(t *testing.T) {
	var v uint64
	_, err := Get(nil, &v)
	require.ErrorIs(t, err, ErrInsufficientInput)

	// Claims 8-byte encoding but only one byte is present.
	b := []byte{0xc0}
	_, err = Get(b, &v)
	require.ErrorIs(t, err, ErrInsufficientInput)
}

func TestLenBoundaries(t *testing.T) {
	cases := map[uint64]int{
		0:          1,
		63:         1,
		64:         2,
		16383:      2,
		16384:      4,
		1073741823: 4,
		1073741824: 8,
		Max:        8,
	}
	for v, want := range cases {
		require.Equal(t, want, Len(v), "value %d", v)
	}
}

func TestPutPanicsOnTooLarge(t *testing.T) {
	require.Panics(t, func() {
		Put(nil, Max+1)
	})
}

func TestSkip(t *testing.T) {
	b := Put(nil, 1073741824)
	require.Equal(t, 8, Skip(b))
	require.Equal(t, 0, Skip(b[:3]))
}
