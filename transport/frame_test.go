package transport

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quince-project/quic/internal/ranges"
)

// TestAckFrameRangeSetRoundTrip drives the ACK codec through the range-set
// representation both ways: the set of received packet numbers must survive
// newAckFrame → encode → decode → toRangeSet unchanged.
func TestAckFrameRangeSetRoundTrip(t *testing.T) {
	cases := [][]ranges.Range{
		{{Low: 0, Count: 1}},
		{{Low: 0, Count: 3}, {Low: 5, Count: 2}},
		{{Low: 0, Count: 2}, {Low: 5, Count: 1}, {Low: 1000, Count: 50}},
		{{Low: 3, Count: 1}, {Low: 5, Count: 1}, {Low: 7, Count: 1}},
	}
	for _, rs := range cases {
		var recv recvRangeSet
		recv.Init(0)
		for _, r := range rs {
			recv.Add(r.Low, r.Count)
		}
		f := newAckFrame(0, recv)
		require.NotNil(t, f)

		b := f.encode(nil)
		var decoded ackFrame
		n, err := decoded.decode(b)
		require.NoError(t, err)
		require.Equal(t, len(b), n)

		got := decoded.toRangeSet()
		require.NotNil(t, got)
		require.Equal(t, len(rs), got.Size())
		for i, want := range rs {
			require.Equal(t, want, got.Get(i), "range %d of %v", i, rs)
		}
	}
}

func TestAckFrameRejectsUnderflowingGap(t *testing.T) {
	f := ackFrame{largestAck: 5, firstAckRange: 1, ranges: []ackRange{{gap: 10, count: 0}}}
	require.Nil(t, f.toRangeSet())
}

func TestStreamFrameRoundTrip(t *testing.T) {
	f := newStreamFrame(4, []byte("payload"), 100, true)
	b := f.encode(nil)
	var got streamFrame
	n, err := got.decode(b)
	require.NoError(t, err)
	require.Equal(t, len(b), n)
	require.Equal(t, f.streamID, got.streamID)
	require.Equal(t, f.offset, got.offset)
	require.Equal(t, f.data, got.data)
	require.True(t, got.fin)
}

func TestStreamFrameFinOnly(t *testing.T) {
	f := newStreamFrame(4, nil, 7, true)
	b := f.encode(nil)
	var got streamFrame
	_, err := got.decode(b)
	require.NoError(t, err)
	require.Empty(t, got.data)
	require.EqualValues(t, 7, got.offset)
	require.True(t, got.fin)
}

func TestConnectionCloseFrameRoundTrip(t *testing.T) {
	f := newConnectionCloseFrame(0x0a, 0x1c, []byte("went away"), false)
	b := f.encode(nil)
	var got connectionCloseFrame
	n, err := got.decode(b)
	require.NoError(t, err)
	require.Equal(t, len(b), n)
	require.Equal(t, f.errorCode, got.errorCode)
	require.Equal(t, f.frameType, got.frameType)
	require.Equal(t, f.reasonPhrase, got.reasonPhrase)
	require.False(t, got.application)
}

func TestNewConnectionIDFrameRoundTrip(t *testing.T) {
	f := newConnectionIDFrame{
		sequenceNumber: 3,
		retirePriorTo:  1,
		cid:            []byte{1, 2, 3, 4, 5, 6, 7, 8},
	}
	for i := range f.resetToken {
		f.resetToken[i] = byte(i)
	}
	b := f.encode(nil)
	var got newConnectionIDFrame
	n, err := got.decode(b)
	require.NoError(t, err)
	require.Equal(t, len(b), n)
	require.Equal(t, f.sequenceNumber, got.sequenceNumber)
	require.Equal(t, f.retirePriorTo, got.retirePriorTo)
	require.Equal(t, f.cid, got.cid)
	require.Equal(t, f.resetToken, got.resetToken)
}

func TestEncodeFramesShortBuffer(t *testing.T) {
	buf := make([]byte, 4)
	_, err := encodeFrames(buf, []frame{newCryptoFrame(make([]byte, 100), 0)})
	require.Error(t, err)
}

func TestEncodeFramesWritesAtStart(t *testing.T) {
	buf := make([]byte, 64)
	n, err := encodeFrames(buf, []frame{&pingFrame{}, newPaddingFrame(3)})
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, byte(frameTypePing), buf[0])
	require.Equal(t, []byte{0, 0, 0}, buf[1:4])
}
