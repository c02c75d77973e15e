package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStreamMapSendOrderRotates(t *testing.T) {
	m := streamMap{}
	m.init(10, 10)
	created, err := m.createIncoming(8, true)
	require.NoError(t, err)
	require.Len(t, created, 3, "createIncoming auto-creates every lower-numbered stream of the same type too")

	require.Equal(t, []uint64{0, 4, 8}, m.sendOrder())
	m.advanceSendCursor()
	require.Equal(t, []uint64{4, 8, 0}, m.sendOrder())
	m.advanceSendCursor()
	require.Equal(t, []uint64{8, 0, 4}, m.sendOrder())
	m.advanceSendCursor()
	require.Equal(t, []uint64{0, 4, 8}, m.sendOrder(), "cursor wraps back to the start")
}

func TestStreamMapSendOrderEmpty(t *testing.T) {
	m := streamMap{}
	m.init(10, 10)
	require.Nil(t, m.sendOrder())
	m.advanceSendCursor() // must not panic on an empty map
}

// TestCreateIncomingEnforcesStreamLimit guards against a peer skipping
// straight to a high stream id to dodge the advertised MAX_STREAMS limit:
// with only 2 bidi streams announced, id 8 (type-local index 2) must be
// rejected even though no stream has been created yet.
func TestCreateIncomingEnforcesStreamLimit(t *testing.T) {
	m := streamMap{}
	m.init(2, 2)
	_, err := m.createIncoming(8, true)
	require.Error(t, err)
	require.Empty(t, m.streams)
}

// TestCreateIncomingAutoCreatesLowerStreams mirrors the in-order case: a
// frame for id 4 (index 1, within the limit of 2) must bring stream 0 along
// with it.
func TestCreateIncomingAutoCreatesLowerStreams(t *testing.T) {
	m := streamMap{}
	m.init(2, 2)
	created, err := m.createIncoming(4, true)
	require.NoError(t, err)
	require.Len(t, created, 2)
	require.Contains(t, m.streams, uint64(0))
	require.Contains(t, m.streams, uint64(4))
}

// TestCreateIncomingSkipsAlreadyCreated checks that a later frame for a
// higher id in the same type doesn't re-create (or double-count) a stream
// that an earlier frame already brought into existence.
func TestCreateIncomingSkipsAlreadyCreated(t *testing.T) {
	m := streamMap{}
	m.init(10, 10)
	_, err := m.createIncoming(0, true)
	require.NoError(t, err)
	created, err := m.createIncoming(4, true)
	require.NoError(t, err)
	require.Len(t, created, 1)
	require.Equal(t, uint64(4), created[0].id)
}

// TestCreateBlockedParksOnWaitingList covers the local-open path against an
// exhausted peer budget: the stream handle is still returned (writes
// queue), it never enters the flushable set, and STREAMS_BLOCKED is owed.
// Raising the budget promotes waiting streams lowest-id-first.
func TestCreateBlockedParksOnWaitingList(t *testing.T) {
	m := streamMap{}
	m.init(10, 10)
	m.setPeerMaxStreams(true, 1)

	first, err := m.create(0, true)
	require.NoError(t, err)
	require.NotNil(t, first)
	require.False(t, m.streamsBlockedBidi)

	blocked, err := m.create(4, true)
	require.NoError(t, err)
	require.NotNil(t, blocked)
	require.True(t, m.streamsBlockedBidi)
	require.Same(t, blocked, m.get(4), "a parked stream is still addressable")
	require.NotContains(t, m.streams, uint64(4))
	require.Equal(t, []uint64{0}, m.sendOrder(), "a parked stream must not flush")

	require.True(t, m.setPeerMaxStreams(true, 2))
	require.False(t, m.streamsBlockedBidi)
	require.Contains(t, m.streams, uint64(4))
	require.Empty(t, m.waitingOrder)
}

func TestPromoteWaitingLowestFirst(t *testing.T) {
	m := streamMap{}
	m.init(10, 10)
	m.setPeerMaxStreams(false, 0)

	for _, id := range []uint64{10, 2, 6} { // uni type bits 0x2
		_, err := m.create(id, false)
		require.NoError(t, err)
	}
	require.Equal(t, []uint64{2, 6, 10}, m.waitingOrder)

	m.setPeerMaxStreams(false, 2)
	require.Contains(t, m.streams, uint64(2))
	require.Contains(t, m.streams, uint64(6))
	require.NotContains(t, m.streams, uint64(10))
	require.Equal(t, []uint64{10}, m.waitingOrder)
}

// TestRemoveIfClosedReplenishesMaxStreams exercises the stream-GC path: once
// a peer-initiated stream finishes in both directions, it should leave the
// active map and the advertised limit for its type should go up by one.
func TestRemoveIfClosedReplenishesMaxStreams(t *testing.T) {
	m := streamMap{}
	m.init(1, 1)
	created, err := m.createIncoming(0, true)
	require.NoError(t, err)
	require.Len(t, created, 1)
	st := created[0]

	require.False(t, m.removeIfClosed(0), "still open: neither side has finished")

	// Our reply on this peer-initiated bidi stream is fully acked,
	// including the frame that carried FIN...
	st.send.write([]byte("hi"))
	st.send.close()
	st.send.ack(0, 2)
	st.send.ackFin()
	// ...and the peer's data, including FIN, has been delivered to the app.
	require.NoError(t, st.recv.push([]byte("ok"), 0, true))
	var buf [2]byte
	n, err := st.recv.read(buf[:])
	require.NoError(t, err)
	require.Equal(t, 2, n)

	require.True(t, m.removeIfClosed(0))
	require.NotContains(t, m.streams, uint64(0))
	require.Equal(t, uint64(2), m.localMaxStreamsBidi)
	require.True(t, m.maxStreamsBidiDirty)
}
