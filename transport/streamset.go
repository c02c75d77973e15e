package transport

// streamMap owns every stream on a connection, and enforces the bidi/uni
// stream-count limits advertised by each side (RFC 9000 Section 4.6).
type streamMap struct {
	streams map[uint64]*Stream
	// order and cursor back sendOrder's round-robin over send-pending
	// streams (msquic's stream_set.c default scheduling): without it, a
	// flush that runs out of frame budget mid-list always starves the
	// same tail of streams.
	order  []uint64
	cursor int

	// waiting parks locally-opened streams that exceeded the peer's
	// MAX_STREAMS budget; they hold application writes but never flush
	// until a raised budget promotes them, lowest id first.
	waiting      map[uint64]*Stream
	waitingOrder []uint64 // ascending

	streamsBlockedBidi bool
	streamsBlockedUni  bool

	localMaxStreamsBidi uint64
	localMaxStreamsUni  uint64

	peerMaxStreamsBidi uint64
	peerMaxStreamsUni  uint64

	localOpenedBidi uint64
	localOpenedUni  uint64
	peerOpenedBidi  uint64
	peerOpenedUni   uint64

	// maxStreamsBidiDirty/Uni mark that removeIfClosed raised the
	// corresponding advertised limit and a MAX_STREAMS frame carrying the
	// new value is owed to the peer (msquic's stream_set.c "replenish the
	// budget" behavior).
	maxStreamsBidiDirty bool
	maxStreamsUniDirty  bool
}

func (m *streamMap) init(localMaxBidi, localMaxUni uint64) {
	m.streams = make(map[uint64]*Stream)
	m.waiting = make(map[uint64]*Stream)
	m.localMaxStreamsBidi = localMaxBidi
	m.localMaxStreamsUni = localMaxUni
}

func (m *streamMap) get(id uint64) *Stream {
	if st := m.streams[id]; st != nil {
		return st
	}
	return m.waiting[id]
}

// create allocates a new locally-initiated stream with the given id. If
// the peer-advertised MAX_STREAMS budget for its type is exhausted, the
// stream is still returned as a usable handle but parked on the waiting
// list — writes queue up, nothing flushes — and the STREAMS_BLOCKED flag
// for its type is raised. Peer-initiated streams go through createIncoming
// instead, since receiving a frame for one implicitly opens every
// lower-numbered stream of the same type too (RFC 9000 Section 2.1).
func (m *streamMap) create(id uint64, bidi bool) (*Stream, error) {
	st := &Stream{}
	st.init(id, bidi)
	var opened *uint64
	var max uint64
	if bidi {
		opened, max = &m.localOpenedBidi, m.peerMaxStreamsBidi
	} else {
		opened, max = &m.localOpenedUni, m.peerMaxStreamsUni
	}
	if *opened >= max {
		m.waiting[id] = st
		m.waitingOrder = insertSorted(m.waitingOrder, id)
		if bidi {
			m.streamsBlockedBidi = true
		} else {
			m.streamsBlockedUni = true
		}
		return st, nil
	}
	*opened++
	m.streams[id] = st
	m.order = append(m.order, id)
	return st, nil
}

func insertSorted(ids []uint64, id uint64) []uint64 {
	i := 0
	for i < len(ids) && ids[i] < id {
		i++
	}
	ids = append(ids, 0)
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	return ids
}

// createIncoming auto-creates every not-yet-existing peer-initiated stream
// of the same type up to and including id, per RFC 9000 Section 2.1
// ("opening a stream of a particular type... is required to implicitly
// open ... all streams of the same type with lower-numbered stream IDs").
// The type-local index (id>>2) is checked against the locally advertised
// MAX_STREAMS for that type (spec §7 STREAM_LIMIT_ERROR), so a peer cannot
// bypass the limit by skipping straight to a high id. Returns every newly
// created stream in ascending id order.
func (m *streamMap) createIncoming(id uint64, bidi bool) ([]*Stream, error) {
	index := id >> 2
	var maxStreams, opened *uint64
	if bidi {
		maxStreams, opened = &m.localMaxStreamsBidi, &m.peerOpenedBidi
	} else {
		maxStreams, opened = &m.localMaxStreamsUni, &m.peerOpenedUni
	}
	if index >= *maxStreams {
		if bidi {
			return nil, newError(StreamLimitError, "bidi streams")
		}
		return nil, newError(StreamLimitError, "uni streams")
	}
	typeBits := id & 0x3
	var created []*Stream
	for i := *opened; i <= index; i++ {
		sid := (i << 2) | typeBits
		if _, exists := m.streams[sid]; exists {
			continue
		}
		st := &Stream{}
		st.init(sid, bidi)
		m.streams[sid] = st
		m.order = append(m.order, sid)
		created = append(created, st)
	}
	if index+1 > *opened {
		*opened = index + 1
	}
	return created, nil
}

// removeIfClosed deletes a fully-closed peer-initiated stream from the map
// and send-order list — RFC 9000 Section 2.1/4.6's "closed" stream state —
// and raises the advertised MAX_STREAMS limit for its type by one to
// replenish the budget it freed (msquic's stream_set.c
// QuicStreamSetReleaseStreamCapacity). Reports whether the stream was
// removed.
func (m *streamMap) removeIfClosed(id uint64) bool {
	st := m.streams[id]
	if st == nil || !st.closed(false) {
		return false
	}
	delete(m.streams, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	if m.cursor > len(m.order) {
		m.cursor = 0
	}
	if st.bidi {
		m.localMaxStreamsBidi++
		m.maxStreamsBidiDirty = true
	} else {
		m.localMaxStreamsUni++
		m.maxStreamsUniDirty = true
	}
	return true
}

// sendOrder returns every stream id in round-robin order, starting right
// after whichever id advanceSendCursor last rotated past. Call
// advanceSendCursor once per flush so consecutive flushes don't all begin
// (and potentially exhaust their budget on) the same streams.
func (m *streamMap) sendOrder() []uint64 {
	n := len(m.order)
	if n == 0 {
		return nil
	}
	if m.cursor >= n {
		m.cursor = 0
	}
	ids := make([]uint64, n)
	for i := 0; i < n; i++ {
		ids[i] = m.order[(m.cursor+i)%n]
	}
	return ids
}

// advanceSendCursor rotates the starting point sendOrder will use next.
func (m *streamMap) advanceSendCursor() {
	if len(m.order) > 0 {
		m.cursor = (m.cursor + 1) % len(m.order)
	}
}

// setPeerMaxStreams applies a (possibly raised) peer MAX_STREAMS budget,
// promoting waiting streams of that type in ascending id order until the
// new budget is spent. It reports whether the budget actually grew.
func (m *streamMap) setPeerMaxStreams(bidi bool, v uint64) bool {
	var limit *uint64
	if bidi {
		limit = &m.peerMaxStreamsBidi
	} else {
		limit = &m.peerMaxStreamsUni
	}
	if v <= *limit {
		return false
	}
	*limit = v
	if bidi {
		m.streamsBlockedBidi = false
	} else {
		m.streamsBlockedUni = false
	}
	m.promoteWaiting(bidi)
	return true
}

// promoteWaiting moves waiting streams of the given type into the active
// set, lowest id first, while the peer budget allows.
func (m *streamMap) promoteWaiting(bidi bool) {
	var opened *uint64
	var max uint64
	if bidi {
		opened, max = &m.localOpenedBidi, m.peerMaxStreamsBidi
	} else {
		opened, max = &m.localOpenedUni, m.peerMaxStreamsUni
	}
	remaining := m.waitingOrder[:0]
	for _, id := range m.waitingOrder {
		if isStreamBidi(id) != bidi || *opened >= max {
			remaining = append(remaining, id)
			continue
		}
		st := m.waiting[id]
		delete(m.waiting, id)
		m.streams[id] = st
		m.order = append(m.order, id)
		*opened++
	}
	m.waitingOrder = remaining
}

// hasFlushable reports whether any stream has data or flow-control updates
// pending, so writeSpace() knows Application packets are worth building.
func (m *streamMap) hasFlushable() bool {
	if m.maxStreamsBidiDirty || m.maxStreamsUniDirty {
		return true
	}
	if m.streamsBlockedBidi || m.streamsBlockedUni {
		return true
	}
	for _, st := range m.streams {
		if st.send.hasPending() {
			return true
		}
		if st.updateMaxData {
			return true
		}
	}
	return false
}

// hasSendPendingData reports whether any active stream still has unsent
// payload bytes, the condition under which exhausted connection credit is
// worth reporting via DATA_BLOCKED.
func (m *streamMap) hasSendPendingData() bool {
	for _, st := range m.streams {
		if st.send.sendOffset < uint64(len(st.send.data)) || len(st.send.lost) > 0 {
			return true
		}
	}
	return false
}

// isStreamLocal reports whether id was initiated by this endpoint.
func isStreamLocal(id uint64, isClient bool) bool {
	clientInitiated := id&0x1 == 0
	return clientInitiated == isClient
}

// isStreamBidi reports whether id names a bidirectional stream.
func isStreamBidi(id uint64) bool {
	return id&0x2 == 0
}
