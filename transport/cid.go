package transport

// peerCID is one alternate destination connection ID the peer offered us
// via a NEW_CONNECTION_ID frame (RFC 9000 Section 5.1.1), available as a
// migration target.
type peerCID struct {
	sequenceNumber uint64
	cid            []byte
	resetToken     [16]byte
}

// cidManager tracks the peer's pool of alternate connection IDs and the
// state of an in-flight path validation (RFC 9000 Sections 5.1 and 8.2).
// It does not issue additional local connection IDs: this implementation
// keeps a single source CID for the connection's lifetime, so there is
// nothing for peerRetirePriorTo-style churn to drive on the local side.
type cidManager struct {
	peerCIDs           []peerCID
	retiredPeerSeq     uint64
	pendingRetire      []uint64
	activeCIDLimit     uint64

	challengeOut       [8]byte
	challengePending   bool
	challengeKey       string
	pendingChallenge   *pathChallengeFrame
	pendingResponse    *pathResponseFrame
}

func (m *cidManager) init(activeCIDLimit uint64) {
	m.activeCIDLimit = activeCIDLimit
}

// recvNewConnectionID stores a peer-offered CID, enforcing the active
// connection ID limit and retiring any CID sequence numbers the frame's
// Retire Prior To field obsoletes.
func (m *cidManager) recvNewConnectionID(f *newConnectionIDFrame) error {
	if f.sequenceNumber < m.retiredPeerSeq {
		return nil // already retired, a harmless duplicate/reorder
	}
	for _, c := range m.peerCIDs {
		if c.sequenceNumber == f.sequenceNumber {
			return nil // duplicate
		}
	}
	m.peerCIDs = append(m.peerCIDs, peerCID{
		sequenceNumber: f.sequenceNumber,
		cid:            append([]byte(nil), f.cid...),
		resetToken:     f.resetToken,
	})
	if f.retirePriorTo > m.retiredPeerSeq {
		m.retiredPeerSeq = f.retirePriorTo
	}
	remaining := m.peerCIDs[:0]
	for _, c := range m.peerCIDs {
		if c.sequenceNumber < m.retiredPeerSeq {
			m.pendingRetire = append(m.pendingRetire, c.sequenceNumber)
		} else {
			remaining = append(remaining, c)
		}
	}
	m.peerCIDs = remaining
	if uint64(len(m.peerCIDs)) > m.activeCIDLimit {
		return newError(ProtocolViolation, "too many active connection ids")
	}
	return nil
}

// recvRetireConnectionID acknowledges the peer no longer needs one of our
// issued connection IDs. With only one locally issued CID this is a no-op
// beyond bounds checking.
func (m *cidManager) recvRetireConnectionID(f *retireConnectionIDFrame) error {
	if f.sequenceNumber > 0 {
		return newError(ProtocolViolation, "retired connection id was never issued")
	}
	return nil
}

// recvPathChallenge queues a PATH_RESPONSE echoing the challenge data, per
// RFC 9000 Section 8.2.2 ("MUST ... respond ... in the same data").
func (m *cidManager) recvPathChallenge(f *pathChallengeFrame) {
	m.pendingResponse = &pathResponseFrame{data: f.data}
}

// issuePathChallenge arms a PATH_CHALLENGE to be sent on the path identified
// by key, per RFC 9000 Section 8.2.1. Overwrites any challenge already in
// flight: only one path is ever being probed at a time in this
// implementation.
func (m *cidManager) issuePathChallenge(key string, data [8]byte) {
	m.challengeOut = data
	m.challengePending = true
	m.challengeKey = key
	m.pendingChallenge = &pathChallengeFrame{data: data}
}

// popPendingChallenge returns and clears a queued PATH_CHALLENGE, if any.
func (m *cidManager) popPendingChallenge() *pathChallengeFrame {
	f := m.pendingChallenge
	m.pendingChallenge = nil
	return f
}

// recvPathResponse validates a response against our last issued challenge
// (RFC 9000 Section 8.2.3), returning the key of the path it validates.
func (m *cidManager) recvPathResponse(f *pathResponseFrame) (string, bool) {
	if !m.challengePending {
		return "", false
	}
	if f.data != m.challengeOut {
		return "", false
	}
	m.challengePending = false
	return m.challengeKey, true
}

// hasResetToken reports whether tok matches any reset token the peer
// attached to a NEW_CONNECTION_ID frame.
func (m *cidManager) hasResetToken(tok [16]byte) bool {
	for _, c := range m.peerCIDs {
		if c.resetToken == tok {
			return true
		}
	}
	return false
}

// popPendingResponse returns and clears a queued PATH_RESPONSE, if any.
func (m *cidManager) popPendingResponse() *pathResponseFrame {
	f := m.pendingResponse
	m.pendingResponse = nil
	return f
}

// popPendingRetire returns and clears one queued RETIRE_CONNECTION_ID
// sequence number to send, if any.
func (m *cidManager) popPendingRetire() (uint64, bool) {
	if len(m.pendingRetire) == 0 {
		return 0, false
	}
	seq := m.pendingRetire[0]
	m.pendingRetire = m.pendingRetire[1:]
	return seq, true
}
