package transport

import (
	"time"

	"github.com/quince-project/quic/internal/ranges"
)

// packetReorderingThreshold is kPacketThreshold from RFC 9002 Section 6.1.1.
const packetReorderingThreshold = 3

// outgoingPacket accumulates the frames chosen for one packet while it is
// being built, and becomes the unit lossRecovery tracks once sent.
type outgoingPacket struct {
	packetNumber uint64
	timeSent     time.Time
	size         uint64
	ackEliciting bool
	frames       []frame
}

func newOutgoingPacket(pn uint64, now time.Time) *outgoingPacket {
	return &outgoingPacket{packetNumber: pn, timeSent: now}
}

// addFrame appends f to the packet, and marks the packet ack-eliciting
// unless f is one of the three frame types RFC 9000 Section 13.2 excludes.
func (op *outgoingPacket) addFrame(f frame) {
	op.frames = append(op.frames, f)
	switch f.(type) {
	case *paddingFrame, *ackFrame, *connectionCloseFrame:
	default:
		op.ackEliciting = true
	}
}

type sentPacketInfo struct {
	packetNumber uint64
	timeSent     time.Time
	size         uint64
	ackEliciting bool
	frames       []frame
}

// lossRecovery implements the per-connection loss detection and recovery
// state machine of RFC 9002: one sent-packet ledger, RTT estimator, and
// probe-timeout clock per packet-number space.
type lossRecovery struct {
	sent  [packetSpaceCount][]sentPacketInfo
	acked [packetSpaceCount][]frame
	lost  [packetSpaceCount][]frame

	largestAckedPN [packetSpaceCount]int64

	probes              int
	ptoCount            int
	maxAckDelay         time.Duration
	lossDetectionTimer  time.Time

	minRTT, smoothedRTT, rttVar time.Duration

	bytesInFlight      uint64
	congestionWindow   uint64
	slowStartThreshold uint64

	lostPNs       [packetSpaceCount]map[uint64]bool
	suspectedLost uint64
	spuriousLost  uint64
}

func (r *lossRecovery) init(now time.Time) {
	for i := range r.largestAckedPN {
		r.largestAckedPN[i] = -1
	}
	r.maxAckDelay = 25 * time.Millisecond
	// RFC 9002 Section 5.3: until the first sample, assume a conservative
	// 333ms RTT.
	r.smoothedRTT = 333 * time.Millisecond
	r.rttVar = r.smoothedRTT / 2
	// RFC 9002 Section 7.2: initial congestion window of 10 datagrams.
	r.congestionWindow = 10 * MinInitialPacketSize
	r.slowStartThreshold = ^uint64(0)
	for i := range r.lostPNs {
		r.lostPNs[i] = make(map[uint64]bool)
	}
}

func (r *lossRecovery) onPacketSent(op *outgoingPacket, space packetSpace) {
	r.sent[space] = append(r.sent[space], sentPacketInfo{
		packetNumber: op.packetNumber,
		timeSent:     op.timeSent,
		size:         op.size,
		ackEliciting: op.ackEliciting,
		frames:       op.frames,
	})
	if op.ackEliciting {
		r.bytesInFlight += op.size
		r.lossDetectionTimer = op.timeSent.Add(r.probeTimeout())
	}
}

func (r *lossRecovery) onAckReceived(acked *ranges.Set, ackDelay time.Duration, space packetSpace, now time.Time) {
	if acked == nil {
		return
	}
	var remaining []sentPacketInfo
	var largestNewlyAckedPN int64 = -1
	var largestNewlyAckedTime time.Time
	for pn := range r.lostPNs[space] {
		if acked.Contains(pn) {
			delete(r.lostPNs[space], pn)
			r.spuriousLost++
		}
	}
	for _, sp := range r.sent[space] {
		if acked.Contains(sp.packetNumber) {
			r.acked[space] = append(r.acked[space], sp.frames...)
			if sp.ackEliciting && r.bytesInFlight >= sp.size {
				r.bytesInFlight -= sp.size
				r.onPacketAckedCC(sp.size)
			}
			if int64(sp.packetNumber) > r.largestAckedPN[space] {
				r.largestAckedPN[space] = int64(sp.packetNumber)
			}
			if int64(sp.packetNumber) > largestNewlyAckedPN {
				largestNewlyAckedPN = int64(sp.packetNumber)
				largestNewlyAckedTime = sp.timeSent
			}
		} else {
			remaining = append(remaining, sp)
		}
	}
	r.sent[space] = remaining
	if largestNewlyAckedPN >= 0 && largestNewlyAckedPN == r.largestAckedPN[space] {
		r.updateRTT(now.Sub(largestNewlyAckedTime), ackDelay)
	}
	r.detectLostPackets(space, now)
	r.ptoCount = 0
}

// updateRTT applies the RFC 9002 Section 5.3 smoothing formulas.
func (r *lossRecovery) updateRTT(sample, ackDelay time.Duration) {
	first := r.minRTT == 0
	if first || sample < r.minRTT {
		r.minRTT = sample
	}
	adjusted := sample
	if ackDelay > r.maxAckDelay {
		ackDelay = r.maxAckDelay
	}
	if adjusted > r.minRTT+ackDelay {
		adjusted -= ackDelay
	}
	if first {
		r.smoothedRTT = adjusted
		r.rttVar = adjusted / 2
		return
	}
	diff := r.smoothedRTT - adjusted
	if diff < 0 {
		diff = -diff
	}
	r.rttVar = (3*r.rttVar + diff) / 4
	r.smoothedRTT = (7*r.smoothedRTT + adjusted) / 8
}

// canSend reports whether the congestion window has room for another
// ack-eliciting packet. Pure ACKs, PATH_RESPONSE, and CONNECTION_CLOSE
// bypass this check at the caller.
func (r *lossRecovery) canSend() bool {
	return r.bytesInFlight < r.congestionWindow
}

// onPacketAckedCC grows the congestion window per RFC 9002 Section 7.3:
// by the acked size in slow start, by one max-datagram per window in
// congestion avoidance.
func (r *lossRecovery) onPacketAckedCC(size uint64) {
	if r.congestionWindow < r.slowStartThreshold {
		r.congestionWindow += size
		return
	}
	r.congestionWindow += MinInitialPacketSize * size / r.congestionWindow
}

// onCongestionEvent halves the window and leaves slow start (RFC 9002
// Section 7.3.2), flooring at two datagrams.
func (r *lossRecovery) onCongestionEvent() {
	r.slowStartThreshold = r.congestionWindow / 2
	if r.slowStartThreshold < 2*MinInitialPacketSize {
		r.slowStartThreshold = 2 * MinInitialPacketSize
	}
	r.congestionWindow = r.slowStartThreshold
}

// detectLostPackets applies the packet- and time-threshold tests of RFC
// 9002 Section 6.1.
func (r *lossRecovery) detectLostPackets(space packetSpace, now time.Time) {
	if r.largestAckedPN[space] < 0 {
		return
	}
	lossDelay := (r.smoothedRTT + 4*r.rttVar) * 9 / 8
	if lossDelay < time.Millisecond {
		lossDelay = time.Millisecond
	}
	var remaining []sentPacketInfo
	anyLost := false
	for _, sp := range r.sent[space] {
		lost := int64(sp.packetNumber)+packetReorderingThreshold <= r.largestAckedPN[space] ||
			now.Sub(sp.timeSent) > lossDelay
		if lost {
			r.lost[space] = append(r.lost[space], sp.frames...)
			if sp.ackEliciting && r.bytesInFlight >= sp.size {
				r.bytesInFlight -= sp.size
			}
			r.lostPNs[space][sp.packetNumber] = true
			r.suspectedLost++
			anyLost = true
		} else {
			remaining = append(remaining, sp)
		}
	}
	r.sent[space] = remaining
	if anyLost {
		r.onCongestionEvent()
	}
}

func (r *lossRecovery) drainAcked(space packetSpace, fn func(frame)) {
	for _, f := range r.acked[space] {
		fn(f)
	}
	r.acked[space] = r.acked[space][:0]
}

func (r *lossRecovery) drainLost(space packetSpace, fn func(frame)) {
	for _, f := range r.lost[space] {
		fn(f)
	}
	r.lost[space] = r.lost[space][:0]
}

// dropUnackedData discards all recovery state for space, called when the
// space's keys are dropped (RFC 9001 Section 4.9).
func (r *lossRecovery) dropUnackedData(space packetSpace) {
	r.sent[space] = nil
	r.acked[space] = nil
	r.lost[space] = nil
	r.largestAckedPN[space] = -1
	r.lostPNs[space] = make(map[uint64]bool)
}

// probeTimeout computes the PTO interval of RFC 9002 Section 6.2.1,
// doubled once per consecutive expiry (exponential backoff).
func (r *lossRecovery) probeTimeout() time.Duration {
	varFactor := 4 * r.rttVar
	if varFactor < time.Millisecond {
		varFactor = time.Millisecond
	}
	pto := r.smoothedRTT + varFactor + r.maxAckDelay
	return pto << uint(r.ptoCount)
}

func (r *lossRecovery) onLossDetectionTimeout(now time.Time) {
	if r.lossDetectionTimer.IsZero() || now.Before(r.lossDetectionTimer) {
		return
	}
	r.ptoCount++
	r.probes += 2
	r.lossDetectionTimer = time.Time{}
}
