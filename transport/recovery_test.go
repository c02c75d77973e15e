package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quince-project/quic/internal/ranges"
)

func sendTestPacket(r *lossRecovery, pn uint64, now time.Time) {
	op := newOutgoingPacket(pn, now)
	op.addFrame(newStreamFrame(0, []byte("data"), (pn-1)*4, false))
	op.size = 1200
	r.onPacketSent(op, packetSpaceApplication)
}

// TestLossDetectionPacketThreshold replays the recovery scenario: five
// stream-bearing packets, an ACK for {3,4,5}, and the packet-threshold
// rule declaring 1 and 2 lost. A late ACK for one of them must then be
// recognized as spurious.
func TestLossDetectionPacketThreshold(t *testing.T) {
	var r lossRecovery
	now := time.Now()
	r.init(now)
	for pn := uint64(1); pn <= 5; pn++ {
		sendTestPacket(&r, pn, now)
	}
	require.EqualValues(t, 5*1200, r.bytesInFlight)

	acked := ranges.New(0)
	acked.Add(3, 3)
	r.onAckReceived(acked, 0, packetSpaceApplication, now.Add(10*time.Millisecond))

	require.EqualValues(t, 2, r.suspectedLost)
	var lostFrames []frame
	r.drainLost(packetSpaceApplication, func(f frame) { lostFrames = append(lostFrames, f) })
	require.Len(t, lostFrames, 2, "stream frames of PNs 1 and 2 must be re-queued")
	require.Zero(t, r.bytesInFlight, "acked and lost packets both leave the in-flight count")

	late := ranges.New(0)
	late.Add(1, 1)
	r.onAckReceived(late, 0, packetSpaceApplication, now.Add(20*time.Millisecond))
	require.EqualValues(t, 1, r.spuriousLost)
}

func TestCongestionControlSlowStartAndLoss(t *testing.T) {
	var r lossRecovery
	now := time.Now()
	r.init(now)
	start := r.congestionWindow

	sendTestPacket(&r, 1, now)
	acked := ranges.New(0)
	acked.Add(1, 1)
	r.onAckReceived(acked, 0, packetSpaceApplication, now.Add(5*time.Millisecond))
	require.Equal(t, start+1200, r.congestionWindow, "slow start grows by the acked size")

	// Packets 2..6 out, ACK only 6: 2 and 3 go lost, halving the window.
	for pn := uint64(2); pn <= 6; pn++ {
		sendTestPacket(&r, pn, now)
	}
	acked = ranges.New(0)
	acked.Add(6, 1)
	r.onAckReceived(acked, 0, packetSpaceApplication, now.Add(10*time.Millisecond))
	require.Equal(t, (start+1200+1200)/2, r.congestionWindow)
	require.Equal(t, r.congestionWindow, r.slowStartThreshold)
}

func TestCanSendGate(t *testing.T) {
	var r lossRecovery
	r.init(time.Now())
	require.True(t, r.canSend())
	r.bytesInFlight = r.congestionWindow
	require.False(t, r.canSend())
}

func TestProbeTimeoutBacksOff(t *testing.T) {
	var r lossRecovery
	now := time.Now()
	r.init(now)
	base := r.probeTimeout()
	r.onLossDetectionTimeout(now) // timer unset: no-op
	require.Zero(t, r.ptoCount)

	sendTestPacket(&r, 1, now)
	r.onLossDetectionTimeout(now.Add(10 * time.Second))
	require.Equal(t, 1, r.ptoCount)
	require.Equal(t, 2, r.probes, "a PTO expiry arms two probe packets")
	require.Equal(t, base*2, r.probeTimeout())
}
