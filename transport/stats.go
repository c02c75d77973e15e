package transport

// Stats are the connection-level counters named in spec §4.12/§4.13 and
// surfaced to operators via the engine's metrics package: decrypt/duplicate
// accounting from the receive engine, loss-detection accounting from the
// send engine's recovery state.
type Stats struct {
	// DecryptionFailures counts packets whose AEAD open failed (spec
	// §4.13 step 4: "Decrypt failure: increment DecryptionFailures, drop").
	DecryptionFailures uint64
	// DuplicatePackets counts packets whose packet number was already in
	// the receive range set (spec §4.13 step 5).
	DuplicatePackets uint64
	// SuspectedLostPackets counts packets the loss detector declared lost
	// by packet- or time-threshold (spec §4.12, RFC 9002 §6.1).
	SuspectedLostPackets uint64
	// SpuriousLostPackets counts packets declared lost that a later ACK
	// showed were in fact delivered (spec §4.12).
	SpuriousLostPackets uint64
}

// Stats returns a snapshot of this connection's operational counters.
func (s *Conn) Stats() Stats {
	st := s.stats
	st.SuspectedLostPackets = s.recovery.suspectedLost
	st.SpuriousLostPackets = s.recovery.spuriousLost
	return st
}
