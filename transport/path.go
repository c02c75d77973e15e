package transport

import (
	"crypto/rand"
	"time"
)

// PathValidationState is RFC 9000 Section 8's path validation status for
// one of a connection's candidate network paths.
type PathValidationState int

const (
	PathValidating PathValidationState = iota
	PathValidated
	PathFailed
)

// MaxPathsPerConnection bounds how many concurrent candidate paths a
// connection tracks, per msquic's path.h/pathid.h QUIC_MAX_PATH_COUNT.
const MaxPathsPerConnection = 4

// PathValidationTimeout is how long a non-primary path may sit unvalidated
// before it is abandoned, per msquic's path.h.
const PathValidationTimeout = 30 * time.Second

// PathStats are the per-path send/receive counters of msquic's
// QUIC_PATH_STATS, surfaced to the metrics layer.
type PathStats struct {
	SentPackets, SentBytes                   uint64
	SuspectedLostPackets, SpuriousLostPackets uint64
	RecvPackets, RecvBytes                   uint64
	DuplicatePackets, DecryptionFailures      uint64
}

// Path is one network path a connection has observed traffic on. The
// transport core is otherwise address-agnostic (RFC 9000's migration model
// only requires distinguishing paths, not interpreting addresses), so Key
// is an opaque correlation token the caller derives from its own socket
// addressing (see the root veneer's remoteConn).
type Path struct {
	Key        string
	Primary    bool
	Validation PathValidationState
	CreatedAt  time.Time
	Stats      PathStats
}

// pathSet is the per-connection collection of candidate paths (spec
// supplement: msquic tracks these per-connection via a PATHID array).
type pathSet struct {
	paths []Path
}

func (ps *pathSet) setPrimary(key string, now time.Time) {
	ps.paths = []Path{{Key: key, Primary: true, Validation: PathValidated, CreatedAt: now}}
}

func (ps *pathSet) find(key string) *Path {
	for i := range ps.paths {
		if ps.paths[i].Key == key {
			return &ps.paths[i]
		}
	}
	return nil
}

// observe records a packet of size n arriving on the path identified by
// key, creating it (pending validation) if new. It reports whether this
// is the first time this path was seen (a migration candidate).
func (ps *pathSet) observe(key string, n int, now time.Time) bool {
	if p := ps.find(key); p != nil {
		p.Stats.RecvPackets++
		p.Stats.RecvBytes += uint64(n)
		return false
	}
	if len(ps.paths) >= MaxPathsPerConnection {
		ps.abandonOldestNonPrimary()
	}
	ps.paths = append(ps.paths, Path{
		Key:        key,
		Validation: PathValidating,
		CreatedAt:  now,
		Stats:      PathStats{RecvPackets: 1, RecvBytes: uint64(n)},
	})
	return true
}

func (ps *pathSet) abandonOldestNonPrimary() {
	oldest := -1
	for i := range ps.paths {
		if ps.paths[i].Primary {
			continue
		}
		if oldest == -1 || ps.paths[i].CreatedAt.Before(ps.paths[oldest].CreatedAt) {
			oldest = i
		}
	}
	if oldest >= 0 {
		ps.paths = append(ps.paths[:oldest], ps.paths[oldest+1:]...)
	}
}

// expireUnvalidated drops non-primary paths that have sat unvalidated past
// PathValidationTimeout, per msquic's path.h abandonment policy.
func (ps *pathSet) expireUnvalidated(now time.Time) {
	kept := ps.paths[:0]
	for _, p := range ps.paths {
		if !p.Primary && p.Validation == PathValidating && now.Sub(p.CreatedAt) > PathValidationTimeout {
			continue
		}
		kept = append(kept, p)
	}
	ps.paths = kept
}

func (ps *pathSet) validate(key string) {
	if p := ps.find(key); p != nil {
		p.Validation = PathValidated
	}
}

func (ps *pathSet) recordSent(key string, n int) {
	if p := ps.find(key); p != nil {
		p.Stats.SentPackets++
		p.Stats.SentBytes += uint64(n)
	}
}

func (ps *pathSet) snapshot() []Path {
	out := make([]Path, len(ps.paths))
	copy(out, ps.paths)
	return out
}

// SetPrimaryPath establishes the initial (handshake) path's correlation
// key. The root veneer calls this once, right after a connection is
// created, using its own addressing scheme.
func (s *Conn) SetPrimaryPath(key string, now time.Time) {
	s.paths.setPrimary(key, now)
}

// ObservePacketPath records that a datagram of size n arrived on the path
// identified by key, emitting EventPeerAddressChanged the first time a
// path other than an already-known one is seen (RFC 9000 Section 9,
// connection migration detection).
func (s *Conn) ObservePacketPath(key string, n int, now time.Time) {
	s.paths.expireUnvalidated(now)
	if s.paths.observe(key, n, now) {
		s.addEvent(newPeerAddressChangedEvent())
		var data [8]byte
		if _, err := rand.Read(data[:]); err == nil {
			s.cids.issuePathChallenge(key, data)
		}
	}
}

// ValidatePath marks the path identified by key as validated, called once
// a PATH_RESPONSE for its challenge has been confirmed.
func (s *Conn) ValidatePath(key string) {
	s.paths.validate(key)
}

// RecordPathSent accounts n bytes sent on the path identified by key.
func (s *Conn) RecordPathSent(key string, n int) {
	s.paths.recordSent(key, n)
}

// Paths returns a snapshot of every path this connection currently tracks.
func (s *Conn) Paths() []Path {
	return s.paths.snapshot()
}
