package quic

import (
	"bytes"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// partitionByteIndex is the fixed offset of the worker-affinity byte this
// endpoint embeds in every source CID it issues (spec §3, "Source CIDs
// carry a length-prefixed partition-ID byte"). A CID's partition is a
// single byte load away, independent of CID length or the rest of its
// bytes, mirroring msquic's lookup.c partitioning scheme.
const partitionByteIndex = 0

// connLookup is a CID-keyed table of *remoteConn, partitioned across P
// shards so each worker's hot path touches only its own lock — the same
// shape as msquic's lookup.c (QUIC_LOOKUP_HASH_TABLE: a hash table per
// partition, each guarded by its own RW lock) and x/net/internal/quic's
// connsMap (one map keyed by CID), generalized here into N partitions.
// Each partition is itself a small chained hash table keyed by
// xxhash.Sum64(cid) rather than Go's built-in string-keyed map, modeling
// msquic's hand-rolled QUIC_HASHTABLE more closely: nothing in the
// retrieval pack specializes a sharded map for this access pattern, so
// cespare/xxhash/v2 supplies the hash and sync.RWMutex the locking msquic
// gets from a platform QUIC_RW_LOCK per partition.
type connLookup struct {
	mask       byte // PartitionMask, per spec §4.6's worked example
	partitions []lookupPartition
}

type lookupEntry struct {
	cid  []byte
	conn *remoteConn
}

type lookupPartition struct {
	mu      sync.RWMutex
	buckets map[uint64][]lookupEntry
}

func newConnLookup(partitions int) *connLookup {
	if partitions < 1 {
		partitions = 1
	}
	l := &connLookup{mask: partitionMaskFor(partitions), partitions: make([]lookupPartition, partitions)}
	for i := range l.partitions {
		l.partitions[i].buckets = make(map[uint64][]lookupEntry)
	}
	return l
}

// partitionMaskFor returns the smallest all-ones mask covering
// partitions-1, so "(cid_byte & mask) % partitions" (spec §4.6, and the
// worked example in §8 test 3) spreads CIDs evenly once partitions is a
// power of two, and degrades gracefully (extra modulo) otherwise.
func partitionMaskFor(partitions int) byte {
	var mask byte
	for int(mask)+1 < partitions {
		mask = mask<<1 | 1
	}
	return mask
}

// partitionIndex implements spec §4.6's "partition_idx = (cid_byte &
// partition_mask) % P". A CID too short to carry the partition byte
// (shouldn't happen for locally-issued CIDs) lands on partition 0.
func (l *connLookup) partitionIndex(cid []byte) int {
	if len(cid) <= partitionByteIndex {
		return 0
	}
	return int(cid[partitionByteIndex]&l.mask) % len(l.partitions)
}

func (l *connLookup) get(cid []byte) *remoteConn {
	idx := l.partitionIndex(cid)
	p := &l.partitions[idx]
	h := xxhash.Sum64(cid)
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, e := range p.buckets[h] {
		if bytes.Equal(e.cid, cid) {
			return e.conn
		}
	}
	return nil
}

func (l *connLookup) add(cid []byte, c *remoteConn) {
	idx := l.partitionIndex(cid)
	p := &l.partitions[idx]
	h := xxhash.Sum64(cid)
	entry := lookupEntry{cid: append([]byte(nil), cid...), conn: c}
	p.mu.Lock()
	defer p.mu.Unlock()
	bucket := p.buckets[h]
	for i, e := range bucket {
		if bytes.Equal(e.cid, cid) {
			bucket[i] = entry
			return
		}
	}
	p.buckets[h] = append(bucket, entry)
}

func (l *connLookup) remove(cid []byte) {
	idx := l.partitionIndex(cid)
	p := &l.partitions[idx]
	h := xxhash.Sum64(cid)
	p.mu.Lock()
	defer p.mu.Unlock()
	bucket := p.buckets[h]
	for i, e := range bucket {
		if bytes.Equal(e.cid, cid) {
			p.buckets[h] = append(bucket[:i], bucket[i+1:]...)
			return
		}
	}
}

// count reports how many CIDs are currently tracked across every
// partition (spec §4.6 invariant: "CidCount == sum of partition entries").
func (l *connLookup) count() int {
	n := 0
	for i := range l.partitions {
		p := &l.partitions[i]
		p.mu.RLock()
		for _, bucket := range p.buckets {
			n += len(bucket)
		}
		p.mu.RUnlock()
	}
	return n
}

// eachInPartition calls fn for every connection tracked in partition idx —
// a worker's view of its own shard during the periodic timer sweep (spec
// §4.9 step 3). fn must not call back into connLookup.
func (l *connLookup) eachInPartition(idx int, fn func(c *remoteConn)) {
	p := &l.partitions[idx]
	p.mu.RLock()
	conns := make([]*remoteConn, 0, 8)
	for _, bucket := range p.buckets {
		for _, e := range bucket {
			conns = append(conns, e.conn)
		}
	}
	p.mu.RUnlock()
	for _, c := range conns {
		fn(c)
	}
}
