package quic

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPartitionMaskFor(t *testing.T) {
	require.Equal(t, byte(0x03), partitionMaskFor(4))
	require.Equal(t, byte(0x00), partitionMaskFor(1))
	require.Equal(t, byte(0x07), partitionMaskFor(5))
}

// TestPartitionIndexWorkedExample exercises the exact scenario worked
// through by the partitioning example: PartitionCount=4, PartitionMask=0x03,
// and a CID whose affinity byte is 0x05 must land on partition
// (0x05 & 0x03) % 4 == 1.
func TestPartitionIndexWorkedExample(t *testing.T) {
	l := newConnLookup(4)
	require.Equal(t, byte(0x03), l.mask)
	cid := []byte{0x05, 0xaa, 0xbb, 0xcc}
	require.Equal(t, 1, l.partitionIndex(cid))
}

func TestConnLookupAddGetRemove(t *testing.T) {
	l := newConnLookup(4)
	cid := []byte{0x05, 1, 2, 3, 4, 5, 6, 7}
	rc := &remoteConn{scid: cid}
	l.add(cid, rc)
	require.Equal(t, 1, l.count())
	got := l.get(cid)
	require.Same(t, rc, got)

	l.remove(cid)
	require.Equal(t, 0, l.count())
	require.Nil(t, l.get(cid))
}

func TestConnLookupHashCollisionWithinPartition(t *testing.T) {
	l := newConnLookup(1) // force every CID into the same partition
	cidA := []byte{0x00, 1, 2, 3}
	cidB := []byte{0x00, 9, 9, 9}
	rcA := &remoteConn{scid: cidA}
	rcB := &remoteConn{scid: cidB}
	l.add(cidA, rcA)
	l.add(cidB, rcB)
	require.Equal(t, 2, l.count())
	require.Same(t, rcA, l.get(cidA))
	require.Same(t, rcB, l.get(cidB))
}

func TestConnLookupEachInPartition(t *testing.T) {
	l := newConnLookup(2)
	var inPartition0 []*remoteConn
	for i := byte(0); i < 10; i++ {
		cid := []byte{i, 0, 0, 0}
		rc := &remoteConn{scid: cid}
		l.add(cid, rc)
		if l.partitionIndex(cid) == 0 {
			inPartition0 = append(inPartition0, rc)
		}
	}
	var seen int
	l.eachInPartition(0, func(c *remoteConn) { seen++ })
	require.Equal(t, len(inPartition0), seen)
}

func TestPartitionIndexShortCID(t *testing.T) {
	l := newConnLookup(4)
	require.Equal(t, 0, l.partitionIndex(nil))
}
