package ranges

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestAckSimulation reproduces the literal scenario from the spec: insert
// 10000, 10001, 10003, 10002 one at a time and check size() after each,
// then remove in two steps.
func TestAckSimulation(t *testing.T) {
	s := New(0)
	require.True(t, s.Add(10000, 1))
	require.Equal(t, 1, s.Size())
	require.True(t, s.Add(10001, 1))
	require.Equal(t, 1, s.Size())
	require.True(t, s.Add(10003, 1))
	require.Equal(t, 2, s.Size())
	require.True(t, s.Add(10002, 1))
	require.Equal(t, 1, s.Size())

	s.Remove(10000, 2)
	require.Equal(t, 1, s.Size())
	min, ok := s.Min()
	require.True(t, ok)
	require.EqualValues(t, 10002, min)
	max, ok := s.Max()
	require.True(t, ok)
	require.EqualValues(t, 10003, max)

	s.Remove(10002, 2)
	require.Equal(t, 0, s.Size())
}

func TestAddMergeAdjacent(t *testing.T) {
	s := New(0)
	s.Add(10, 5) // [10,15)
	s.Add(15, 5) // [15,20) touches -> merge
	require.Equal(t, 1, s.Size())
	require.Equal(t, Range{Low: 10, Count: 10}, s.Get(0))
}

func TestAddOverlap(t *testing.T) {
	s := New(0)
	s.Add(0, 10)
	s.Add(5, 20) // overlaps, extends high end
	require.Equal(t, 1, s.Size())
	require.Equal(t, Range{Low: 0, Count: 25}, s.Get(0))
}

func TestAddNoNewElement(t *testing.T) {
	s := New(0)
	require.True(t, s.Add(0, 10))
	require.False(t, s.Add(2, 3)) // already fully contained
}

func TestRemoveSplit(t *testing.T) {
	s := New(0)
	s.Add(0, 10) // [0,10)
	s.Remove(3, 2)
	require.Equal(t, 2, s.Size())
	require.Equal(t, Range{Low: 0, Count: 3}, s.Get(0))
	require.Equal(t, Range{Low: 5, Count: 5}, s.Get(1))
}

func TestSearch(t *testing.T) {
	s := New(0)
	s.Add(10, 5) // [10,15)
	s.Add(20, 5) // [20,25)

	idx := s.Search(12, 12)
	require.True(t, IsMatch(idx))
	require.Equal(t, 0, Index(idx))

	idx = s.Search(16, 16)
	require.False(t, IsMatch(idx))
	require.Equal(t, 1, Index(idx)) // would insert between the two ranges
}

func TestAddRemoveIdempotent(t *testing.T) {
	s := New(0)
	s.Add(100, 10)
	before := append([]Range(nil), s.ranges...)
	require.True(t, s.Add(200, 5))
	s.Remove(200, 5)
	require.Equal(t, before, s.ranges)
}

func TestCapEvictsLowestOnHighInsert(t *testing.T) {
	s := New(3 * rangeSize) // room for 3 disjoint ranges
	s.Add(0, 1)
	s.Add(10, 1)
	s.Add(20, 1)
	require.Equal(t, 3, s.Size())
	// A new high-end range should evict the lowest (0).
	s.Add(30, 1)
	require.Equal(t, 3, s.Size())
	min, _ := s.Min()
	require.EqualValues(t, 10, min)
}

func TestCapRejectsLowInsertWhenFull(t *testing.T) {
	s := New(2 * rangeSize)
	s.Add(10, 1)
	s.Add(20, 1)
	require.Equal(t, 2, s.Size())
	ok := s.Add(0, 1)
	require.False(t, ok)
	require.Equal(t, 2, s.Size())
}

func TestRemoveUntilInclusive(t *testing.T) {
	s := New(0)
	s.Add(0, 10) // [0,10)
	s.RemoveUntil(4)
	require.Equal(t, 1, s.Size())
	min, _ := s.Min()
	require.EqualValues(t, 5, min)
}

// TestRandomizedInvariant checks that after any sequence of Add/Remove,
// size() equals the number of maximal disjoint ranges and the set stays
// strictly increasing with no adjacent touching ranges.
func TestRandomizedInvariant(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	s := New(0)
	for i := 0; i < 2000; i++ {
		low := uint64(r.Intn(200))
		count := uint64(r.Intn(10) + 1)
		if r.Intn(2) == 0 {
			s.Add(low, count)
		} else {
			s.Remove(low, count)
		}
		assertWellFormed(t, s)
	}
}

func assertWellFormed(t *testing.T, s *Set) {
	t.Helper()
	for i := 0; i < s.Size(); i++ {
		r := s.Get(i)
		require.Greater(t, r.Count, uint64(0))
		if i > 0 {
			prev := s.Get(i - 1)
			require.Less(t, prev.High(), r.Low, "ranges must not touch or overlap")
		}
	}
}
