// Package ranges implements an ordered set of disjoint, non-adjacent
// integer ranges, used both for ACK-eliciting packet-number tracking and
// for stream-reassembly offset bookkeeping.
package ranges

// rangeSize is the storage footprint of one Range, used to translate a
// caller-supplied byte budget into a range count.
const rangeSize = 16

// Range is a half-open interval [Low, Low+Count).
type Range struct {
	Low   uint64
	Count uint64
}

// High returns the exclusive upper bound of r.
func (r Range) High() uint64 {
	return r.Low + r.Count
}

// Set is an ordered sequence of strictly increasing, non-adjacent,
// non-overlapping Ranges, bounded by a configured byte budget. It is the
// data structure backing both the ACK range tracker (small cap) and stream
// receive reassembly (larger cap).
type Set struct {
	ranges []Range
	cap    int // max number of ranges this set may hold, derived from a byte budget
}

// New returns a Set bounded by capBytes of subrange storage. A capBytes of
// 0 means unbounded.
func New(capBytes int) *Set {
	s := &Set{}
	s.Init(capBytes)
	return s
}

// Init (re)initializes s with the given byte budget, discarding contents.
func (s *Set) Init(capBytes int) {
	s.ranges = s.ranges[:0]
	if capBytes <= 0 {
		s.cap = 0
	} else {
		s.cap = capBytes / rangeSize
		if s.cap < 1 {
			s.cap = 1
		}
	}
}

// Reset empties the set without changing its capacity.
func (s *Set) Reset() {
	s.ranges = s.ranges[:0]
}

// Size returns the number of disjoint ranges currently held.
func (s *Set) Size() int {
	return len(s.ranges)
}

// Get returns the i'th range in ascending order.
func (s *Set) Get(i int) Range {
	return s.ranges[i]
}

// Min returns the lowest element in the set, and whether the set is
// non-empty.
func (s *Set) Min() (uint64, bool) {
	if len(s.ranges) == 0 {
		return 0, false
	}
	return s.ranges[0].Low, true
}

// Max returns the highest element (inclusive) in the set, and whether the
// set is non-empty.
func (s *Set) Max() (uint64, bool) {
	if len(s.ranges) == 0 {
		return 0, false
	}
	last := s.ranges[len(s.ranges)-1]
	return last.High() - 1, true
}

// searchResult packs either a match index or an insert index into a single
// tagged integer: bit 31 distinguishes the two, mirroring the encoding used
// by the msquic range-set this type is modeled on.
const matchFlag = 1 << 31

// Search returns a tagged index: if an existing range fully contains
// [keyLow, keyHigh], the match flag is set and the low bits carry that
// range's index. Otherwise, the low bits carry the index at which a new
// range covering the key would be inserted to keep the set ordered.
func (s *Set) Search(keyLow, keyHigh uint64) uint32 {
	lo, hi := 0, len(s.ranges)
	for lo < hi {
		mid := (lo + hi) / 2
		r := s.ranges[mid]
		switch {
		case keyHigh < r.Low:
			hi = mid
		case keyLow >= r.High():
			lo = mid + 1
		default:
			if keyLow >= r.Low && keyHigh < r.High() {
				return matchFlag | uint32(mid)
			}
			// Overlaps but isn't fully contained: no single range is a
			// match, report insertion at this position.
			return uint32(mid)
		}
	}
	return uint32(lo)
}

// IsMatch reports whether a Search result indicates containment.
func IsMatch(idx uint32) bool {
	return idx&matchFlag != 0
}

// Index strips the match flag from a Search result.
func Index(idx uint32) int {
	return int(idx &^ matchFlag)
}

// Contains reports whether v is present in the set.
func (s *Set) Contains(v uint64) bool {
	return IsMatch(s.Search(v, v))
}

// Add inserts [low, low+count) into the set, merging with any range it
// abuts or overlaps. It reports whether any previously-absent element was
// added. If the set is at capacity, Add evicts the lowest range to make
// room for a high insert; a low-end insert that would require growing
// beyond capacity is rejected (returns false without mutating the set).
func (s *Set) Add(low, count uint64) bool {
	if count == 0 {
		return false
	}
	high := low + count
	idx := s.Search(low, high-1)
	if IsMatch(idx) {
		return false
	}
	i := Index(idx)

	// Determine the span of existing ranges touched (abutting or
	// overlapping) by [low, high).
	start := i
	for start > 0 && s.ranges[start-1].High() >= low {
		start--
	}
	end := i
	for end < len(s.ranges) && s.ranges[end].Low <= high {
		end++
	}

	if start == end {
		// No merge: plain insertion.
		if len(s.ranges) >= s.cap && s.cap > 0 {
			if !s.evictForInsert(low) {
				return false
			}
			// Recompute position after eviction.
			idx = s.Search(low, high-1)
			start = Index(idx)
			end = start
		}
		s.ranges = append(s.ranges, Range{})
		copy(s.ranges[start+1:], s.ranges[start:])
		s.ranges[start] = Range{Low: low, Count: count}
		return true
	}

	newLow := low
	newHigh := high
	if s.ranges[start].Low < newLow {
		newLow = s.ranges[start].Low
	}
	if s.ranges[end-1].High() > newHigh {
		newHigh = s.ranges[end-1].High()
	}
	merged := Range{Low: newLow, Count: newHigh - newLow}
	s.ranges[start] = merged
	s.ranges = append(s.ranges[:start+1], s.ranges[end:]...)
	return true
}

// evictForInsert drops the lowest range to make room, unless the insertion
// point itself is at (or before) the low end, in which case growing would
// exceed the cap with no relief available.
func (s *Set) evictForInsert(low uint64) bool {
	if len(s.ranges) == 0 {
		return true
	}
	if low <= s.ranges[0].Low {
		// Inserting at/near the low end while full: reject per spec (low-end
		// insert fails rather than evicting to make room for more low data).
		return false
	}
	s.ranges = s.ranges[1:]
	return true
}

// Remove deletes [low, low+count) from the set, trimming, splitting, or
// dropping ranges that intersect it.
func (s *Set) Remove(low, count uint64) {
	if count == 0 {
		return
	}
	high := low + count
	var out []Range
	for _, r := range s.ranges {
		switch {
		case r.High() <= low || r.Low >= high:
			// No overlap.
			out = append(out, r)
		case r.Low >= low && r.High() <= high:
			// Fully removed.
		case r.Low < low && r.High() > high:
			// Split into two.
			out = append(out, Range{Low: r.Low, Count: low - r.Low})
			out = append(out, Range{Low: high, Count: r.High() - high})
		case r.Low < low:
			// Trim high end.
			out = append(out, Range{Low: r.Low, Count: low - r.Low})
		default:
			// Trim low end.
			out = append(out, Range{Low: high, Count: r.High() - high})
		}
	}
	s.ranges = out
}

// RemoveUntil drops all elements strictly below, and including, limit —
// i.e. removes [0, limit]. Used to stop acknowledging packet numbers once
// the peer has confirmed receipt of the ACK that covered them.
func (s *Set) RemoveUntil(limit uint64) {
	s.Remove(0, limit+1)
}
