package timerwheel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUpdateAndExpire(t *testing.T) {
	w := New[int]()
	base := time.Unix(1700000000, 0)

	w.Update(1, base.Add(10*time.Millisecond))
	w.Update(2, base.Add(20*time.Millisecond))
	w.Update(3, base.Add(5*time.Millisecond))
	require.Equal(t, 3, w.Len())

	require.Equal(t, 5*time.Millisecond, w.NextWait(base))

	expired := w.Expired(base.Add(12 * time.Millisecond))
	require.ElementsMatch(t, []int{3, 1}, expired)
	require.Equal(t, 1, w.Len())

	expired = w.Expired(base.Add(100 * time.Millisecond))
	require.ElementsMatch(t, []int{2}, expired)
	require.Equal(t, 0, w.Len())
	require.Equal(t, time.Duration(-1), w.NextWait(base))
}

func TestRemove(t *testing.T) {
	w := New[string]()
	now := time.Now()
	w.Update("a", now.Add(time.Second))
	w.Update("b", now.Add(2*time.Second))
	w.Remove("a")
	require.Equal(t, 1, w.Len())
	expired := w.Expired(now.Add(3 * time.Second))
	require.Equal(t, []string{"b"}, expired)
}

func TestUpdateReplacesExistingSchedule(t *testing.T) {
	w := New[int]()
	now := time.Now()
	w.Update(1, now.Add(time.Second))
	w.Update(1, now.Add(10*time.Second))
	require.Equal(t, 1, w.Len())
	require.Empty(t, w.Expired(now.Add(5*time.Second)))
	require.Equal(t, []int{1}, w.Expired(now.Add(11*time.Second)))
}

// TestResize forces the wheel through one doubling by inserting one more
// connection than the initial slot count's load factor allows, per spec §8's
// "Timer wheel with 1, 32, 33, 1024... connections (forces resizes)".
func TestResize(t *testing.T) {
	w := New[int]()
	now := time.Now()
	const n = initialSlotCount*maxLoadFactor + 1 // forces one resize past 32*32
	for i := 0; i < n; i++ {
		w.Update(i, now.Add(time.Duration(i)*time.Millisecond))
	}
	require.Greater(t, len(w.slots), initialSlotCount)
	require.Equal(t, n, w.Len())

	expired := w.Expired(now.Add(time.Duration(n) * time.Millisecond))
	require.Len(t, expired, n)
	require.Equal(t, 0, w.Len())
}

func TestNextWaitEmpty(t *testing.T) {
	w := New[int]()
	require.Equal(t, time.Duration(-1), w.NextWait(time.Now()))
}
