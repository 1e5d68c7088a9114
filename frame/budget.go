package frame

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Budget bounds the number of simulation batches with outstanding device
// work. Acquisition never blocks.
type Budget struct {
	sem      *semaphore.Weighted
	capacity int

	acquired    atomic.Uint64
	released    atomic.Uint64
	outstanding atomic.Int64
	peak        atomic.Int64
}

// NewBudget returns a budget of the given capacity. Capacities below 1 are
// raised to 1.
func NewBudget(capacity int) *Budget {
	capacity = max(capacity, 1)
	return &Budget{sem: semaphore.NewWeighted(int64(capacity)), capacity: capacity}
}

// TryAcquire takes one unit if one is free.
func (b *Budget) TryAcquire() bool {
	if !b.sem.TryAcquire(1) {
		return false
	}
	b.acquired.Add(1)
	n := b.outstanding.Add(1)
	for {
		p := b.peak.Load()
		if n <= p || b.peak.CompareAndSwap(p, n) {
			break
		}
	}
	return true
}

// Release returns one unit. It panics when no unit is held.
func (b *Budget) Release() {
	if b.outstanding.Add(-1) < 0 {
		panic(fmt.Sprintf("frame: budget released more often than acquired (capacity %d)", b.capacity))
	}
	b.released.Add(1)
	b.sem.Release(1)
}

// Capacity returns the number of units.
func (b *Budget) Capacity() int { return b.capacity }

// Outstanding returns the number of units currently held.
func (b *Budget) Outstanding() int { return int(b.outstanding.Load()) }

// Peak returns the highest Outstanding value observed.
func (b *Budget) Peak() int { return int(b.peak.Load()) }

// Counts returns the total number of acquisitions and releases.
func (b *Budget) Counts() (acquired, released uint64) {
	return b.acquired.Load(), b.released.Load()
}
