package frame

import (
	"sync"
	"testing"
)

func TestBudget_Capacity(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{2, 2},
		{1, 1},
		{0, 1},
		{-5, 1},
	}
	for _, tt := range tests {
		if got := NewBudget(tt.in).Capacity(); got != tt.want {
			t.Errorf("NewBudget(%d).Capacity() = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestBudget_TryAcquireIsBounded(t *testing.T) {
	b := NewBudget(2)
	if !b.TryAcquire() || !b.TryAcquire() {
		t.Fatal("could not acquire within capacity")
	}
	if b.TryAcquire() {
		t.Fatal("acquired beyond capacity")
	}
	b.Release()
	if !b.TryAcquire() {
		t.Fatal("could not re-acquire after release")
	}

	acq, rel := b.Counts()
	if acq != 3 || rel != 1 {
		t.Errorf("Counts() = %d, %d; want 3, 1", acq, rel)
	}
	if b.Outstanding() != 2 || b.Peak() != 2 {
		t.Errorf("Outstanding=%d Peak=%d, want 2, 2", b.Outstanding(), b.Peak())
	}
}

func TestBudget_ReleaseWithoutAcquirePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	NewBudget(1).Release()
}

func TestBudget_ConcurrentInvariant(t *testing.T) {
	const capacity = 3
	b := NewBudget(capacity)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 1000 {
				if b.TryAcquire() {
					acq, rel := b.Counts()
					if acq-rel > capacity {
						t.Errorf("acquired-released = %d exceeds capacity", acq-rel)
					}
					b.Release()
				}
			}
		}()
	}
	wg.Wait()

	if b.Peak() > capacity {
		t.Errorf("Peak() = %d exceeds capacity %d", b.Peak(), capacity)
	}
	if b.Outstanding() != 0 {
		t.Errorf("Outstanding() = %d after all releases", b.Outstanding())
	}
}
