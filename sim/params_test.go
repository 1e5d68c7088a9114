package sim

import (
	"sync"
	"testing"
)

func TestParamStore(t *testing.T) {
	s := NewParamStore(DefaultParams())
	if got := s.Snapshot(); got != DefaultParams() {
		t.Fatalf("Snapshot() = %+v, want defaults", got)
	}

	s.SetFeed(0.046)
	s.SetKill(0.065)
	want := Params{F: 0.046, K: 0.065, Du: 0.2, Dv: 0.1}
	if got := s.Snapshot(); got != want {
		t.Errorf("after SetFeed/SetKill = %+v, want %+v", got, want)
	}

	s.SetFeedKill(0.014, 0.049)
	if got := s.Snapshot(); got.F != 0.014 || got.K != 0.049 {
		t.Errorf("after SetFeedKill = %+v", got)
	}
}

func TestParamStore_SnapshotIsConsistentPair(t *testing.T) {
	s := NewParamStore(Params{F: 1, K: 1, Du: 0.2, Dv: 0.1})

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			v := float32(i%2 + 1)
			s.SetFeedKill(v, v)
		}
	}()
	for range 10000 {
		p := s.Snapshot()
		if p.F != p.K {
			t.Fatalf("torn snapshot F=%v K=%v", p.F, p.K)
		}
	}
	close(stop)
	wg.Wait()
}
