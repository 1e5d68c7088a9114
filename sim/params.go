package sim

import (
	"math"
	"sync/atomic"
)

// Params are the Gray-Scott model coefficients.
type Params struct {
	F  float32 // feed rate
	K  float32 // kill rate
	Du float32 // diffusion of u
	Dv float32 // diffusion of v
}

// DefaultParams returns F=0.022, K=0.051, Du=0.2, Dv=0.1.
func DefaultParams() Params {
	return Params{F: 0.022, K: 0.051, Du: 0.2, Dv: 0.1}
}

// ParamStore holds the live parameters. F and K may be changed at any time
// from any goroutine; Du and Dv are fixed at construction.
type ParamStore struct {
	fk     atomic.Uint64 // F in the high word, K in the low word
	du, dv float32
}

// NewParamStore returns a store initialized from p.
func NewParamStore(p Params) *ParamStore {
	s := &ParamStore{du: p.Du, dv: p.Dv}
	s.SetFeedKill(p.F, p.K)
	return s
}

// SetFeedKill replaces F and K together.
func (s *ParamStore) SetFeedKill(f, k float32) {
	s.fk.Store(uint64(math.Float32bits(f))<<32 | uint64(math.Float32bits(k)))
}

// SetFeed replaces F and keeps K.
func (s *ParamStore) SetFeed(f float32) {
	for {
		old := s.fk.Load()
		next := uint64(math.Float32bits(f))<<32 | old&0xffffffff
		if s.fk.CompareAndSwap(old, next) {
			return
		}
	}
}

// SetKill replaces K and keeps F.
func (s *ParamStore) SetKill(k float32) {
	for {
		old := s.fk.Load()
		next := old&^0xffffffff | uint64(math.Float32bits(k))
		if s.fk.CompareAndSwap(old, next) {
			return
		}
	}
}

// Snapshot returns a consistent copy of the current parameters.
func (s *ParamStore) Snapshot() Params {
	fk := s.fk.Load()
	return Params{
		F:  math.Float32frombits(uint32(fk >> 32)),
		K:  math.Float32frombits(uint32(fk)),
		Du: s.du,
		Dv: s.dv,
	}
}
