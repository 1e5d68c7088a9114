package gpucore

import (
	"context"
	"sync"
)

// Submission tracks one command buffer handed to a device queue.
//
// The device completes the submission exactly once, after the GPU work has
// finished. Done and Err are safe for concurrent use.
type Submission struct {
	id    uint64
	label string

	once sync.Once
	done chan struct{}
	err  error
}

// NewSubmission returns a pending submission. Devices call this when they
// accept a command buffer.
func NewSubmission(id uint64, label string) *Submission {
	return &Submission{id: id, label: label, done: make(chan struct{})}
}

// ID returns the device-assigned, monotonically increasing submission id.
func (s *Submission) ID() uint64 { return s.id }

// Label returns the label of the submitted command buffer.
func (s *Submission) Label() string { return s.label }

// Complete marks the submission finished. Only the first call has effect.
func (s *Submission) Complete(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

// Done returns a channel closed once the work has completed.
func (s *Submission) Done() <-chan struct{} { return s.done }

// Completed reports whether the work has completed, without blocking.
func (s *Submission) Completed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Err returns the execution error. It is nil until Done is closed.
func (s *Submission) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Wait blocks until the submission completes or ctx ends.
func (s *Submission) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
