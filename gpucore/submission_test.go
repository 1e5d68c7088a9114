package gpucore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSubmission_Lifecycle(t *testing.T) {
	s := NewSubmission(7, "batch")
	if s.Completed() {
		t.Fatal("new submission reports completed")
	}
	if s.Err() != nil {
		t.Fatal("pending submission reports an error")
	}
	if s.ID() != 7 || s.Label() != "batch" {
		t.Errorf("ID/Label = %d/%q", s.ID(), s.Label())
	}

	boom := errors.New("device lost")
	s.Complete(boom)
	s.Complete(nil) // ignored

	select {
	case <-s.Done():
	default:
		t.Fatal("Done not closed after Complete")
	}
	if !errors.Is(s.Err(), boom) {
		t.Errorf("Err() = %v, want %v", s.Err(), boom)
	}
}

func TestSubmission_WaitContext(t *testing.T) {
	s := NewSubmission(1, "")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := s.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() = %v, want deadline exceeded", err)
	}

	go s.Complete(nil)
	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
}
