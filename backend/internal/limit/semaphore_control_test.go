package limit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSemaphoreControl_AcquireRelease(t *testing.T) {
	s := NewSemaphoreControl(2)
	ctx := context.Background()
	if err := s.Acquire(ctx); err != nil {
		t.Fatalf("Acquire error: %v", err)
	}
	if !s.TryAcquire() {
		t.Fatalf("TryAcquire failed with one slot free")
	}
	if s.TryAcquire() {
		t.Fatalf("TryAcquire succeeded on a full semaphore")
	}

	timeout, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if err := s.Acquire(timeout); !errors.Is(err, ErrAcquireTimeout) {
		t.Fatalf("Acquire on full semaphore = %v, want ErrAcquireTimeout", err)
	}

	if err := s.Release(); err != nil {
		t.Fatalf("Release error: %v", err)
	}
	if err := s.Release(); err != nil {
		t.Fatalf("Release error: %v", err)
	}
	if err := s.Release(); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("extra Release = %v, want ErrNotAcquired", err)
	}
	if s.InUse() != 0 || s.Cap() != 2 {
		t.Fatalf("InUse=%d Cap=%d", s.InUse(), s.Cap())
	}
}

func TestNewSemaphoreControl_DefaultSize(t *testing.T) {
	if got := NewSemaphoreControl(0).Cap(); got != DefaultSemaphoreSize {
		t.Fatalf("Cap = %d, want %d", got, DefaultSemaphoreSize)
	}
}
