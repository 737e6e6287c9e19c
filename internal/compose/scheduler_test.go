package compose

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestIdleScheduler_RepeatsUntilDestroyed(t *testing.T) {
	var calls atomic.Int32
	done := make(chan struct{})
	s := NewIdleScheduler(context.Background(), time.Millisecond, func(ctx context.Context, id uuid.UUID) bool {
		if calls.Add(1) == 3 {
			close(done)
			return true
		}
		return false
	})
	id := uuid.New()
	s.Schedule(id)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("check did not run three times")
	}

	deadline := time.Now().Add(time.Second)
	for s.Scheduled(id) && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if s.Scheduled(id) {
		t.Error("entry should be removed once the check destroys the space")
	}
	time.Sleep(10 * time.Millisecond)
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestIdleScheduler_ScheduleIsIdempotent(t *testing.T) {
	s := NewIdleScheduler(context.Background(), time.Hour, func(ctx context.Context, id uuid.UUID) bool { return false })
	id := uuid.New()
	s.Schedule(id)
	s.Schedule(id)
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
	if !s.Cancel(id) {
		t.Error("Cancel = false, want true")
	}
	if s.Cancel(id) {
		t.Error("second Cancel = true, want false")
	}
}

func TestIdleScheduler_CancelStopsChecks(t *testing.T) {
	var calls atomic.Int32
	s := NewIdleScheduler(context.Background(), 20*time.Millisecond, func(ctx context.Context, id uuid.UUID) bool {
		calls.Add(1)
		return false
	})
	id := uuid.New()
	s.Schedule(id)
	s.Cancel(id)
	time.Sleep(60 * time.Millisecond)
	if calls.Load() != 0 {
		t.Errorf("calls = %d after Cancel, want 0", calls.Load())
	}
}

func TestIdleScheduler_CancelAll(t *testing.T) {
	s := NewIdleScheduler(context.Background(), time.Hour, func(ctx context.Context, id uuid.UUID) bool { return false })
	s.Schedule(uuid.New())
	s.Schedule(uuid.New())
	s.CancelAll()
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0", s.Len())
	}
}
