package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gpuwatchhq/gpuwatch/internal/clock"
)

func TestQuietHoursContains(t *testing.T) {
	q := NewQuietHours([]int{23, 0, 1, 42, -1})

	for _, hour := range []int{0, 1, 23} {
		if !q.Contains(hour) {
			t.Fatalf("expected hour %d to be quiet", hour)
		}
	}
	for _, hour := range []int{2, 12, 22, 24, -1} {
		if q.Contains(hour) {
			t.Fatalf("expected hour %d to be active", hour)
		}
	}
	hours := q.Hours()
	if len(hours) != 3 || hours[0] != 0 || hours[1] != 1 || hours[2] != 23 {
		t.Fatalf("unexpected hours %v", hours)
	}
}

func TestSleeperReturnsAfterDuration(t *testing.T) {
	c := clock.FakeAuto(time.Unix(0, 0).UTC())
	s := New(WithClock(c))

	if err := s.Sleep(context.Background(), time.Minute); err != nil {
		t.Fatalf("Sleep returned error: %v", err)
	}
	if got := c.Now(); !got.Equal(time.Unix(60, 0).UTC()) {
		t.Fatalf("expected clock at 60s, got %s", got)
	}
}

func TestSleeperHonorsCancellation(t *testing.T) {
	c := clock.Fake(time.Unix(0, 0).UTC())
	s := New(WithClock(c))
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Sleep(ctx, time.Hour)
	}()

	c.WaitForTimers(1)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("sleep did not observe cancellation")
	}
}

func TestSleeperCancelledBeforeStart(t *testing.T) {
	s := New(WithClock(clock.FakeAuto(time.Unix(0, 0))))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Sleep(ctx, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
