package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/gpuwatchhq/gpuwatch/internal/clock"
)

// QuietHours is a set of hour-of-day values (0-23) during which polling is
// suspended.
type QuietHours struct {
	hours [24]bool
}

// NewQuietHours builds a set from hour values. Values outside 0-23 are
// ignored; config validation rejects them before they reach here.
func NewQuietHours(hours []int) QuietHours {
	var q QuietHours
	for _, h := range hours {
		if h >= 0 && h < 24 {
			q.hours[h] = true
		}
	}
	return q
}

// Contains reports whether hour is suppressed.
func (q QuietHours) Contains(hour int) bool {
	if hour < 0 || hour >= 24 {
		return false
	}
	return q.hours[hour]
}

// Hours returns the suppressed hours in ascending order.
func (q QuietHours) Hours() []int {
	out := make([]int, 0, 24)
	for h, quiet := range q.hours {
		if quiet {
			out = append(out, h)
		}
	}
	sort.Ints(out)
	return out
}

// Sleeper turns every wait in the poll loop into a cancellation point.
type Sleeper struct {
	clock clock.Clock
}

type Option func(*Sleeper)

func WithClock(c clock.Clock) Option {
	return func(s *Sleeper) {
		if c != nil {
			s.clock = c
		}
	}
}

func New(opts ...Option) *Sleeper {
	s := &Sleeper{clock: clock.Real()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the current time of the underlying clock.
func (s *Sleeper) Now() time.Time {
	return s.clock.Now()
}

// Clock exposes the underlying clock.
func (s *Sleeper) Clock() clock.Clock {
	return s.clock
}

// Sleep blocks for d or until ctx is done, whichever comes first. It
// returns ctx.Err() when interrupted.
func (s *Sleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.clock.After(d):
		return nil
	}
}
