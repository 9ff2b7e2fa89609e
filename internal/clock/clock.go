// Package clock abstracts time so the poll loop can be driven
// deterministically in tests. Production code uses Real; tests use Fake
// (advanced by hand) or FakeAuto (every wait completes immediately and is
// recorded).
package clock

import "time"

// Clock is the subset of the time package the daemon depends on.
type Clock interface {
	Now() time.Time
	// After returns a channel that receives once d has elapsed. If
	// d <= 0 the channel receives immediately.
	After(d time.Duration) <-chan time.Time
}

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
