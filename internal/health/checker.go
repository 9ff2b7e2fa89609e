package health

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gpuwatchhq/gpuwatch/internal/events"
	"github.com/gpuwatchhq/gpuwatch/internal/metrics"
	"github.com/gpuwatchhq/gpuwatch/pkg/types"
)

const defaultStaleAfter = 3 * time.Minute

// Checker evaluates readiness from the engine's event stream. It implements
// events.Recorder.
type Checker struct {
	metrics *metrics.Store

	mu           sync.RWMutex
	staleAfter   time.Duration
	lastSuccess  time.Time
	lastActivity time.Time
	quietUntil   time.Time
	sleepUntil   time.Time
	pollErr      string
	reloadErr    string
}

// NewChecker constructs a readiness checker. staleAfter is the slack allowed
// past the engine's announced wake-up before polling counts as stale.
func NewChecker(store *metrics.Store, staleAfter time.Duration) *Checker {
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	return &Checker{
		metrics:    store,
		staleAfter: staleAfter,
	}
}

// SetStaleAfter replaces the staleness slack, typically after the poll
// interval changes on reload. Non-positive values restore the default.
func (c *Checker) SetStaleAfter(d time.Duration) {
	if d <= 0 {
		d = defaultStaleAfter
	}
	c.mu.Lock()
	c.staleAfter = d
	c.mu.Unlock()
}

func (c *Checker) Record(event types.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := event.Timestamp
	if ts.After(c.lastActivity) {
		c.lastActivity = ts
	}
	switch event.Type {
	case types.EventPollSucceeded:
		c.lastSuccess = ts
		c.pollErr = ""
	case types.EventPollFailed:
		c.pollErr = detailString(event.Details, events.DetailError, "poll failed")
	case types.EventConfigReloaded:
		c.reloadErr = ""
	case types.EventConfigReloadFailed:
		c.reloadErr = detailString(event.Details, events.DetailError, "reload failed")
	case types.EventQuietHours:
		if d, ok := event.Details[events.DetailSleep].(time.Duration); ok {
			c.quietUntil = ts.Add(d)
		}
	case types.EventStateChanged:
		if d, ok := event.Details[events.DetailSleep].(time.Duration); ok {
			c.sleepUntil = ts.Add(d)
		}
	}
}

// Ready evaluates all readiness conditions and returns the overall status and
// reasons for failure.
func (c *Checker) Ready(now time.Time) (bool, []string) {
	c.mu.RLock()
	lastSuccess := c.lastSuccess
	lastActivity := c.lastActivity
	quietUntil := c.quietUntil
	sleepUntil := c.sleepUntil
	pollErr := c.pollErr
	reloadErr := c.reloadErr
	staleAfter := c.staleAfter
	c.mu.RUnlock()

	reasons := make([]string, 0, 3)
	quiet := now.Before(quietUntil)

	switch {
	case lastSuccess.IsZero() && !quiet:
		reasons = append(reasons, "no successful poll yet")
	case !lastSuccess.IsZero():
		due := lastActivity
		if sleepUntil.After(due) {
			due = sleepUntil
		}
		if quietUntil.After(due) {
			due = quietUntil
		}
		if now.Sub(due) > staleAfter {
			reasons = append(reasons, fmt.Sprintf("polling stale (last success %s ago)", now.Sub(lastSuccess).Round(time.Second)))
		}
	}
	if pollErr != "" {
		reasons = append(reasons, fmt.Sprintf("polls failing: %s", pollErr))
	}
	if reloadErr != "" {
		reasons = append(reasons, fmt.Sprintf("config reload failing: %s", reloadErr))
	}

	ready := len(reasons) == 0
	if c.metrics != nil {
		c.metrics.ObserveReadiness(ready, strings.Join(reasons, "; "))
	}
	if !ready {
		return false, reasons
	}
	return true, nil
}

func detailString(details map[string]any, key, fallback string) string {
	if v, ok := details[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
