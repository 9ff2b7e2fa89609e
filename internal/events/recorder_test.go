package events

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/gpuwatchhq/gpuwatch/pkg/types"
)

type captureRecorder struct {
	events []types.Event
}

func (c *captureRecorder) Record(event types.Event) {
	c.events = append(c.events, event)
}

func TestMultiFansOut(t *testing.T) {
	a := &captureRecorder{}
	b := &captureRecorder{}
	multi := NewMulti(a, nil, b, NoopRecorder{})

	multi.Record(New(types.EventPollSucceeded, time.Unix(10, 0), nil))

	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("expected both recorders to receive the event, got %d and %d", len(a.events), len(b.events))
	}
	if a.events[0].ID == "" || a.events[0].ID != b.events[0].ID {
		t.Fatalf("expected the same stamped event, got %q and %q", a.events[0].ID, b.events[0].ID)
	}
}

func TestNewAssignsDistinctIDs(t *testing.T) {
	first := New(types.EventNotified, time.Now(), nil)
	second := New(types.EventNotified, time.Now(), nil)
	if first.ID == second.ID {
		t.Fatalf("expected distinct ids, both were %q", first.ID)
	}
}

func TestLogRecorderWritesDetails(t *testing.T) {
	var buf bytes.Buffer
	rec := NewLogRecorder(zerolog.New(&buf).Level(zerolog.DebugLevel))

	rec.Record(New(types.EventPollFailed, time.Unix(10, 0), map[string]any{"error": "boom"}))

	out := buf.String()
	if !strings.Contains(out, `"event":"PollFailed"`) {
		t.Fatalf("expected event type in log, got %s", out)
	}
	if !strings.Contains(out, `"error":"boom"`) {
		t.Fatalf("expected details in log, got %s", out)
	}
}
