package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gpuwatchhq/gpuwatch/pkg/types"
)

type Recorder interface {
	Record(event types.Event)
}

type NoopRecorder struct{}

func (NoopRecorder) Record(event types.Event) {}

type Multi struct {
	recorders []Recorder
}

func NewMulti(recorders ...Recorder) Multi {
	return Multi{recorders: recorders}
}

func (m Multi) Record(event types.Event) {
	for _, rec := range m.recorders {
		if rec != nil {
			rec.Record(event)
		}
	}
}

// New stamps an event with a fresh id.
func New(typ types.EventType, ts time.Time, details map[string]any) types.Event {
	return types.Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Timestamp: ts,
		Details:   details,
	}
}

// LogRecorder writes every event to a logger at debug level.
type LogRecorder struct {
	logger zerolog.Logger
}

func NewLogRecorder(logger zerolog.Logger) LogRecorder {
	return LogRecorder{logger: logger}
}

func (r LogRecorder) Record(event types.Event) {
	ev := r.logger.Debug().
		Str("event_id", event.ID).
		Str("event", string(event.Type)).
		Time("event_ts", event.Timestamp)
	if len(event.Details) > 0 {
		ev = ev.Fields(event.Details)
	}
	ev.Msg("event")
}

// Detail keys carried by engine events.
const (
	DetailState         = "state"
	DetailSleep         = "sleep"
	DetailEligible      = "eligible"
	DetailEligibleCount = "eligible_count"
	DetailRecipient     = "recipient"
	DetailNotification  = "notification_id"
	DetailHour          = "hour"
	DetailError         = "error"
)
