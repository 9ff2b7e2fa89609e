package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/gpuwatchhq/gpuwatch/internal/events"
	"github.com/gpuwatchhq/gpuwatch/internal/scheduler"
	"github.com/gpuwatchhq/gpuwatch/pkg/types"
)

// ErrRateLimited marks a recipient skipped because the hourly cap was reached.
var ErrRateLimited = errors.New("hourly notification cap reached")

// Sender delivers one notification to one recipient.
type Sender interface {
	Send(ctx context.Context, recipient string, n types.Notification) error
}

// Policy controls pacing of a single dispatch.
type Policy struct {
	// Delay is waited before every recipient, including the first.
	Delay time.Duration
	// HourlyCap bounds sends per rolling hour across dispatches. Zero
	// disables the cap.
	HourlyCap int
}

// Outcome reports what happened for one recipient.
type Outcome struct {
	Recipient string
	Attempted bool
	Err       error
}

func (o Outcome) Succeeded() bool {
	return o.Attempted && o.Err == nil
}

type Option func(*Dispatcher)

func WithSleeper(s *scheduler.Sleeper) Option {
	return func(d *Dispatcher) {
		if s != nil {
			d.sleeper = s
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

func WithRecorder(r events.Recorder) Option {
	return func(d *Dispatcher) {
		if r != nil {
			d.recorder = r
		}
	}
}

// Dispatcher fans a notification out to its recipients one at a time.
type Dispatcher struct {
	sender   Sender
	sleeper  *scheduler.Sleeper
	logger   zerolog.Logger
	recorder events.Recorder

	mu       sync.Mutex
	limiter  *rate.Limiter
	limitCap int
}

func NewDispatcher(sender Sender, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sender:   sender,
		sleeper:  scheduler.New(),
		logger:   zerolog.Nop(),
		recorder: events.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch sends n to every recipient in order. Delivery failures are logged
// and reported per recipient; they never stop the batch. Cancellation stops
// the batch and marks the remaining recipients as not attempted.
func (d *Dispatcher) Dispatch(ctx context.Context, n types.Notification, policy Policy) []Outcome {
	outcomes := make([]Outcome, 0, len(n.Recipients))
	limiter := d.limiterFor(policy.HourlyCap)

	for i, recipient := range n.Recipients {
		if err := d.sleeper.Sleep(ctx, policy.Delay); err != nil {
			for _, rest := range n.Recipients[i:] {
				outcomes = append(outcomes, Outcome{Recipient: rest, Err: err})
			}
			return outcomes
		}

		log := d.logger.With().Str("recipient", recipient).Str("notification_id", n.ID).Logger()

		if limiter != nil && !limiter.AllowN(d.sleeper.Now(), 1) {
			log.Warn().Int("hourly_cap", policy.HourlyCap).Msg("notification skipped: hourly cap reached")
			d.record(types.EventDeliveryFailed, recipient, n.ID, ErrRateLimited)
			outcomes = append(outcomes, Outcome{Recipient: recipient, Err: ErrRateLimited})
			continue
		}

		err := d.sender.Send(ctx, recipient, n)
		outcomes = append(outcomes, Outcome{Recipient: recipient, Attempted: true, Err: err})
		if err != nil {
			log.Error().Err(err).Msg("notification delivery failed")
			d.record(types.EventDeliveryFailed, recipient, n.ID, err)
			continue
		}
		log.Info().Msg("notification sent")
		d.record(types.EventNotified, recipient, n.ID, nil)
	}
	return outcomes
}

func (d *Dispatcher) limiterFor(hourlyCap int) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	if hourlyCap <= 0 {
		d.limiter = nil
		d.limitCap = 0
		return nil
	}
	if d.limiter == nil || d.limitCap != hourlyCap {
		d.limiter = rate.NewLimiter(rate.Every(time.Hour/time.Duration(hourlyCap)), hourlyCap)
		d.limitCap = hourlyCap
	}
	return d.limiter
}

func (d *Dispatcher) record(typ types.EventType, recipient, id string, err error) {
	details := map[string]any{
		events.DetailRecipient:    recipient,
		events.DetailNotification: id,
	}
	if err != nil {
		details[events.DetailError] = err.Error()
	}
	d.recorder.Record(events.New(typ, d.sleeper.Now(), details))
}
