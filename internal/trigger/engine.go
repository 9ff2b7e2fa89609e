package trigger

import (
	"context"
	"slices"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/gpuwatchhq/gpuwatch/internal/config"
	"github.com/gpuwatchhq/gpuwatch/internal/events"
	"github.com/gpuwatchhq/gpuwatch/internal/notify"
	"github.com/gpuwatchhq/gpuwatch/internal/scheduler"
	"github.com/gpuwatchhq/gpuwatch/internal/selector"
	"github.com/gpuwatchhq/gpuwatch/pkg/types"
)

// QuietSleep is how long the engine sleeps when it wakes inside a quiet hour.
const QuietSleep = time.Hour

const statusTimeLayout = "2006-01-02 15:04:05"

// State is the engine's position within a cycle.
type State string

const (
	StateQuiet      State = "QUIET"
	StatePolling    State = "POLLING"
	StateEvaluating State = "EVALUATING"
	StateNotifying  State = "NOTIFYING"
	StateCooldown   State = "COOLDOWN"
	StateIdleWait   State = "IDLE-WAIT"
)

// ConfigSource supplies the live configuration. Reload must keep the
// previous configuration active when it fails.
type ConfigSource interface {
	Current() *config.Config
	Reload(ctx context.Context) error
}

// Fetcher returns a fresh inventory snapshot.
type Fetcher interface {
	Fetch(ctx context.Context) (types.Snapshot, error)
}

// Dispatcher delivers a notification to its recipients.
type Dispatcher interface {
	Dispatch(ctx context.Context, n types.Notification, policy notify.Policy) []notify.Outcome
}

type Option func(*Engine)

func WithSleeper(s *scheduler.Sleeper) Option {
	return func(e *Engine) {
		if s != nil {
			e.sleeper = s
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithReloadHook registers fn to run with the new configuration after each
// successful reload.
func WithReloadHook(fn func(*config.Config)) Option {
	return func(e *Engine) {
		e.onReload = fn
	}
}

func WithRecorder(r events.Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// Engine runs the poll, evaluate, notify and sleep loop. Run and Cycle must
// be called from a single goroutine; State may be read from any goroutine.
type Engine struct {
	source     ConfigSource
	fetcher    Fetcher
	dispatcher Dispatcher
	sleeper    *scheduler.Sleeper
	logger     zerolog.Logger
	recorder   events.Recorder
	onReload   func(*config.Config)

	state atomic.Value

	// previous is the eligible set last seen in edge mode. It is cleared
	// whenever a cycle runs in any other mode.
	previous []int

	unavailableLog rate.Sometimes
}

func New(source ConfigSource, fetcher Fetcher, dispatcher Dispatcher, opts ...Option) *Engine {
	e := &Engine{
		source:         source,
		fetcher:        fetcher,
		dispatcher:     dispatcher,
		sleeper:        scheduler.New(),
		logger:         zerolog.Nop(),
		recorder:       events.NoopRecorder{},
		unavailableLog: rate.Sometimes{First: 1, Interval: 10 * time.Minute},
	}
	e.state.Store(StateIdleWait)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the current engine state.
func (e *Engine) State() State {
	s, _ := e.state.Load().(State)
	return s
}

// Run loops Cycle until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info().Msg("trigger engine started")
	for {
		if err := e.Cycle(ctx); err != nil {
			e.logger.Info().Err(err).Msg("trigger engine stopped")
			return err
		}
	}
}

// Cycle performs one iteration. The only error it returns is the context's;
// poll, delivery and reload failures are logged and recorded.
func (e *Engine) Cycle(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cfg := e.source.Current()
	now := e.sleeper.Now().In(cfg.Location())

	quiet := scheduler.NewQuietHours(cfg.Trigger.QuietHours)
	if quiet.Contains(now.Hour()) {
		e.setState(StateQuiet, QuietSleep)
		e.record(types.EventQuietHours, map[string]any{
			events.DetailHour:  now.Hour(),
			events.DetailSleep: QuietSleep,
		})
		e.logger.Info().
			Str("local_time", now.Format(statusTimeLayout)).
			Ints("quiet_hours", quiet.Hours()).
			Dur("sleep", QuietSleep).
			Msg("quiet hour, polling suspended")
		return e.sleeper.Sleep(ctx, QuietSleep)
	}

	e.setState(StatePolling, 0)
	snapshot, err := e.fetcher.Fetch(ctx)
	switch {
	case err != nil && ctx.Err() != nil:
		return ctx.Err()
	case err != nil:
		e.record(types.EventPollFailed, map[string]any{events.DetailError: err.Error()})
		e.logger.Error().Err(err).Str("local_time", now.Format(statusTimeLayout)).Msg("inventory poll failed, skipping evaluation")
	default:
		if err := e.evaluate(ctx, cfg, snapshot, now); err != nil {
			return err
		}
	}

	return e.idle(ctx, cfg)
}

func (e *Engine) evaluate(ctx context.Context, cfg *config.Config, snapshot types.Snapshot, now time.Time) error {
	e.setState(StateEvaluating, 0)

	strategy, err := selector.For(cfg.Trigger.Selector)
	if err != nil {
		e.record(types.EventPollFailed, map[string]any{events.DetailError: err.Error()})
		e.logger.Error().Err(err).Msg("no selector for configured kind")
		return nil
	}
	result, err := strategy.Select(snapshot, cfg.Trigger.MemRate)
	if err != nil {
		e.record(types.EventPollFailed, map[string]any{events.DetailError: err.Error()})
		e.logger.Error().Err(err).Msg("availability selection failed")
		return nil
	}

	e.record(types.EventPollSucceeded, map[string]any{
		events.DetailEligible:      slices.Clone(result.Eligible),
		events.DetailEligibleCount: len(result.Eligible),
	})
	e.logger.Info().
		Str("local_time", now.Format(statusTimeLayout)).
		Ints("eligible", result.Eligible).
		Int("must", cfg.Trigger.Must).
		Str("mode", string(cfg.Trigger.Mode)).
		Msg("poll complete")

	switch cfg.Trigger.Mode {
	case config.ModeEdge:
		if sameSet(e.previous, result.Eligible) {
			e.logUnavailable(result, "available resources unchanged")
			return nil
		}
		e.previous = slices.Clone(result.Eligible)
		e.record(types.EventEligibilityChanged, map[string]any{events.DetailEligible: slices.Clone(result.Eligible)})
		if len(result.Eligible) >= cfg.Trigger.Must {
			return e.notifyAndCool(ctx, cfg, result, now, cfg.Trigger.EdgeCooldown)
		}
		e.logger.Info().Ints("eligible", result.Eligible).Msg("available resources changed, below threshold")
		return nil
	default:
		e.previous = nil
		if len(result.Eligible) >= cfg.Trigger.Must {
			return e.notifyAndCool(ctx, cfg, result, now, cfg.Trigger.LevelCooldown)
		}
		e.logUnavailable(result, "no available resources")
		return nil
	}
}

func (e *Engine) notifyAndCool(ctx context.Context, cfg *config.Config, result selector.Result, now time.Time, cooldown time.Duration) error {
	e.setState(StateNotifying, 0)

	n := ComposeNotice(cfg, result, now)
	e.logger.Info().
		Str("notification_id", n.ID).
		Ints("eligible", n.Eligible).
		Int("recipients", len(n.Recipients)).
		Msg("resources available, notifying")

	outcomes := e.dispatcher.Dispatch(ctx, n, notify.Policy{
		Delay:     cfg.Mail.SendDelay,
		HourlyCap: cfg.Mail.MaxPerHour,
	})
	if err := ctx.Err(); err != nil {
		return err
	}
	var sent int
	for _, o := range outcomes {
		if o.Succeeded() {
			sent++
		}
	}

	e.setState(StateCooldown, cooldown)
	e.logger.Info().
		Str("notification_id", n.ID).
		Int("sent", sent).
		Int("failed", len(outcomes)-sent).
		Dur("sleep", cooldown).
		Msg("notification dispatch complete, cooling down")
	return e.sleeper.Sleep(ctx, cooldown)
}

func (e *Engine) idle(ctx context.Context, cfg *config.Config) error {
	interval := cfg.Trigger.PollInterval
	e.setState(StateIdleWait, interval)
	e.logger.Info().Dur("sleep", interval).Msg("waiting for next poll")
	if err := e.sleeper.Sleep(ctx, interval); err != nil {
		return err
	}

	if err := e.source.Reload(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.record(types.EventConfigReloadFailed, map[string]any{events.DetailError: err.Error()})
		e.logger.Warn().Err(err).Msg("config reload failed, keeping previous configuration")
		return nil
	}
	e.record(types.EventConfigReloaded, nil)
	e.logger.Debug().Msg("config reloaded")
	if e.onReload != nil {
		e.onReload(e.source.Current())
	}
	return nil
}

func (e *Engine) logUnavailable(result selector.Result, msg string) {
	e.logger.Debug().Ints("eligible", result.Eligible).Str("report", result.Report).Msg(msg)
	e.unavailableLog.Do(func() {
		e.logger.Info().Ints("eligible", result.Eligible).Str("report", result.Report).Msg(msg)
	})
}

func (e *Engine) setState(s State, sleep time.Duration) {
	prev := e.State()
	e.state.Store(s)
	if prev == s && sleep <= 0 {
		return
	}
	details := map[string]any{events.DetailState: string(s)}
	if sleep > 0 {
		details[events.DetailSleep] = sleep
	}
	e.record(types.EventStateChanged, details)
}

func (e *Engine) record(typ types.EventType, details map[string]any) {
	e.recorder.Record(events.New(typ, e.sleeper.Now(), details))
}

// sameSet treats nil and empty as equal.
func sameSet(a, b []int) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return slices.Equal(a, b)
}
