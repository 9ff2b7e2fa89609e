package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/gpuwatchhq/gpuwatch/internal/scheduler"
	"github.com/gpuwatchhq/gpuwatch/pkg/types"
)

const (
	defaultAttempts   = 3
	defaultBackoff    = 2 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// ErrCapability means the monitored host cannot run the inventory tool.
var ErrCapability = errors.New("inventory tool unavailable on remote host")

// QueryError reports that the remote query failed after every retry.
type QueryError struct {
	Command  string
	Attempts int
	Err      error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("remote query %q failed after %d attempt(s): %v", e.Command, e.Attempts, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// Client fetches snapshots over a Runner, retrying transport failures with
// exponential backoff.
type Client struct {
	runner     Runner
	sleeper    *scheduler.Sleeper
	attempts   int
	backoff    time.Duration
	maxBackoff time.Duration
	logger     zerolog.Logger
}

type Option func(*Client)

func WithSleeper(s *scheduler.Sleeper) Option {
	return func(c *Client) {
		if s != nil {
			c.sleeper = s
		}
	}
}

// WithRetry sets the number of attempts per query and the backoff bounds.
func WithRetry(attempts int, backoff, maxBackoff time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.attempts = attempts
		}
		if backoff > 0 {
			c.backoff = backoff
		}
		if maxBackoff > 0 {
			c.maxBackoff = maxBackoff
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

func NewClient(runner Runner, opts ...Option) *Client {
	c := &Client{
		runner:     runner,
		sleeper:    scheduler.New(),
		attempts:   defaultAttempts,
		backoff:    defaultBackoff,
		maxBackoff: defaultMaxBackoff,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxBackoff < c.backoff {
		c.maxBackoff = c.backoff
	}
	return c
}

// Fetch queries the host and parses the output into a snapshot. Parse
// failures are returned as *ParseError and are not retried.
func (c *Client) Fetch(ctx context.Context) (types.Snapshot, error) {
	out, err := c.run(ctx, QueryCommand())
	if err != nil {
		return nil, err
	}
	return ParseSnapshot(string(out))
}

// CheckCapability verifies that the inventory tool runs on the host.
func (c *Client) CheckCapability(ctx context.Context) error {
	out, err := c.run(ctx, CapabilityCommand)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("%w: %w", ErrCapability, err)
	}
	if !strings.Contains(string(out), capabilityMarker) {
		return fmt.Errorf("%w: %q output lacks %s banner", ErrCapability, CapabilityCommand, capabilityMarker)
	}
	return nil
}

func (c *Client) run(ctx context.Context, command string) ([]byte, error) {
	if c.runner == nil {
		return nil, errors.New("inventory runner is nil")
	}

	delay := c.backoff
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		out, err := c.runner.Run(ctx, command)
		if err == nil {
			return out, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		lastErr = err
		if attempt == c.attempts {
			break
		}
		c.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("remote query failed, retrying")
		if err := c.sleeper.Sleep(ctx, delay); err != nil {
			return nil, err
		}
		delay = min(delay*2, c.maxBackoff)
	}
	return nil, &QueryError{Command: command, Attempts: c.attempts, Err: lastErr}
}
