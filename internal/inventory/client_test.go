package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gpuwatchhq/gpuwatch/internal/clock"
	"github.com/gpuwatchhq/gpuwatch/internal/scheduler"
)

type fakeRunner struct {
	outputs  []string
	errs     []error
	commands []string
}

func (f *fakeRunner) Run(ctx context.Context, command string) ([]byte, error) {
	i := len(f.commands)
	f.commands = append(f.commands, command)
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if err != nil {
		return nil, err
	}
	if i < len(f.outputs) {
		return []byte(f.outputs[i]), nil
	}
	return nil, nil
}

func newTestClient(runner Runner, c *clock.FakeClock) *Client {
	return NewClient(runner,
		WithSleeper(scheduler.New(scheduler.WithClock(c))),
		WithRetry(3, time.Second, 3*time.Second),
	)
}

func TestClientFetchParsesOutput(t *testing.T) {
	runner := &fakeRunner{outputs: []string{sampleOutput}}
	c := clock.FakeAuto(time.Unix(0, 0))
	client := newTestClient(runner, c)

	snapshot, err := client.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if len(snapshot) != 2 {
		t.Fatalf("expected 2 records, got %d", len(snapshot))
	}
	if len(runner.commands) != 1 || runner.commands[0] != QueryCommand() {
		t.Fatalf("unexpected commands %v", runner.commands)
	}
}

func TestClientFetchRetriesWithBackoff(t *testing.T) {
	transport := errors.New("connection refused")
	runner := &fakeRunner{
		errs:    []error{transport, transport, nil},
		outputs: []string{"", "", sampleOutput},
	}
	c := clock.FakeAuto(time.Unix(0, 0))
	client := newTestClient(runner, c)

	if _, err := client.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	waits := c.Waits()
	if len(waits) != 2 || waits[0] != time.Second || waits[1] != 2*time.Second {
		t.Fatalf("unexpected backoff waits %v", waits)
	}
}

func TestClientFetchGivesUp(t *testing.T) {
	transport := errors.New("auth failed")
	runner := &fakeRunner{errs: []error{transport, transport, transport, transport}}
	c := clock.FakeAuto(time.Unix(0, 0))
	client := newTestClient(runner, c)

	_, err := client.Fetch(context.Background())
	var queryErr *QueryError
	if !errors.As(err, &queryErr) {
		t.Fatalf("expected QueryError, got %v", err)
	}
	if queryErr.Attempts != 3 || len(runner.commands) != 3 {
		t.Fatalf("expected 3 attempts, got %d (%d calls)", queryErr.Attempts, len(runner.commands))
	}
	if !errors.Is(err, transport) {
		t.Fatalf("expected wrapped transport error")
	}
	waits := c.Waits()
	if len(waits) != 2 || waits[1] != 2*time.Second {
		t.Fatalf("unexpected backoff waits %v", waits)
	}
}

func TestClientFetchDoesNotRetryParseErrors(t *testing.T) {
	runner := &fakeRunner{outputs: []string{"garbage\n"}}
	client := newTestClient(runner, clock.FakeAuto(time.Unix(0, 0)))

	_, err := client.Fetch(context.Background())
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if len(runner.commands) != 1 {
		t.Fatalf("expected a single attempt, got %d", len(runner.commands))
	}
}

func TestClientBackoffHonorsCancellation(t *testing.T) {
	transport := errors.New("timeout")
	runner := &fakeRunner{errs: []error{transport, transport, transport}}
	c := clock.Fake(time.Unix(0, 0))
	client := newTestClient(runner, c)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := client.Fetch(ctx)
		errCh <- err
	}()

	c.WaitForTimers(1)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("fetch did not stop on cancellation")
	}
}

func TestCheckCapability(t *testing.T) {
	ok := &fakeRunner{outputs: []string{"==============NVSMI LOG==============\nDriver Version : 535.104.05\n"}}
	if err := newTestClient(ok, clock.FakeAuto(time.Unix(0, 0))).CheckCapability(context.Background()); err != nil {
		t.Fatalf("CheckCapability returned error: %v", err)
	}
	if ok.commands[0] != CapabilityCommand {
		t.Fatalf("unexpected command %q", ok.commands[0])
	}

	missing := &fakeRunner{outputs: []string{"bash: nvidia-smi: command not found\n"}}
	err := newTestClient(missing, clock.FakeAuto(time.Unix(0, 0))).CheckCapability(context.Background())
	if !errors.Is(err, ErrCapability) {
		t.Fatalf("expected ErrCapability, got %v", err)
	}

	unreachable := &fakeRunner{errs: []error{errors.New("no route"), errors.New("no route"), errors.New("no route")}}
	err = newTestClient(unreachable, clock.FakeAuto(time.Unix(0, 0))).CheckCapability(context.Background())
	if !errors.Is(err, ErrCapability) {
		t.Fatalf("expected ErrCapability for unreachable host, got %v", err)
	}
}
