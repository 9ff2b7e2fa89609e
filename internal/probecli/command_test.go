package probecli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gpuwatchhq/gpuwatch/internal/clock"
	"github.com/gpuwatchhq/gpuwatch/internal/config"
	"github.com/gpuwatchhq/gpuwatch/internal/inventory"
	"github.com/gpuwatchhq/gpuwatch/internal/scheduler"
	"github.com/gpuwatchhq/gpuwatch/pkg/types"
)

const configYAML = `
mail:
  from: robot@example.com
  smtp_server: smtp.example.com
  password: mail-secret
  recipients: [ops@example.com]
remote:
  host: 10.0.0.5
  username: root
  password: ssh-secret
trigger:
  mode: level
  timezone: UTC
`

const queryOutput = `0, NVIDIA A100, 40000 MiB, 40000 MiB, 50.00 W, 400.00 W, 30, 2026/10/18 09:00:00.000
1, NVIDIA A100, 1000 MiB, 40000 MiB, 300.00 W, 400.00 W, 70, 2026/10/18 09:00:00.000
`

type scriptedRunner struct {
	outputs map[string]string
	errs    map[string]error
}

func (r *scriptedRunner) Run(ctx context.Context, command string) ([]byte, error) {
	if err := r.errs[command]; err != nil {
		return nil, err
	}
	return []byte(r.outputs[command]), nil
}

type recordingSender struct {
	recipients []string
	err        error
}

func (s *recordingSender) Send(ctx context.Context, recipient string, n types.Notification) error {
	s.recipients = append(s.recipients, recipient)
	return s.err
}

func healthyRunner() *scriptedRunner {
	return &scriptedRunner{outputs: map[string]string{
		inventory.CapabilityCommand: "==============NVSMI LOG==============\n",
		inventory.QueryCommand():    queryOutput,
	}}
}

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func testDeps(out *bytes.Buffer, runner inventory.Runner, sender *recordingSender) Dependencies {
	return Dependencies{
		Out:       out,
		Sleeper:   scheduler.New(scheduler.WithClock(clock.FakeAuto(time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)))),
		NewRunner: func(*config.Config) inventory.Runner { return runner },
		Sender:    sender,
	}
}

func TestRunPrintsEvaluation(t *testing.T) {
	var out bytes.Buffer
	sender := &recordingSender{}
	err := Run(context.Background(), []string{"--config", writeConfig(t)}, testDeps(&out, healthyRunner(), sender))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	for _, want := range []string{"Host: 10.0.0.5:22", "Capability: ok", "Resources: 2", "Eligible: [0]", "met true"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("expected %q in output:\n%s", want, out.String())
		}
	}
	if len(sender.recipients) != 0 {
		t.Fatalf("expected no notification without --notify")
	}
}

func TestRunNotify(t *testing.T) {
	var out bytes.Buffer
	sender := &recordingSender{}
	err := Run(context.Background(), []string{"--config", writeConfig(t), "--notify"}, testDeps(&out, healthyRunner(), sender))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(sender.recipients) != 1 || sender.recipients[0] != "ops@example.com" {
		t.Fatalf("unexpected recipients %v", sender.recipients)
	}
	if !strings.Contains(out.String(), "Notification to ops@example.com: sent") {
		t.Fatalf("expected delivery line in output:\n%s", out.String())
	}
}

func TestRunNotifyReportsFailure(t *testing.T) {
	var out bytes.Buffer
	sender := &recordingSender{err: errors.New("535 authentication failed")}
	err := Run(context.Background(), []string{"--config", writeConfig(t), "--notify"}, testDeps(&out, healthyRunner(), sender))
	if err == nil || !strings.Contains(err.Error(), "authentication failed") {
		t.Fatalf("expected delivery error, got %v", err)
	}
}

func TestRunCapabilityFailure(t *testing.T) {
	var out bytes.Buffer
	runner := &scriptedRunner{outputs: map[string]string{inventory.CapabilityCommand: "bash: nvidia-smi: command not found"}}
	err := Run(context.Background(), []string{"--config", writeConfig(t)}, testDeps(&out, runner, &recordingSender{}))
	if !errors.Is(err, inventory.ErrCapability) {
		t.Fatalf("expected ErrCapability, got %v", err)
	}
}

func TestRunShowConfigRedactsSecrets(t *testing.T) {
	var out bytes.Buffer
	err := Run(context.Background(), []string{"--config", writeConfig(t), "--show-config"}, testDeps(&out, healthyRunner(), &recordingSender{}))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if strings.Contains(out.String(), "mail-secret") || strings.Contains(out.String(), "ssh-secret") {
		t.Fatalf("secrets leaked:\n%s", out.String())
	}
	if !strings.Contains(out.String(), redactedMarker) {
		t.Fatalf("expected redaction marker:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "poll_interval: 1m0s") {
		t.Fatalf("expected durations rendered as strings:\n%s", out.String())
	}
}

func TestRunMissingConfig(t *testing.T) {
	var out bytes.Buffer
	err := Run(context.Background(), []string{"--config", filepath.Join(t.TempDir(), "absent.yaml")}, testDeps(&out, healthyRunner(), &recordingSender{}))
	if err == nil || !strings.Contains(err.Error(), "load config") {
		t.Fatalf("unexpected error: %v", err)
	}
}
