package probecli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/gpuwatchhq/gpuwatch/internal/config"
	"github.com/gpuwatchhq/gpuwatch/internal/inventory"
	"github.com/gpuwatchhq/gpuwatch/internal/notify"
	"github.com/gpuwatchhq/gpuwatch/internal/scheduler"
	"github.com/gpuwatchhq/gpuwatch/internal/selector"
	"github.com/gpuwatchhq/gpuwatch/internal/trigger"
)

const redactedMarker = "REDACTED"

// Dependencies lets tests replace the remote channel and mail transport.
type Dependencies struct {
	Out       io.Writer
	Logger    zerolog.Logger
	Sleeper   *scheduler.Sleeper
	NewRunner func(cfg *config.Config) inventory.Runner
	Sender    notify.Sender
}

// Run executes one capability check and poll against the configured host
// and prints the evaluation. With --notify it also dispatches one
// notification when the threshold is met.
func Run(ctx context.Context, args []string, deps Dependencies) error {
	if deps.Out == nil {
		deps.Out = os.Stdout
	}
	if deps.Sleeper == nil {
		deps.Sleeper = scheduler.New()
	}

	fs := pflag.NewFlagSet("probe", pflag.ContinueOnError)
	configPath := fs.String("config", config.PathFromEnv(), "Path to gpuwatch configuration file")
	sendNotice := fs.Bool("notify", false, "Send a notification if enough resources are available")
	showConfig := fs.Bool("show-config", false, "Print the effective configuration with secrets redacted")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(ctx, *configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if *showConfig {
		if err := writeRedacted(deps.Out, cfg); err != nil {
			return err
		}
	}

	runner := newRunner(deps, cfg)
	client := inventory.NewClient(runner,
		inventory.WithSleeper(deps.Sleeper),
		inventory.WithLogger(deps.Logger),
	)

	fmt.Fprintf(deps.Out, "Host: %s\n", cfg.Remote.Address())
	if err := client.CheckCapability(ctx); err != nil {
		return fmt.Errorf("capability check: %w", err)
	}
	fmt.Fprintln(deps.Out, "Capability: ok")

	snapshot, err := client.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch inventory: %w", err)
	}
	strategy, err := selector.For(cfg.Trigger.Selector)
	if err != nil {
		return err
	}
	result, err := strategy.Select(snapshot, cfg.Trigger.MemRate)
	if err != nil {
		return fmt.Errorf("select: %w", err)
	}

	met := len(result.Eligible) >= cfg.Trigger.Must
	now := deps.Sleeper.Now().In(cfg.Location())
	fmt.Fprintf(deps.Out, "Time: %s\n", now.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(deps.Out, "Resources: %d\n", len(snapshot))
	fmt.Fprintf(deps.Out, "Eligible: %v (threshold %.2f, must %d, met %t)\n", result.Eligible, cfg.Trigger.MemRate, cfg.Trigger.Must, met)
	fmt.Fprintln(deps.Out, result.Report)

	if !*sendNotice {
		return nil
	}
	if !met {
		fmt.Fprintln(deps.Out, "Notification: skipped (threshold not met)")
		return nil
	}

	sender := deps.Sender
	if sender == nil {
		sender = notify.NewMailSender(func() notify.MailSettings { return notify.SettingsFor(cfg.Mail) })
	}
	dispatcher := notify.NewDispatcher(sender,
		notify.WithSleeper(deps.Sleeper),
		notify.WithLogger(deps.Logger),
	)
	n := trigger.ComposeNotice(cfg, result, now)
	outcomes := dispatcher.Dispatch(ctx, n, notify.Policy{Delay: cfg.Mail.SendDelay, HourlyCap: cfg.Mail.MaxPerHour})

	var failed []error
	for _, o := range outcomes {
		if o.Succeeded() {
			fmt.Fprintf(deps.Out, "Notification to %s: sent\n", o.Recipient)
			continue
		}
		fmt.Fprintf(deps.Out, "Notification to %s: failed: %v\n", o.Recipient, o.Err)
		failed = append(failed, fmt.Errorf("%s: %w", o.Recipient, o.Err))
	}
	if len(failed) > 0 {
		return fmt.Errorf("notification delivery failed: %w", errors.Join(failed...))
	}
	return nil
}

func newRunner(deps Dependencies, cfg *config.Config) inventory.Runner {
	if deps.NewRunner != nil {
		return deps.NewRunner(cfg)
	}
	return inventory.NewSSHRunner(func() inventory.Target { return inventory.TargetFor(cfg.Remote) }, deps.Logger)
}

func writeRedacted(w io.Writer, cfg *config.Config) error {
	clone := *cfg
	clone.Mail.Recipients = append([]string(nil), cfg.Mail.Recipients...)
	clone.Trigger.QuietHours = append([]int(nil), cfg.Trigger.QuietHours...)
	if clone.Mail.Password != "" {
		clone.Mail.Password = redactedMarker
	}
	if clone.Remote.Password != "" {
		clone.Remote.Password = redactedMarker
	}
	data, err := yaml.Marshal(&clone)
	if err != nil {
		return fmt.Errorf("render config: %w", err)
	}
	_, err = w.Write(data)
	return err
}
