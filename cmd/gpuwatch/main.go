package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/gpuwatchhq/gpuwatch/internal/clock"
	"github.com/gpuwatchhq/gpuwatch/internal/config"
	"github.com/gpuwatchhq/gpuwatch/internal/events"
	"github.com/gpuwatchhq/gpuwatch/internal/health"
	"github.com/gpuwatchhq/gpuwatch/internal/inventory"
	"github.com/gpuwatchhq/gpuwatch/internal/logging"
	"github.com/gpuwatchhq/gpuwatch/internal/metrics"
	"github.com/gpuwatchhq/gpuwatch/internal/notify"
	"github.com/gpuwatchhq/gpuwatch/internal/probecli"
	"github.com/gpuwatchhq/gpuwatch/internal/scheduler"
	"github.com/gpuwatchhq/gpuwatch/internal/trigger"
)

const defaultMetricsAddr = "127.0.0.1:9320"

func main() {
	ctx := context.Background()

	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = run(ctx, os.Args[2:])
	case "probe":
		err = probecli.Run(ctx, os.Args[2:], probecli.Dependencies{
			Logger: logging.New("warn", true),
		})
	case "init":
		err = runInit(os.Args[2:], os.Stdout)
	case "-h", "--help", "help":
		printUsage(os.Stdout)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage(os.Stderr)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "command %s failed: %v\n", cmd, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	configPath := fs.String("config", config.PathFromEnv(), "Path to gpuwatch configuration file")
	pubKeyPath := fs.String("config-pubkey", "", "Minisign public key; when set the config must carry a valid .minisig signature")
	metricsAddr := fs.String("metrics-addr", defaultMetricsAddr, "Listen address for /metrics, /healthz and /readyz (empty disables)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	var storeOpts []config.StoreOption
	if *pubKeyPath != "" {
		verifier, err := config.NewVerifierFromFile(*pubKeyPath)
		if err != nil {
			return fmt.Errorf("load config public key: %w", err)
		}
		storeOpts = append(storeOpts, config.WithVerifier(verifier))
	}

	store, err := config.Open(ctx, *configPath, storeOpts...)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg := store.Current()

	logger := logging.New(cfg.Log.Level, cfg.Log.Pretty)
	logger.Info().
		Str("config", store.Path()).
		Str("host", cfg.Remote.Address()).
		Str("mode", string(cfg.Trigger.Mode)).
		Msg("gpuwatch starting")

	sleeper := scheduler.New(scheduler.WithClock(clock.Real()))
	metricsStore := metrics.NewStore()
	checker := health.NewChecker(metricsStore, 3*cfg.Trigger.PollInterval)
	recorder := events.NewMulti(
		metricsStore,
		checker,
		events.NewLogRecorder(logging.WithComponent(logger, "events")),
	)

	runner := inventory.NewSSHRunner(func() inventory.Target {
		return inventory.TargetFor(store.Current().Remote)
	}, logging.WithComponent(logger, "inventory"))
	client := inventory.NewClient(runner,
		inventory.WithSleeper(sleeper),
		inventory.WithLogger(logging.WithComponent(logger, "inventory")),
	)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := client.CheckCapability(runCtx); err != nil {
		return fmt.Errorf("startup capability check on %s: %w", cfg.Remote.Address(), err)
	}
	logger.Info().Str("host", cfg.Remote.Address()).Msg("inventory tool available")

	sender := notify.NewMailSender(func() notify.MailSettings {
		return notify.SettingsFor(store.Current().Mail)
	})
	dispatcher := notify.NewDispatcher(sender,
		notify.WithSleeper(sleeper),
		notify.WithLogger(logging.WithComponent(logger, "notify")),
		notify.WithRecorder(recorder),
	)

	engine := trigger.New(store, client, dispatcher,
		trigger.WithSleeper(sleeper),
		trigger.WithLogger(logging.WithComponent(logger, "engine")),
		trigger.WithRecorder(recorder),
		trigger.WithReloadHook(func(next *config.Config) {
			logging.SetLevel(next.Log.Level)
			checker.SetStaleAfter(3 * next.Trigger.PollInterval)
		}),
	)

	grp, groupCtx := errgroup.WithContext(runCtx)

	grp.Go(func() error {
		if err := engine.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if *metricsAddr != "" {
		grp.Go(func() error {
			return serveMonitoring(groupCtx, *metricsAddr, metricsStore, checker, sleeper.Clock(), logging.WithComponent(logger, "monitoring"))
		})
	}

	if err := grp.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		stop()
		return err
	}

	logger.Info().Msg("gpuwatch stopped")
	return nil
}

func runInit(args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("init", pflag.ContinueOnError)
	configPath := fs.String("config", config.PathFromEnv(), "Where to write the sample configuration")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := config.WriteSample(*configPath); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote sample configuration to %s\n", *configPath)
	return nil
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "gpuwatch: GPU availability notifier")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  gpuwatch run [--config /etc/gpuwatch/config.yaml] [--config-pubkey key.pub] [--metrics-addr 127.0.0.1:9320]")
	fmt.Fprintln(w, "  gpuwatch probe [--config path] [--notify] [--show-config]")
	fmt.Fprintln(w, "  gpuwatch init [--config path]")
}
