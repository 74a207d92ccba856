// Package main is the entry point for the triangular arbitrage engine.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/fd1az/triarb/business/arbitrage"
	"github.com/fd1az/triarb/business/distribution"
	"github.com/fd1az/triarb/business/execution"
	"github.com/fd1az/triarb/business/marketdata"
	"github.com/fd1az/triarb/internal/apm"
	"github.com/fd1az/triarb/internal/config"
	"github.com/fd1az/triarb/internal/health"
	"github.com/fd1az/triarb/internal/logger"
	"github.com/fd1az/triarb/internal/metrics"
	"github.com/fd1az/triarb/internal/monolith"
	"github.com/fd1az/triarb/pkg/ui"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

const usage = `usage: triarb [flags] [command] [args]

commands:
  run                          scan periodically and report (default)
  scan                         scan once and print the ranked table
  execute <path-id>            evaluate one path and execute it
  depth <pair> <amount> <side> walk one side of a book for amount
  paths                        list or import the path catalog
  history                      show recent executions (needs storage.postgres_dsn)

flags:
`

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	configPath := flag.String("config", "", "Path to configuration file")
	cliMode := flag.Bool("cli", false, "Run in CLI mode with logs (no TUI)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("triarb %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	command, args := "run", flag.Args()
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}
	// TUI is the default for run, CLI is for debugging and one-shot commands
	tuiMode := command == "run" && !*cliMode

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		if !tuiMode {
			fmt.Fprintf(os.Stderr, "received shutdown signal: %v\n", sig)
		}
		cancel()
	}()

	var err error
	switch command {
	case "run":
		err = run(ctx, *configPath, tuiMode)
	case "scan":
		err = runScan(ctx, os.Stdout, *configPath, args)
	case "execute":
		err = runExecute(ctx, os.Stdout, *configPath, args)
	case "depth":
		err = runDepth(ctx, os.Stdout, *configPath, args)
	case "paths":
		err = runPaths(ctx, os.Stdout, *configPath, args)
	case "history":
		err = runHistory(ctx, *configPath, args)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// modules lists the bounded contexts in dependency order.
func modules() []monolith.Module {
	return []monolith.Module{
		&marketdata.Module{},   // venue adapter and gateway
		&execution.Module{},    // registers the Executor and Auditor hooks
		&arbitrage.Module{},    // detector consumes both hooks
		&distribution.Module{}, // reads through the marketdata gateway
	}
}

func loadConfig(configPath string, tuiMode bool) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.App.TUIMode = tuiMode
	return cfg, nil
}

func newLogger(cfg *config.Config, w io.Writer) *logger.Logger {
	return logger.New(w, logger.ParseLevel(cfg.App.LogLevel), cfg.App.Name, apm.TraceID)
}

func run(ctx context.Context, configPath string, tuiMode bool) error {
	cfg, err := loadConfig(configPath, tuiMode)
	if err != nil {
		return err
	}

	// In TUI mode, suppress logs (discard output)
	var log *logger.Logger
	if tuiMode {
		log = newLogger(cfg, io.Discard)
	} else {
		log = newLogger(cfg, os.Stderr)
		log.Info(ctx, "starting triangular arbitrage engine",
			"version", version,
			"environment", cfg.App.Environment,
			"venue", cfg.Exchange.Venue,
			"dry_run", cfg.Execution.DryRun,
		)
	}

	stopTelemetry, err := startTelemetry(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer stopTelemetry()

	healthServer := health.NewServer(cfg.App.HealthPort, version, log)
	healthServer.Start(ctx)
	defer healthServer.Close()

	mono := monolith.New(cfg, log)
	defer func() {
		if err := mono.Close(); err != nil {
			log.Error(context.Background(), "shutdown", "error", err)
		}
	}()
	mono.Container().Register(monolith.HealthKey, healthServer)

	mods := modules()
	if err := mono.RegisterModules(mods...); err != nil {
		return fmt.Errorf("failed to register modules: %w", err)
	}

	startFunc := func() error {
		if err := mono.StartModules(ctx, mods...); err != nil {
			return fmt.Errorf("failed to start modules: %w", err)
		}
		return nil
	}

	if tuiMode {
		return runTUI(ctx, startFunc)
	}

	if err := startFunc(); err != nil {
		return err
	}
	log.Info(ctx, "all modules started, beginning arbitrage detection")
	<-ctx.Done()
	log.Info(context.Background(), "shutting down")
	return nil
}

// startTelemetry installs tracing and metrics when enabled and returns
// their shutdown.
func startTelemetry(ctx context.Context, cfg *config.Config, log logger.LoggerInterface) (func(), error) {
	if !cfg.Telemetry.Enabled {
		return func() {}, nil
	}

	traceProvider, err := apm.NewTraceProvider(ctx, cfg.Telemetry, log)
	if err != nil {
		return nil, fmt.Errorf("failed to start tracing: %w", err)
	}
	meterProvider, err := metrics.NewMetricProvider(ctx, cfg.Telemetry)
	if err != nil {
		_ = traceProvider.Stop()
		return nil, fmt.Errorf("failed to start metrics: %w", err)
	}

	var prom *metrics.PromServer
	if cfg.Telemetry.PrometheusPort > 0 {
		prom = metrics.NewPromServer(cfg.Telemetry.PrometheusPort, log)
		prom.Start(ctx)
	}
	log.Info(ctx, "telemetry initialized",
		"exporter", cfg.Telemetry.TraceExporter,
		"prometheus_port", cfg.Telemetry.PrometheusPort)

	return func() {
		shutdownCtx := context.WithoutCancel(ctx)
		if prom != nil {
			_ = prom.Close()
		}
		if err := meterProvider.Shutdown(shutdownCtx); err != nil {
			log.Warn(shutdownCtx, "metrics shutdown", "error", err)
		}
		if err := traceProvider.Stop(); err != nil {
			log.Warn(shutdownCtx, "tracing shutdown", "error", err)
		}
	}, nil
}

func runTUI(ctx context.Context, startFunc func() error) error {
	// Channel to receive StartModulesMsg signal
	startSignal := make(chan struct{}, 1)
	ui.OnStartModules = func() {
		select {
		case startSignal <- struct{}{}:
		default:
		}
	}

	errCh := make(chan error, 1)
	go func() {
		// Wait for welcome screen to complete
		select {
		case <-startSignal:
		case <-ctx.Done():
			errCh <- nil
			return
		}

		// Connections happen here, the TUI shows progress
		if err := startFunc(); err != nil {
			ui.Send(ui.ErrorMsg{Error: err})
			errCh <- err
			return
		}
		<-ctx.Done()
		errCh <- nil
	}()

	// Run TUI (blocking) - shows immediately with welcome screen
	if err := ui.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}

	select {
	case err := <-errCh:
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	default:
		return nil
	}
}
