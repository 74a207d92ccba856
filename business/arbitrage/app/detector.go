package app

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fd1az/triarb/internal/logger"
)

// DetectorConfig holds configuration for the arbitrage detector.
type DetectorConfig struct {
	Interval    time.Duration
	Selector    string
	StartAmount decimal.Decimal
	AutoExecute bool
}

// Detector orchestrates periodic scans.
type Detector struct {
	scanner  *Scanner
	catalog  PathCatalog
	reporter Reporter
	executor Executor
	config   DetectorConfig
	logger   logger.LoggerInterface

	mu      sync.Mutex
	last    *ScanResult
	started bool
	done    chan struct{}
}

// NewDetector creates a new arbitrage Detector. executor may be nil when
// auto-execution is off.
func NewDetector(
	scanner *Scanner,
	catalog PathCatalog,
	reporter Reporter,
	executor Executor,
	config DetectorConfig,
	logger logger.LoggerInterface,
) *Detector {
	if config.Interval <= 0 {
		config.Interval = 10 * time.Second
	}
	return &Detector{
		scanner:  scanner,
		catalog:  catalog,
		reporter: reporter,
		executor: executor,
		config:   config,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start begins the arbitrage detection loop.
func (d *Detector) Start(ctx context.Context) error {
	d.logger.Info(ctx, "starting arbitrage detector",
		"interval", d.config.Interval,
		"selector", d.config.Selector,
		"start_amount", d.config.StartAmount.String(),
		"auto_execute", d.config.AutoExecute)

	// Fail fast on a broken catalog.
	if _, err := d.catalog.Paths(ctx, d.config.Selector); err != nil {
		return err
	}

	if err := d.reporter.Start(ctx); err != nil {
		return err
	}

	d.mu.Lock()
	d.started = true
	d.mu.Unlock()

	go d.run(ctx)
	return nil
}

func (d *Detector) run(ctx context.Context) {
	defer close(d.done)

	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	d.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			d.logger.Info(ctx, "detector stopping", "reason", ctx.Err())
			return
		case <-ticker.C:
			d.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single scan, reports it and, when enabled, executes
// the best opportunity recommended for execution.
func (d *Detector) RunOnce(ctx context.Context) *ScanResult {
	paths, err := d.catalog.Paths(ctx, d.config.Selector)
	if err != nil {
		d.logger.Error(ctx, "failed to load paths", "error", err)
		return nil
	}

	res, err := d.scanner.Scan(ctx, paths, d.config.StartAmount)
	if err != nil {
		if ctx.Err() == nil {
			d.logger.Error(ctx, "scan failed", "error", err)
		}
		return nil
	}

	d.mu.Lock()
	d.last = res
	d.mu.Unlock()

	d.reporter.ReportScan(res)
	for _, opp := range res.Opportunities {
		if opp.Profitable {
			d.reporter.Report(opp)
		}
	}
	d.logger.Debug(ctx, "scan complete",
		"paths", len(paths),
		"evaluated", len(res.Opportunities),
		"profitable", res.ProfitableCount(),
		"skipped", len(res.Skipped),
		"duration", res.Duration)

	if d.config.AutoExecute && d.executor != nil {
		if best := res.BestExecutable(); best != nil {
			if err := d.executor.ExecuteOpportunity(ctx, best); err != nil {
				d.logger.Warn(ctx, "auto-execution failed", "opportunity", best.ID, "error", err)
			}
		}
	}
	return res
}

// Last returns the most recent scan result.
func (d *Detector) Last() *ScanResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

// Stop gracefully shuts down the detector. The caller cancels the context
// passed to Start first.
func (d *Detector) Stop() error {
	d.logger.Info(context.Background(), "stopping arbitrage detector")
	d.mu.Lock()
	started := d.started
	d.mu.Unlock()
	if started {
		select {
		case <-d.done:
		case <-time.After(5 * time.Second):
		}
	}
	return d.reporter.Stop()
}
