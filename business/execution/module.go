// Package execution implements the execution bounded context: the saga
// coordinator that turns an opportunity into market orders, with its
// persistence, journaling and per-account locking backends.
package execution

import (
	"context"
	"time"

	arbapp "github.com/fd1az/triarb/business/arbitrage/app"
	arbDI "github.com/fd1az/triarb/business/arbitrage/di"
	"github.com/fd1az/triarb/business/execution/app"
	exDI "github.com/fd1az/triarb/business/execution/di"
	"github.com/fd1az/triarb/business/execution/domain"
	"github.com/fd1az/triarb/business/execution/infra/postgres"
	"github.com/fd1az/triarb/business/execution/infra/redislock"
	"github.com/fd1az/triarb/business/execution/infra/s3archive"
	"github.com/fd1az/triarb/business/execution/infra/wal"
	"github.com/fd1az/triarb/business/marketdata"
	mdDI "github.com/fd1az/triarb/business/marketdata/di"
	"github.com/fd1az/triarb/internal/config"
	"github.com/fd1az/triarb/internal/di"
	"github.com/fd1az/triarb/internal/logger"
	"github.com/fd1az/triarb/internal/monolith"
	"github.com/fd1az/triarb/pkg/ui"
)

const connectTimeout = 10 * time.Second

// Module implements the execution bounded context.
type Module struct{}

// RegisterServices registers the coordinator, the configured backends and
// the arbitrage Executor/Auditor hooks.
func (m *Module) RegisterServices(c di.Container) error {
	cfg := c.Get(monolith.ConfigKey).(*config.Config)
	storage := cfg.Storage

	if storage.PostgresDSN != "" {
		di.RegisterToken(c, exDI.Postgres, func(sr di.ServiceRegistry) *postgres.Client {
			ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
			defer cancel()
			client, err := postgres.Connect(ctx, storage.PostgresDSN, 0)
			if err != nil {
				panic("failed to connect to postgres: " + err.Error())
			}
			return client
		})
		di.RegisterToken(c, exDI.History, func(sr di.ServiceRegistry) *postgres.Store {
			client, _ := exDI.LookupPostgres(sr)
			return postgres.NewStore(client.Pool())
		})
		// Every scan is audited once the database is there.
		di.RegisterToken(c, arbDI.Auditor, func(sr di.ServiceRegistry) arbapp.Auditor {
			return exDI.LookupHistory(sr)
		})
	}

	if storage.S3.Bucket != "" {
		di.RegisterToken(c, exDI.Archive, func(sr di.ServiceRegistry) *s3archive.Archive {
			ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
			defer cancel()
			archive, err := s3archive.New(ctx, storage.S3)
			if err != nil {
				panic("failed to create execution archive: " + err.Error())
			}
			return archive
		})
	}

	if storage.WALDir != "" {
		di.RegisterToken(c, exDI.Journal, func(sr di.ServiceRegistry) *wal.Journal {
			j, err := wal.Open(storage.WALDir)
			if err != nil {
				panic("failed to open execution journal: " + err.Error())
			}
			return j
		})
	}

	if storage.RedisURL != "" {
		di.RegisterToken(c, exDI.Locker, func(sr di.ServiceRegistry) *redislock.Locker {
			ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
			defer cancel()
			l, err := redislock.Dial(ctx, storage.RedisURL)
			if err != nil {
				panic("failed to connect to redis: " + err.Error())
			}
			return l
		})
	}

	di.RegisterToken(c, exDI.Store, func(sr di.ServiceRegistry) app.Store {
		var stores app.Stores
		if h := exDI.LookupHistory(sr); h != nil {
			stores = append(stores, h)
		}
		if a, ok := exDI.LookupArchive(sr); ok {
			stores = append(stores, a)
		}
		return stores
	})

	di.RegisterToken(c, exDI.Validator, func(sr di.ServiceRegistry) *app.BalanceValidator {
		cfg := sr.Get(monolith.ConfigKey).(*config.Config)
		return app.NewBalanceValidator(cfg.Execution.BalanceBufferDecimal().Shift(-2))
	})

	di.RegisterToken(c, exDI.Coordinator, func(sr di.ServiceRegistry) *app.Coordinator {
		cfg := sr.Get(monolith.ConfigKey).(*config.Config)
		log := sr.Get(monolith.LoggerKey).(logger.LoggerInterface)

		opts := []app.Option{app.WithStore(exDI.GetStore(sr))}
		if j, ok := exDI.LookupJournal(sr); ok {
			opts = append(opts, app.WithJournal(j))
		}
		if l, ok := exDI.LookupLocker(sr); ok {
			opts = append(opts, app.WithLocker(l, cfg.Execution.LockTTL))
		}
		return app.NewCoordinator(mdDI.GetClientFactory(sr), exDI.GetValidator(sr), log, opts...)
	})

	di.RegisterToken(c, arbDI.Executor, func(sr di.ServiceRegistry) arbapp.Executor {
		cfg := sr.Get(monolith.ConfigKey).(*config.Config)
		var notify func(*domain.ExecutionResult)
		if cfg.App.TUIMode {
			notify = func(res *domain.ExecutionResult) { ui.Send(ExecutionMsg(res)) }
		}
		return app.NewAutoExecutor(exDI.GetCoordinator(sr),
			marketdata.Credentials(cfg.Exchange), Options(cfg), notify)
	})

	return nil
}

// Startup migrates the database, registers backend health checks and
// reports attempts the journal shows were interrupted.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	log := mono.Logger()
	sr := mono.Services()

	if pg, ok := exDI.LookupPostgres(sr); ok {
		mono.OnClose(pg)
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		monolith.RegisterHealthCheck(sr, "postgres", pg.Ping)
	}
	if a, ok := exDI.LookupArchive(sr); ok {
		monolith.RegisterHealthCheck(sr, "s3", a.Ping)
	}
	if l, ok := exDI.LookupLocker(sr); ok {
		mono.OnClose(l)
		monolith.RegisterHealthCheck(sr, "redis", l.Ping)
	}
	if j, ok := exDI.LookupJournal(sr); ok {
		mono.OnClose(j)
		unfinished, err := j.Unfinished()
		if err != nil {
			return err
		}
		for id, last := range unfinished {
			log.Warn(ctx, "execution did not finish before shutdown, reconcile balances",
				"execution_id", id, "last_transition", last.String(), "at", last.At)
		}
	}

	// Resolve eagerly so a bad backend fails startup rather than the first trade.
	_ = exDI.GetCoordinator(sr)

	cfg := mono.Config()
	log.Info(ctx, "execution module started",
		"dry_run", cfg.Execution.DryRun,
		"account", cfg.Exchange.AccountID,
		"max_slippage", cfg.Execution.MaxSlippageFraction,
		"per_leg_timeout", cfg.Execution.PerLegTimeout)
	return nil
}

// Options maps configuration onto coordinator options.
func Options(cfg *config.Config) domain.Options {
	return domain.Options{
		MaxSlippage:   cfg.Execution.MaxSlippageDecimal(),
		PerLegTimeout: cfg.Execution.PerLegTimeout,
		PollInterval:  cfg.Execution.PollInterval,
		DryRun:        cfg.Execution.DryRun,
		Jitter:        cfg.Execution.JitterDecimal(),
		FeeRate:       cfg.Engine.FeeRateDecimal(),
	}
}

// ExecutionMsg converts a result into the TUI message.
func ExecutionMsg(res *domain.ExecutionResult) ui.ExecutionMsg {
	return ui.ExecutionMsg{
		ID:        res.ID,
		PathID:    res.PathID,
		Success:   res.Success,
		DryRun:    res.DryRun,
		NetProfit: res.NetProfit,
		Currency:  res.StartCurrency,
		Rollbacks: len(res.Rollbacks),
		Error:     res.Error,
	}
}
