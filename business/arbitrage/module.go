// Package arbitrage implements the arbitrage bounded context: path catalog,
// profit calculation and periodic opportunity detection.
package arbitrage

import (
	"context"
	"io"

	"github.com/fd1az/triarb/business/arbitrage/app"
	arbDI "github.com/fd1az/triarb/business/arbitrage/di"
	"github.com/fd1az/triarb/business/arbitrage/infra"
	"github.com/fd1az/triarb/business/arbitrage/infra/catalog"
	mdDI "github.com/fd1az/triarb/business/marketdata/di"
	"github.com/fd1az/triarb/internal/config"
	"github.com/fd1az/triarb/internal/di"
	"github.com/fd1az/triarb/internal/logger"
	"github.com/fd1az/triarb/internal/monolith"
)

// Module implements the arbitrage bounded context.
type Module struct{}

// RegisterServices registers calculator, catalog, scanner, reporter and detector.
func (m *Module) RegisterServices(c di.Container) error {
	di.RegisterToken(c, arbDI.Calculator, func(sr di.ServiceRegistry) *app.Calculator {
		cfg := sr.Get("config").(*config.Config)
		return app.NewCalculator(app.ParamsFromConfig(cfg.Engine))
	})

	di.RegisterToken(c, arbDI.Catalog, func(sr di.ServiceRegistry) app.PathCatalog {
		cfg := sr.Get("config").(*config.Config)
		if cfg.Scanner.CatalogSource == config.CatalogSQLite {
			cat, err := catalog.OpenSQLite(cfg.Scanner.CatalogPath)
			if err != nil {
				panic("failed to open path catalog: " + err.Error())
			}
			return cat
		}
		return catalog.NewYAML(cfg.Scanner.CatalogPath)
	})

	di.RegisterToken(c, arbDI.Scanner, func(sr di.ServiceRegistry) *app.Scanner {
		log := sr.Get("logger").(logger.LoggerInterface)
		var opts []app.ScannerOption
		if a := arbDI.LookupAuditor(sr); a != nil {
			opts = append(opts, app.WithAuditor(a))
		}
		return app.NewScanner(mdDI.GetGateway(sr), arbDI.GetCalculator(sr), log, opts...)
	})

	di.RegisterToken(c, arbDI.Reporter, func(sr di.ServiceRegistry) app.Reporter {
		cfg := sr.Get("config").(*config.Config)
		if cfg.App.TUIMode {
			return infra.NewTUIReporter()
		}
		return infra.NewConsoleReporter()
	})

	di.RegisterToken(c, arbDI.Detector, func(sr di.ServiceRegistry) *app.Detector {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		return app.NewDetector(
			arbDI.GetScanner(sr),
			arbDI.GetCatalog(sr),
			arbDI.GetReporter(sr),
			arbDI.LookupExecutor(sr),
			app.DetectorConfig{
				Interval:    cfg.Scanner.Interval,
				Selector:    cfg.Scanner.Selector,
				StartAmount: cfg.Engine.StartAmountDecimal(),
				AutoExecute: cfg.Scanner.AutoExecute,
			},
			log,
		)
	})

	return nil
}

// Startup starts the periodic detector.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	log := mono.Logger()
	sr := mono.Services()

	cat := arbDI.GetCatalog(sr)
	if c, ok := cat.(io.Closer); ok {
		mono.OnClose(c)
	}
	if p, ok := cat.(interface{ Ping(context.Context) error }); ok {
		monolith.RegisterHealthCheck(sr, "catalog", p.Ping)
	}

	cfg := mono.Config()
	// The exchange is probed with the first pair the detector will read.
	if paths, err := cat.Paths(ctx, cfg.Scanner.Selector); err == nil && len(paths) > 0 {
		probe := paths[0].Steps[0].Pair
		gateway := mdDI.GetGateway(sr)
		monolith.RegisterHealthCheck(sr, "exchange", func(ctx context.Context) error {
			return gateway.Ping(ctx, probe)
		})
	}

	reporter := arbDI.GetReporter(sr)
	reporter.UpdateConnectionStatus(mdDI.GetExchangeClient(sr).Name(), true, 0)

	detector := arbDI.GetDetector(sr)
	if err := detector.Start(ctx); err != nil {
		return err
	}
	mono.OnClose(closerFunc(detector.Stop))

	log.Info(ctx, "arbitrage module started",
		"catalog", cfg.Scanner.CatalogPath,
		"selector", cfg.Scanner.Selector,
		"interval", cfg.Scanner.Interval,
		"auto_execute", cfg.Scanner.AutoExecute)
	return nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
