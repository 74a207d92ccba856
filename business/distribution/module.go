// Package distribution implements the price distribution bounded context:
// a listener registry fed by periodic order-book reads and served over
// WebSocket.
package distribution

import (
	"context"

	"github.com/fd1az/triarb/business/distribution/app"
	distDI "github.com/fd1az/triarb/business/distribution/di"
	"github.com/fd1az/triarb/business/distribution/infra/wsserver"
	mdDI "github.com/fd1az/triarb/business/marketdata/di"
	"github.com/fd1az/triarb/internal/config"
	"github.com/fd1az/triarb/internal/di"
	"github.com/fd1az/triarb/internal/logger"
	"github.com/fd1az/triarb/internal/monolith"
)

// Module implements the distribution bounded context.
type Module struct{}

// RegisterServices registers the registry, poller and WebSocket server.
func (m *Module) RegisterServices(c di.Container) error {
	di.RegisterToken(c, distDI.Registry, func(sr di.ServiceRegistry) *app.Registry {
		cfg := sr.Get(monolith.ConfigKey).(*config.Config)
		log := sr.Get(monolith.LoggerKey).(logger.LoggerInterface)
		return app.NewRegistry(app.RegistryConfig{
			IdleTimeout: cfg.Distribution.IdleTimeout,
			Buffer:      cfg.Distribution.SendBuffer,
		}, log)
	})

	di.RegisterToken(c, distDI.Poller, func(sr di.ServiceRegistry) *app.Poller {
		cfg := sr.Get(monolith.ConfigKey).(*config.Config)
		log := sr.Get(monolith.LoggerKey).(logger.LoggerInterface)
		return app.NewPoller(mdDI.GetGateway(sr), distDI.GetRegistry(sr), cfg.Distribution.PollInterval, log)
	})

	di.RegisterToken(c, distDI.Server, func(sr di.ServiceRegistry) *wsserver.Server {
		cfg := sr.Get(monolith.ConfigKey).(*config.Config)
		log := sr.Get(monolith.LoggerKey).(logger.LoggerInterface)
		return wsserver.New(wsserver.Config{Addr: cfg.Distribution.ListenAddr}, distDI.GetRegistry(sr), log)
	})

	return nil
}

// Startup starts the poller and server when distribution is enabled.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	cfg := mono.Config()
	if !cfg.Distribution.Enabled {
		return nil
	}
	sr := mono.Services()

	registry := distDI.GetRegistry(sr)
	mono.OnClose(registry)

	poller := distDI.GetPoller(sr)
	if err := poller.Start(ctx); err != nil {
		return err
	}
	mono.OnClose(closerFunc(poller.Stop))

	server := distDI.GetServer(sr)
	if err := server.Start(ctx); err != nil {
		return err
	}
	// Server closes first so handlers stop reading before the registry is emptied.
	mono.OnClose(server)

	mono.Logger().Info(ctx, "distribution module started",
		"addr", server.Addr(),
		"poll_interval", cfg.Distribution.PollInterval,
		"idle_timeout", cfg.Distribution.IdleTimeout)
	return nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
