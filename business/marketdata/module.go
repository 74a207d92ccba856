// Package marketdata implements the market-data bounded context: venue
// adapters and the order-book gateway.
package marketdata

import (
	"context"
	"time"

	"github.com/fd1az/triarb/business/marketdata/app"
	mdDI "github.com/fd1az/triarb/business/marketdata/di"
	"github.com/fd1az/triarb/business/marketdata/domain"
	"github.com/fd1az/triarb/business/marketdata/infra/binance"
	"github.com/fd1az/triarb/business/marketdata/infra/paper"
	"github.com/fd1az/triarb/business/marketdata/infra/valr"
	"github.com/fd1az/triarb/internal/config"
	"github.com/fd1az/triarb/internal/di"
	"github.com/fd1az/triarb/internal/logger"
	"github.com/fd1az/triarb/internal/monolith"
	"github.com/fd1az/triarb/internal/retry"
)

// Module implements the marketdata bounded context.
type Module struct{}

// RegisterServices registers the venue adapter selected by config.
func (m *Module) RegisterServices(c di.Container) error {
	// Depth stream is only used by the binance venue and only when pairs are configured.
	di.RegisterToken(c, mdDI.DepthStream, func(sr di.ServiceRegistry) *binance.DepthStream {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		if cfg.Exchange.Venue != config.VenueBinance || len(cfg.Exchange.StreamPairs) == 0 {
			return nil
		}
		pairs := make([]domain.Pair, 0, len(cfg.Exchange.StreamPairs))
		for _, s := range cfg.Exchange.StreamPairs {
			p, err := domain.ParsePair(s)
			if err != nil {
				panic("invalid stream pair: " + err.Error())
			}
			pairs = append(pairs, p)
		}
		stream, err := binance.NewDepthStream(cfg.Exchange.StreamURL, pairs, cfg.Exchange.StaleTimeout, log)
		if err != nil {
			panic("failed to create binance depth stream: " + err.Error())
		}
		return stream
	})

	di.RegisterToken(c, mdDI.ClientFactory, func(sr di.ServiceRegistry) app.ClientFactory {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		switch cfg.Exchange.Venue {
		case config.VenueBinance:
			return binance.NewFactory(binance.Config{
				BaseURL: cfg.Exchange.BaseURL,
				Timeout: cfg.Exchange.Timeout,
				FeeRate: cfg.Engine.FeeRateDecimal(),
			}, mdDI.GetDepthStream(sr), log)
		case config.VenueVALR:
			return valr.NewFactory(valr.Config{
				BaseURL:           cfg.Exchange.BaseURL,
				Timeout:           cfg.Exchange.Timeout,
				RequestsPerMinute: cfg.Exchange.RequestsPM,
			}, log)
		default:
			ex, err := paper.FromConfig(cfg.Exchange, cfg.Engine.FeeRateDecimal(), log)
			if err != nil {
				panic("failed to create paper exchange: " + err.Error())
			}
			return ex
		}
	})

	// ExchangeClient acts for the configured account.
	di.RegisterToken(c, mdDI.ExchangeClient, func(sr di.ServiceRegistry) app.ExchangeClient {
		cfg := sr.Get("config").(*config.Config)
		client, err := mdDI.GetClientFactory(sr).ForAccount(Credentials(cfg.Exchange))
		if err != nil {
			panic("failed to create exchange client: " + err.Error())
		}
		return client
	})

	di.RegisterToken(c, mdDI.Gateway, func(sr di.ServiceRegistry) *app.Gateway {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		client := mdDI.GetExchangeClient(sr)

		gcfg := app.DefaultGatewayConfig(client.Name())
		gcfg.Depth = cfg.Exchange.BookDepth
		gcfg.Concurrency = cfg.Scanner.Concurrency
		gcfg.Retry = retry.Policy{
			InitialInterval: cfg.Exchange.Retry.InitialInterval,
			MaxInterval:     cfg.Exchange.Retry.MaxInterval,
			MaxElapsed:      cfg.Exchange.Retry.MaxElapsed,
			MaxTries:        cfg.Exchange.Retry.MaxTries,
		}
		return app.NewGateway(client, gcfg, log)
	})

	return nil
}

// Startup connects the depth stream when one is configured.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	log := mono.Logger()

	stream := mdDI.GetDepthStream(mono.Services())
	if stream != nil {
		mono.OnClose(stream)
		// Connect in the background; the gateway falls back to REST until the stream is up.
		go func() {
			connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			if err := stream.Connect(connectCtx); err != nil {
				log.Warn(ctx, "binance depth stream unavailable, using REST", "error", err)
				return
			}
			log.Info(ctx, "binance depth stream connected")
		}()
	}

	log.Info(ctx, "marketdata module started", "venue", mdDI.GetExchangeClient(mono.Services()).Name())
	return nil
}

// Credentials returns the configured account's credentials.
func Credentials(cfg config.ExchangeConfig) domain.Credentials {
	return domain.Credentials{
		AccountID: cfg.AccountID,
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	}
}
