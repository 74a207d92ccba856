package app

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/fd1az/triarb/business/marketdata/domain"
	"github.com/fd1az/triarb/internal/apm"
	"github.com/fd1az/triarb/internal/apperror"
	"github.com/fd1az/triarb/internal/circuitbreaker"
	"github.com/fd1az/triarb/internal/logger"
	"github.com/fd1az/triarb/internal/retry"
)

const tracerName = "marketdata"

// GatewayConfig tunes the gateway.
type GatewayConfig struct {
	Depth       int
	Concurrency int
	Retry       retry.Policy
	Breaker     circuitbreaker.Config
}

// DefaultGatewayConfig returns defaults for venue.
func DefaultGatewayConfig(venue string) GatewayConfig {
	return GatewayConfig{
		Depth:       20,
		Concurrency: 8,
		Retry:       retry.DefaultPolicy(),
		Breaker:     circuitbreaker.DefaultConfig(venue + ".orderbook"),
	}
}

// Gateway serves order-book reads with retry, a circuit breaker and
// bounded fan-out.
type Gateway struct {
	client  ExchangeClient
	cfg     GatewayConfig
	breaker *circuitbreaker.Breaker[*domain.OrderBookSnapshot]
	log     logger.LoggerInterface
	tracer  trace.Tracer

	fetches  metric.Int64Counter
	failures metric.Int64Counter
	latency  metric.Float64Histogram
}

// NewGateway creates a Gateway over client.
func NewGateway(client ExchangeClient, cfg GatewayConfig, log logger.LoggerInterface) *Gateway {
	if cfg.Depth <= 0 {
		cfg.Depth = 20
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}

	bcfg := cfg.Breaker
	if bcfg.Name == "" {
		bcfg = circuitbreaker.DefaultConfig(client.Name() + ".orderbook")
	}
	// Empty books are data, not an outage.
	bcfg.IsSuccessful = func(err error) bool {
		return err == nil || apperror.HasCode(err, apperror.CodeDataUnavailable, apperror.CodeInvalidInput)
	}
	bcfg.OnStateChange = func(name string, from, to gobreaker.State) {
		log.Warn(context.Background(), "circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
	}

	meter := otel.Meter(tracerName)
	fetches, _ := meter.Int64Counter("marketdata_fetches_total", metric.WithDescription("Order book fetches"))
	failures, _ := meter.Int64Counter("marketdata_fetch_failures_total", metric.WithDescription("Order book fetches that failed after retries"))
	latency, _ := meter.Float64Histogram("marketdata_fetch_duration_ms", metric.WithUnit("ms"))

	return &Gateway{
		client:   client,
		cfg:      cfg,
		breaker:  circuitbreaker.New[*domain.OrderBookSnapshot](bcfg),
		log:      log,
		tracer:   otel.Tracer(tracerName),
		fetches:  fetches,
		failures: failures,
		latency:  latency,
	}
}

// Client returns the underlying exchange client.
func (g *Gateway) Client() ExchangeClient {
	return g.client
}

// OrderBook fetches one pair. Transient failures are retried with bounded
// exponential backoff; an empty side is reported as DataUnavailable.
func (g *Gateway) OrderBook(ctx context.Context, pair domain.Pair) (*domain.OrderBookSnapshot, error) {
	ctx, span := g.tracer.Start(ctx, "marketdata.order_book", trace.WithAttributes(
		attribute.String("pair", pair.String()),
		attribute.String("venue", g.client.Name()),
	))
	defer span.End()
	start := time.Now()

	policy := g.cfg.Retry
	policy.OnRetry = func(err error, wait time.Duration) {
		g.log.Debug(ctx, "retrying order book fetch", "pair", pair.String(), "wait", wait, "error", err)
	}

	book, err := retry.Do(ctx, policy, func(ctx context.Context) (*domain.OrderBookSnapshot, error) {
		return g.breaker.Execute(func() (*domain.OrderBookSnapshot, error) {
			b, err := g.client.GetOrderBook(ctx, pair, g.cfg.Depth)
			if err != nil {
				return nil, err
			}
			if len(b.Bids) == 0 || len(b.Asks) == 0 {
				return nil, apperror.New(apperror.CodeDataUnavailable,
					apperror.WithContextf("%s has an empty side (bids=%d asks=%d)", pair, len(b.Bids), len(b.Asks)))
			}
			return b, nil
		})
	})

	attrs := metric.WithAttributes(attribute.String("venue", g.client.Name()))
	g.fetches.Add(ctx, 1, attrs)
	g.latency.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
	if err != nil {
		g.failures.Add(ctx, 1, attrs)
		apm.NoticeError(span, err)
		if apperror.IsAppError(err) {
			return nil, err
		}
		return nil, apperror.New(apperror.CodeDataUnavailable,
			apperror.WithContext(pair.String()),
			apperror.WithCause(err))
	}
	return book, nil
}

// FetchMany fetches each distinct pair once, concurrently. Pairs that fail
// are reported in the error map rather than aborting the batch.
func (g *Gateway) FetchMany(ctx context.Context, pairs []domain.Pair) (domain.Books, map[domain.Pair]error) {
	ctx, span := g.tracer.Start(ctx, "marketdata.fetch_many")
	defer span.End()

	unique := make([]domain.Pair, 0, len(pairs))
	seen := make(map[domain.Pair]struct{}, len(pairs))
	for _, p := range pairs {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		unique = append(unique, p)
	}
	span.SetAttributes(attribute.Int("pairs", len(unique)))

	var mu sync.Mutex
	books := make(domain.Books, len(unique))
	errs := make(map[domain.Pair]error)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.Concurrency)
	for _, p := range unique {
		eg.Go(func() error {
			book, err := g.OrderBook(egCtx, p)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs[p] = err
				return nil
			}
			books[p] = book
			return nil
		})
	}
	_ = eg.Wait()

	if len(errs) > 0 {
		span.SetAttributes(attribute.Int("failed", len(errs)))
	}
	return books, errs
}

// Ping checks the venue answers a book request for pair.
func (g *Gateway) Ping(ctx context.Context, pair domain.Pair) error {
	_, err := g.OrderBook(ctx, pair)
	return err
}
