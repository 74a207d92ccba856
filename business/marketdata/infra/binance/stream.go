package binance

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sugawarayuuta/sonnet"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/fd1az/triarb/business/marketdata/domain"
	"github.com/fd1az/triarb/internal/logger"
	"github.com/fd1az/triarb/internal/wsconn"
)

const (
	DefaultStreamURL = "wss://stream.binance.com:9443"
	streamLevels     = 20
	streamSpeedMs    = 100
)

// DepthStream keeps the latest partial-depth snapshot per subscribed pair.
type DepthStream struct {
	conn  *wsconn.Client
	stale time.Duration
	log   logger.LoggerInterface

	mu      sync.RWMutex
	pairs   map[string]domain.Pair
	books   map[domain.Pair]*domain.OrderBookSnapshot
	updates metric.Int64Counter
	errors  metric.Int64Counter
	now     func() time.Time
}

// NewDepthStream prepares a combined-stream subscription for pairs.
func NewDepthStream(baseURL string, pairs []domain.Pair, stale time.Duration, log logger.LoggerInterface) (*DepthStream, error) {
	if baseURL == "" {
		baseURL = DefaultStreamURL
	}
	if stale <= 0 {
		stale = 5 * time.Second
	}

	s := &DepthStream{
		stale: stale,
		log:   log,
		pairs: make(map[string]domain.Pair, len(pairs)),
		books: make(map[domain.Pair]*domain.OrderBookSnapshot, len(pairs)),
		now:   time.Now,
	}
	names := make([]string, 0, len(pairs))
	for _, p := range pairs {
		s.pairs[p.Symbol()] = p
		names = append(names, depthStreamName(p.Symbol(), streamLevels, streamSpeedMs))
	}

	u := strings.TrimSuffix(baseURL, "/") + "/stream?streams=" + url.PathEscape(strings.Join(names, "/"))
	conn, err := wsconn.New(wsconn.DefaultConfig(u, "binance-depth"))
	if err != nil {
		return nil, err
	}
	conn.OnMessage(s.handle)
	conn.OnStateChange(func(st wsconn.State, err error) {
		if err != nil {
			log.Warn(context.Background(), "binance depth stream state", "state", string(st), "error", err)
			return
		}
		log.Info(context.Background(), "binance depth stream state", "state", string(st))
	})
	s.conn = conn

	meter := otel.Meter(tracerName)
	s.updates, _ = meter.Int64Counter("binance_depth_updates_total")
	s.errors, _ = meter.Int64Counter("binance_depth_parse_errors_total")
	return s, nil
}

// Connect dials the stream; reconnects are handled by wsconn.
func (s *DepthStream) Connect(ctx context.Context) error {
	return s.conn.ConnectWithRetry(ctx)
}

func (s *DepthStream) Close() error {
	return s.conn.Close()
}

func (s *DepthStream) handle(ctx context.Context, msg []byte) {
	var env StreamEnvelope
	if err := sonnet.Unmarshal(msg, &env); err != nil || env.Stream == "" {
		s.errors.Add(ctx, 1)
		return
	}
	s.apply(symbolFromStream(env.Stream), env.Data)
	s.updates.Add(ctx, 1)
}

func (s *DepthStream) apply(symbol string, ev PartialDepthEvent) {
	s.mu.RLock()
	pair, ok := s.pairs[symbol]
	s.mu.RUnlock()
	if !ok {
		return
	}
	bids, err := parseLevels(ev.Bids)
	if err != nil {
		s.log.Debug(context.Background(), "bad bid levels", "symbol", symbol, "error", err)
		return
	}
	asks, err := parseLevels(ev.Asks)
	if err != nil {
		s.log.Debug(context.Background(), "bad ask levels", "symbol", symbol, "error", err)
		return
	}
	book := domain.NewOrderBookSnapshot(pair, bids, asks, s.now(), "binance-ws")

	s.mu.Lock()
	s.books[pair] = book
	s.mu.Unlock()
}

// Book returns the cached snapshot when it is fresh and has depth.
func (s *DepthStream) Book(pair domain.Pair, depth int) (*domain.OrderBookSnapshot, bool) {
	s.mu.RLock()
	b, ok := s.books[pair]
	s.mu.RUnlock()
	if !ok || b.Age(s.now()) > s.stale || len(b.Bids) == 0 || len(b.Asks) == 0 {
		return nil, false
	}
	if depth > 0 && (len(b.Bids) > depth || len(b.Asks) > depth) {
		return domain.NewOrderBookSnapshot(pair, truncate(b.Bids, depth), truncate(b.Asks, depth), b.Timestamp, b.Source), true
	}
	return b, true
}

func truncate(l []domain.PriceLevel, n int) []domain.PriceLevel {
	if len(l) > n {
		return l[:n]
	}
	return l
}
