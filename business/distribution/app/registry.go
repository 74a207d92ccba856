// Package app contains the price distribution registry and the poller that
// feeds it from the market-data gateway.
package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	md "github.com/fd1az/triarb/business/marketdata/domain"
	"github.com/fd1az/triarb/internal/logger"
)

const tracerName = "distribution"

// Update is the top of book pushed to listeners.
type Update struct {
	Pair      md.Pair         `json:"pair"`
	Bid       decimal.Decimal `json:"bid"`
	BidSize   decimal.Decimal `json:"bid_size"`
	Ask       decimal.Decimal `json:"ask"`
	AskSize   decimal.Decimal `json:"ask_size"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
}

// UpdateFromBook builds an Update from the best levels of book. ok is false
// when either side is empty.
func UpdateFromBook(book *md.OrderBookSnapshot) (Update, bool) {
	bid, okBid := book.BestBid()
	ask, okAsk := book.BestAsk()
	if !okBid || !okAsk {
		return Update{}, false
	}
	return Update{
		Pair:      book.Pair,
		Bid:       bid.Price,
		BidSize:   bid.Quantity,
		Ask:       ask.Price,
		AskSize:   ask.Quantity,
		Timestamp: book.Timestamp,
		Source:    book.Source,
	}, true
}

// Listener is one subscriber. Updates arrive on C until the listener is
// removed, at which point C is closed.
type Listener struct {
	ID string

	ch chan Update

	mu       sync.Mutex
	pairs    map[md.Pair]struct{}
	lastSeen time.Time
	missed   int
}

// C returns the update channel.
func (l *Listener) C() <-chan Update {
	return l.ch
}

// Missed returns how many updates were skipped because the buffer was full.
func (l *Listener) Missed() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.missed
}

func (l *Listener) wants(p md.Pair) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.pairs[p]
	return ok
}

// RegistryConfig tunes a Registry.
type RegistryConfig struct {
	// IdleTimeout drops listeners that have not been touched for this long.
	IdleTimeout time.Duration
	// Buffer is the per-listener update queue length.
	Buffer int
}

// Registry tracks listeners and the pairs they follow. Broadcast never
// blocks on a slow listener.
type Registry struct {
	cfg RegistryConfig
	log logger.LoggerInterface
	now func() time.Time

	mu        sync.RWMutex
	listeners map[string]*Listener

	delivered metric.Int64Counter
	skipped   metric.Int64Counter
	dropped   metric.Int64Counter
}

// NewRegistry creates an empty Registry.
func NewRegistry(cfg RegistryConfig, log logger.LoggerInterface) *Registry {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = time.Minute
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 16
	}

	meter := otel.Meter(tracerName)
	delivered, _ := meter.Int64Counter("distribution_updates_delivered_total", metric.WithDescription("Updates queued to listeners"))
	skipped, _ := meter.Int64Counter("distribution_updates_skipped_total", metric.WithDescription("Updates skipped for listeners with a full buffer"))
	dropped, _ := meter.Int64Counter("distribution_listeners_dropped_total", metric.WithDescription("Listeners dropped as idle"))

	return &Registry{
		cfg:       cfg,
		log:       log,
		now:       time.Now,
		listeners: make(map[string]*Listener),
		delivered: delivered,
		skipped:   skipped,
		dropped:   dropped,
	}
}

// Add registers a listener following pairs.
func (r *Registry) Add(pairs ...md.Pair) *Listener {
	l := &Listener{
		ID:       uuid.NewString(),
		ch:       make(chan Update, r.cfg.Buffer),
		pairs:    make(map[md.Pair]struct{}, len(pairs)),
		lastSeen: r.now(),
	}
	for _, p := range pairs {
		l.pairs[p] = struct{}{}
	}

	r.mu.Lock()
	r.listeners[l.ID] = l
	n := len(r.listeners)
	r.mu.Unlock()

	r.log.Debug(context.Background(), "listener added", "listener", l.ID, "pairs", len(pairs), "total", n)
	return l
}

// Remove unregisters id and closes its channel. Unknown ids are ignored.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	l, ok := r.listeners[id]
	if ok {
		delete(r.listeners, id)
		close(l.ch)
	}
	r.mu.Unlock()
}

// Subscribe adds pairs to id's set.
func (r *Registry) Subscribe(id string, pairs ...md.Pair) bool {
	l := r.get(id)
	if l == nil {
		return false
	}
	l.mu.Lock()
	for _, p := range pairs {
		l.pairs[p] = struct{}{}
	}
	l.mu.Unlock()
	return true
}

// Unsubscribe removes pairs from id's set.
func (r *Registry) Unsubscribe(id string, pairs ...md.Pair) bool {
	l := r.get(id)
	if l == nil {
		return false
	}
	l.mu.Lock()
	for _, p := range pairs {
		delete(l.pairs, p)
	}
	l.mu.Unlock()
	return true
}

// Touch marks id as alive. Transports call it whenever the peer proves it
// is still reading.
func (r *Registry) Touch(id string) {
	l := r.get(id)
	if l == nil {
		return
	}
	now := r.now()
	l.mu.Lock()
	l.lastSeen = now
	l.mu.Unlock()
}

// Pairs returns the union of subscribed pairs, sorted by symbol.
func (r *Registry) Pairs() []md.Pair {
	set := make(map[md.Pair]struct{})
	r.mu.RLock()
	for _, l := range r.listeners {
		l.mu.Lock()
		for p := range l.pairs {
			set[p] = struct{}{}
		}
		l.mu.Unlock()
	}
	r.mu.RUnlock()

	out := make([]md.Pair, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Len returns the number of listeners.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners)
}

// Broadcast queues u for every listener following its pair and returns how
// many accepted it. A listener with a full buffer misses the update.
func (r *Registry) Broadcast(ctx context.Context, u Update) int {
	delivered, skipped := 0, 0

	r.mu.RLock()
	for _, l := range r.listeners {
		if !l.wants(u.Pair) {
			continue
		}
		select {
		case l.ch <- u:
			delivered++
		default:
			skipped++
			l.mu.Lock()
			l.missed++
			l.mu.Unlock()
		}
	}
	r.mu.RUnlock()

	if delivered > 0 {
		r.delivered.Add(ctx, int64(delivered))
	}
	if skipped > 0 {
		r.skipped.Add(ctx, int64(skipped))
	}
	return delivered
}

// Sweep removes listeners idle longer than the configured timeout and
// returns their ids.
func (r *Registry) Sweep(ctx context.Context) []string {
	cutoff := r.now().Add(-r.cfg.IdleTimeout)

	r.mu.Lock()
	var ids []string
	for id, l := range r.listeners {
		l.mu.Lock()
		idle := l.lastSeen.Before(cutoff)
		l.mu.Unlock()
		if idle {
			delete(r.listeners, id)
			close(l.ch)
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()

	if len(ids) > 0 {
		r.dropped.Add(ctx, int64(len(ids)))
		r.log.Info(ctx, "dropped idle listeners", "count", len(ids), "idle_timeout", r.cfg.IdleTimeout)
	}
	return ids
}

// Close removes every listener.
func (r *Registry) Close() error {
	r.mu.Lock()
	for id, l := range r.listeners {
		delete(r.listeners, id)
		close(l.ch)
	}
	r.mu.Unlock()
	return nil
}

func (r *Registry) get(id string) *Listener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listeners[id]
}
