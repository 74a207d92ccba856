package app

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	mdapp "github.com/fd1az/triarb/business/marketdata/app"
	"github.com/fd1az/triarb/internal/logger"
)

// Poller re-reads every subscribed pair on an interval and broadcasts the
// top of book.
type Poller struct {
	books    mdapp.BookReader
	registry *Registry
	interval time.Duration
	log      logger.LoggerInterface
	tracer   trace.Tracer

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewPoller creates a Poller.
func NewPoller(books mdapp.BookReader, registry *Registry, interval time.Duration, log logger.LoggerInterface) *Poller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Poller{
		books:    books,
		registry: registry,
		interval: interval,
		log:      log,
		tracer:   otel.Tracer(tracerName),
	}
}

// Start runs the poll loop until Stop or ctx is done.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	p.running = true
	go p.loop(ctx)
	return nil
}

// Stop halts the loop and waits for the current tick to finish.
func (p *Poller) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.cancel()
	done := p.done
	p.running = false
	p.mu.Unlock()

	<-done
	return nil
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick sweeps idle listeners, then fetches and broadcasts every subscribed
// pair once. It returns the number of updates queued.
func (p *Poller) Tick(ctx context.Context) int {
	p.registry.Sweep(ctx)

	pairs := p.registry.Pairs()
	if len(pairs) == 0 {
		return 0
	}

	ctx, span := p.tracer.Start(ctx, "distribution.tick",
		trace.WithAttributes(attribute.Int("pairs", len(pairs))))
	defer span.End()

	books, errs := p.books.FetchMany(ctx, pairs)
	for pair, err := range errs {
		p.log.Debug(ctx, "skipping pair", "pair", pair.String(), "error", err)
	}

	queued := 0
	for _, pair := range pairs {
		book, ok := books[pair]
		if !ok {
			continue
		}
		u, ok := UpdateFromBook(book)
		if !ok {
			continue
		}
		queued += p.registry.Broadcast(ctx, u)
	}
	span.SetAttributes(attribute.Int("queued", queued))
	return queued
}
