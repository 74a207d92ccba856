// Package paper is an in-memory venue that fills market orders against
// seeded books. It backs dry-run demos and the coordinator tests.
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fd1az/triarb/business/marketdata/app"
	"github.com/fd1az/triarb/business/marketdata/domain"
	"github.com/fd1az/triarb/internal/apperror"
	"github.com/fd1az/triarb/internal/config"
	"github.com/fd1az/triarb/internal/logger"
)

const venueName = "paper"

// PlaceHook may reject an order before it is filled.
type PlaceHook func(req domain.OrderRequest) error

// StatusHook may rewrite the status returned for an order.
type StatusHook func(orderID string, st domain.OrderStatus) domain.OrderStatus

// AckHook runs after an order is filled. A non-nil error is returned to the
// caller in place of the order ID, as when the venue's response is lost.
type AckHook func(req domain.OrderRequest, orderID string) error

// Exchange is a single-account simulated venue.
type Exchange struct {
	mu      sync.Mutex
	feeRate decimal.Decimal
	books   map[domain.Pair]*domain.OrderBookSnapshot
	wallet  map[string]decimal.Decimal
	orders  map[string]domain.OrderStatus
	clients map[string]string // client order ID -> order ID
	placed  []domain.OrderRequest
	seq     int
	onPlace PlaceHook
	onAck   AckHook
	status  StatusHook
	now     func() time.Time
	log     logger.LoggerInterface
}

var _ app.ExchangeClient = (*Exchange)(nil)

// New creates an empty paper exchange charging feeRate on each fill.
func New(feeRate decimal.Decimal, log logger.LoggerInterface) *Exchange {
	return &Exchange{
		feeRate: feeRate,
		books:   make(map[domain.Pair]*domain.OrderBookSnapshot),
		wallet:  make(map[string]decimal.Decimal),
		orders:  make(map[string]domain.OrderStatus),
		clients: make(map[string]string),
		now:     time.Now,
		log:     log,
	}
}

// FromConfig seeds books and balances from the exchange config.
func FromConfig(cfg config.ExchangeConfig, feeRate decimal.Decimal, log logger.LoggerInterface) (*Exchange, error) {
	ex := New(feeRate, log)
	for symbol, v := range cfg.PaperBooks {
		pair, err := domain.ParsePair(symbol)
		if err != nil {
			return nil, err
		}
		if len(v) != 3 {
			return nil, fmt.Errorf("paper book %s: want [bid, ask, size], got %d values", symbol, len(v))
		}
		ex.SetBook(pair, decimal.NewFromFloat(v[0]), decimal.NewFromFloat(v[1]), decimal.NewFromFloat(v[2]))
	}
	for currency, amount := range cfg.PaperBalances {
		ex.SetBalance(currency, decimal.NewFromFloat(amount))
	}
	return ex, nil
}

// ForAccount returns the exchange itself; the paper venue has one account.
func (e *Exchange) ForAccount(domain.Credentials) (app.ExchangeClient, error) {
	return e, nil
}

// SetBook seeds a one-level book.
func (e *Exchange) SetBook(pair domain.Pair, bid, ask, size decimal.Decimal) {
	e.SetSnapshot(domain.NewOrderBookSnapshot(pair,
		[]domain.PriceLevel{{Price: bid, Quantity: size}},
		[]domain.PriceLevel{{Price: ask, Quantity: size}},
		e.now(), venueName))
}

// SetSnapshot replaces the book for its pair.
func (e *Exchange) SetSnapshot(s *domain.OrderBookSnapshot) {
	e.mu.Lock()
	e.books[s.Pair] = s
	e.mu.Unlock()
}

func (e *Exchange) SetBalance(currency string, amount decimal.Decimal) {
	e.mu.Lock()
	e.wallet[currency] = amount
	e.mu.Unlock()
}

// OnPlace installs a hook consulted before each fill.
func (e *Exchange) OnPlace(h PlaceHook) {
	e.mu.Lock()
	e.onPlace = h
	e.mu.Unlock()
}

// OnAck installs a hook consulted after each fill.
func (e *Exchange) OnAck(h AckHook) {
	e.mu.Lock()
	e.onAck = h
	e.mu.Unlock()
}

// OnStatus installs a hook applied to every status read.
func (e *Exchange) OnStatus(h StatusHook) {
	e.mu.Lock()
	e.status = h
	e.mu.Unlock()
}

// Placed returns the accepted orders in placement order.
func (e *Exchange) Placed() []domain.OrderRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.OrderRequest, len(e.placed))
	copy(out, e.placed)
	return out
}

func (e *Exchange) Name() string { return venueName }

func (e *Exchange) GetOrderBook(_ context.Context, pair domain.Pair, depth int) (*domain.OrderBookSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.books[pair]
	if !ok {
		return nil, apperror.New(apperror.CodeDataUnavailable, apperror.WithContextf("paper: no book for %s", pair))
	}
	if depth > 0 && (len(b.Bids) > depth || len(b.Asks) > depth) {
		return domain.NewOrderBookSnapshot(pair, head(b.Bids, depth), head(b.Asks, depth), b.Timestamp, venueName), nil
	}
	return b, nil
}

func head(levels []domain.PriceLevel, n int) []domain.PriceLevel {
	if len(levels) > n {
		return levels[:n]
	}
	return levels
}

func (e *Exchange) GetBalance(_ context.Context, currency string) (domain.Balance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	amt := e.wallet[currency]
	return domain.Balance{Currency: currency, Available: amt, Total: amt}, nil
}

// PlaceMarketOrder fills immediately by walking the book. Liquidity that
// runs out leaves the order EXPIRED with a partial fill.
func (e *Exchange) PlaceMarketOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !req.Amount.IsPositive() {
		return "", apperror.New(apperror.CodeOrderRejected, apperror.WithContextf("non-positive amount %s", req.Amount))
	}
	if e.onPlace != nil {
		if err := e.onPlace(req); err != nil {
			return "", err
		}
	}
	book, ok := e.books[req.Pair]
	if !ok {
		return "", apperror.New(apperror.CodeOrderRejected, apperror.WithContextf("unknown market %s", req.Pair))
	}
	in := req.Pair.Input(req.Side)
	if e.wallet[in].LessThan(req.Amount) {
		return "", apperror.New(apperror.CodeOrderRejected,
			apperror.WithContextf("insufficient %s: have %s, need %s", in, e.wallet[in], req.Amount))
	}

	base, quote, complete := fill(book.Levels(req.Side), req.Side, req.Amount)

	out := req.Pair.Output(req.Side)
	gross := base
	consumed := quote
	if req.Side == domain.SideSell {
		gross, consumed = quote, base
	}
	fee := gross.Mul(e.feeRate)
	e.wallet[in] = e.wallet[in].Sub(consumed)
	e.wallet[out] = e.wallet[out].Add(gross.Sub(fee))

	e.seq++
	id := fmt.Sprintf("paper-%d", e.seq)
	state := domain.OrderFilled
	if !complete {
		state = domain.OrderExpired
	}
	var avg decimal.Decimal
	if base.IsPositive() {
		avg = quote.Div(base)
	}
	e.orders[id] = domain.OrderStatus{
		OrderID:     id,
		State:       state,
		FilledBase:  base,
		FilledQuote: quote,
		AvgPrice:    avg,
		Fee:         fee,
		FeeCurrency: out,
	}
	if req.ClientOrderID != "" {
		e.clients[req.ClientOrderID] = id
	}
	e.placed = append(e.placed, req)

	e.log.Debug(ctx, "paper fill", "order_id", id, "pair", req.Pair.String(), "side", string(req.Side),
		"amount", req.Amount.String(), "base", base.String(), "quote", quote.String(), "state", string(state))
	if e.onAck != nil {
		if err := e.onAck(req, id); err != nil {
			return "", err
		}
	}
	return id, nil
}

// fill walks levels spending amount (quote for a buy, base for a sell) and
// returns the filled base and quote and whether amount was fully consumed.
func fill(levels []domain.PriceLevel, side domain.Side, amount decimal.Decimal) (base, quote decimal.Decimal, complete bool) {
	remaining := amount
	for _, l := range levels {
		if !remaining.IsPositive() {
			break
		}
		if side == domain.SideBuy {
			take := decimal.Min(remaining, l.Notional())
			base = base.Add(take.Div(l.Price))
			quote = quote.Add(take)
			remaining = remaining.Sub(take)
			continue
		}
		take := decimal.Min(remaining, l.Quantity)
		base = base.Add(take)
		quote = quote.Add(take.Mul(l.Price))
		remaining = remaining.Sub(take)
	}
	return base, quote, !remaining.IsPositive()
}

// GetOrderStatus accepts the paper order ID or the client order ID sent
// with the order.
func (e *Exchange) GetOrderStatus(_ context.Context, _ domain.Pair, orderID string) (domain.OrderStatus, error) {
	e.mu.Lock()
	if id, ok := e.clients[orderID]; ok {
		orderID = id
	}
	st, ok := e.orders[orderID]
	hook := e.status
	e.mu.Unlock()
	if !ok {
		return domain.OrderStatus{}, apperror.New(apperror.CodeNotFound, apperror.WithContextf("order %s", orderID))
	}
	if hook != nil {
		st = hook(orderID, st)
	}
	return st, nil
}
