package binance

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/triarb/business/marketdata/app"
	"github.com/fd1az/triarb/business/marketdata/domain"
	"github.com/fd1az/triarb/internal/apm"
	"github.com/fd1az/triarb/internal/apperror"
	"github.com/fd1az/triarb/internal/logger"
)

const (
	tracerName = "binance"
	venueName  = "binance"

	codeOrderNotFound  = -2013
	codeTooManyRequest = -1003
	codeOrderRateLimit = -1015

	defaultQuotePrecision = 8
)

var validDepths = map[int]bool{5: true, 10: true, 20: true, 50: true, 100: true, 500: true, 1000: true, 5000: true}

// Config configures the REST client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	FeeRate decimal.Decimal
}

// Client implements app.ExchangeClient over the Binance spot REST API,
// reading books from an optional depth stream first.
type Client struct {
	api     *binance.Client
	stream  *DepthStream
	feeRate decimal.Decimal
	log     logger.LoggerInterface
	tracer  trace.Tracer

	stepMu sync.RWMutex
	steps  map[string]decimal.Decimal
}

var _ app.ExchangeClient = (*Client)(nil)

// NewClient creates a client for creds. stream may be nil.
func NewClient(cfg Config, creds domain.Credentials, stream *DepthStream, log logger.LoggerInterface) *Client {
	api := binance.NewClient(creds.APIKey, creds.APISecret)
	if cfg.BaseURL != "" {
		api.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		api.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		api:     api,
		stream:  stream,
		feeRate: cfg.FeeRate,
		log:     log,
		tracer:  otel.Tracer(tracerName),
		steps:   make(map[string]decimal.Decimal),
	}
}

// NewFactory returns a ClientFactory sharing one depth stream.
func NewFactory(cfg Config, stream *DepthStream, log logger.LoggerInterface) app.ClientFactory {
	return app.ClientFactoryFunc(func(creds domain.Credentials) (app.ExchangeClient, error) {
		if creds.APIKey == "" || creds.APISecret == "" {
			return nil, apperror.New(apperror.CodeConfigurationError, apperror.WithContext("binance: api key and secret are required"))
		}
		return NewClient(cfg, creds, stream, log), nil
	})
}

func (c *Client) Name() string { return venueName }

func (c *Client) GetOrderBook(ctx context.Context, pair domain.Pair, depth int) (*domain.OrderBookSnapshot, error) {
	ctx, span := c.tracer.Start(ctx, "binance.get_order_book", trace.WithAttributes(
		attribute.String("pair", pair.String()),
	))
	defer span.End()

	if c.stream != nil {
		if b, ok := c.stream.Book(pair, depth); ok {
			span.SetAttributes(attribute.String("source", "websocket"))
			return b, nil
		}
	}
	span.SetAttributes(attribute.String("source", "rest"))

	if !validDepths[depth] {
		depth = 20
	}
	res, err := c.api.NewDepthService().Symbol(pair.Symbol()).Limit(depth).Do(ctx)
	if err != nil {
		apm.NoticeError(span, err)
		return nil, mapError(err, "depth "+pair.Symbol())
	}

	bids := make([][]string, 0, len(res.Bids))
	for _, b := range res.Bids {
		bids = append(bids, []string{b.Price, b.Quantity})
	}
	asks := make([][]string, 0, len(res.Asks))
	for _, a := range res.Asks {
		asks = append(asks, []string{a.Price, a.Quantity})
	}
	bidLevels, err := parseLevels(bids)
	if err != nil {
		return nil, apperror.New(apperror.CodeInvalidOrderbook, apperror.WithCause(err), apperror.WithContext(pair.Symbol()))
	}
	askLevels, err := parseLevels(asks)
	if err != nil {
		return nil, apperror.New(apperror.CodeInvalidOrderbook, apperror.WithCause(err), apperror.WithContext(pair.Symbol()))
	}
	return domain.NewOrderBookSnapshot(pair, bidLevels, askLevels, time.Now(), "binance-rest"), nil
}

func (c *Client) GetBalance(ctx context.Context, currency string) (domain.Balance, error) {
	ctx, span := c.tracer.Start(ctx, "binance.get_balance")
	defer span.End()

	acct, err := c.api.NewGetAccountService().Do(ctx)
	if err != nil {
		apm.NoticeError(span, err)
		return domain.Balance{}, mapError(err, "account")
	}
	out := domain.Balance{Currency: currency}
	for _, b := range acct.Balances {
		if b.Asset != currency {
			continue
		}
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			return out, apperror.New(apperror.CodeExchangeAPIError, apperror.WithCause(err))
		}
		locked, _ := decimal.NewFromString(b.Locked)
		out.Available = free
		out.Total = free.Add(locked)
		break
	}
	return out, nil
}

// PlaceMarketOrder sends a MARKET order. Buys spend Amount of quote via
// quoteOrderQty; sells sell Amount of base floored to the LOT_SIZE step.
func (c *Client) PlaceMarketOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	ctx, span := c.tracer.Start(ctx, "binance.place_market_order", trace.WithAttributes(
		attribute.String("pair", req.Pair.String()),
		attribute.String("side", string(req.Side)),
		attribute.String("amount", req.Amount.String()),
	))
	defer span.End()

	svc := c.api.NewCreateOrderService().
		Symbol(req.Pair.Symbol()).
		Type(binance.OrderTypeMarket)
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}

	if req.Side == domain.SideBuy {
		svc = svc.Side(binance.SideTypeBuy).QuoteOrderQty(req.Amount.RoundFloor(defaultQuotePrecision).String())
	} else {
		qty := c.floorToStep(ctx, req.Pair.Symbol(), req.Amount)
		if !qty.IsPositive() {
			return "", apperror.New(apperror.CodeOrderRejected,
				apperror.WithContextf("%s below lot size after rounding", req.Amount))
		}
		svc = svc.Side(binance.SideTypeSell).Quantity(qty.String())
	}

	res, err := svc.Do(ctx)
	if err != nil {
		apm.NoticeError(span, err)
		mapped := mapError(err, "order "+req.Pair.Symbol())
		if apperror.HasCode(mapped, apperror.CodeExchangeAPIError) {
			return "", apperror.New(apperror.CodeOrderRejected, apperror.WithCause(err), apperror.WithContext(req.Pair.Symbol()))
		}
		return "", mapped
	}
	id := strconv.FormatInt(res.OrderID, 10)
	span.SetAttributes(attribute.String("order_id", id))
	return id, nil
}

func (c *Client) GetOrderStatus(ctx context.Context, pair domain.Pair, orderID string) (domain.OrderStatus, error) {
	ctx, span := c.tracer.Start(ctx, "binance.get_order_status", trace.WithAttributes(
		attribute.String("order_id", orderID),
	))
	defer span.End()

	svc := c.api.NewGetOrderService().Symbol(pair.Symbol())
	if id, err := strconv.ParseInt(orderID, 10, 64); err == nil {
		svc = svc.OrderID(id)
	} else {
		svc = svc.OrigClientOrderID(orderID)
	}
	order, err := svc.Do(ctx)
	if err != nil {
		apm.NoticeError(span, err)
		return domain.OrderStatus{}, mapError(err, "order status "+orderID)
	}

	base, _ := decimal.NewFromString(order.ExecutedQuantity)
	quote, _ := decimal.NewFromString(order.CummulativeQuoteQuantity)
	st := domain.OrderStatus{
		OrderID:     orderID,
		State:       mapStatus(order.Status),
		FilledBase:  base,
		FilledQuote: quote,
	}
	if base.IsPositive() {
		st.AvgPrice = quote.Div(base)
	}
	// The fills are not on this endpoint; estimate the commission in the
	// received asset at the configured taker rate.
	out := pair.Output(sideOf(order.Side))
	st.FeeCurrency = out
	if out == pair.Base {
		st.Fee = base.Mul(c.feeRate)
	} else {
		st.Fee = quote.Mul(c.feeRate)
	}
	return st, nil
}

func sideOf(s binance.SideType) domain.Side {
	if s == binance.SideTypeSell {
		return domain.SideSell
	}
	return domain.SideBuy
}

func mapStatus(s binance.OrderStatusType) domain.OrderState {
	switch s {
	case binance.OrderStatusTypeFilled:
		return domain.OrderFilled
	case binance.OrderStatusTypePartiallyFilled:
		return domain.OrderPartiallyFilled
	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypePendingCancel:
		return domain.OrderCancelled
	case binance.OrderStatusTypeRejected:
		return domain.OrderRejected
	case binance.OrderStatusTypeExpired:
		return domain.OrderExpired
	default:
		return domain.OrderNew
	}
}

// floorToStep rounds qty down to the symbol's LOT_SIZE step, looked up once.
func (c *Client) floorToStep(ctx context.Context, symbol string, qty decimal.Decimal) decimal.Decimal {
	c.stepMu.RLock()
	step, ok := c.steps[symbol]
	c.stepMu.RUnlock()

	if !ok {
		step = decimal.New(1, -defaultQuotePrecision)
		info, err := c.api.NewExchangeInfoService().Symbol(symbol).Do(ctx)
		if err != nil {
			c.log.Warn(ctx, "exchange info unavailable, using default step", "symbol", symbol, "error", err)
		} else {
			for i := range info.Symbols {
				s := &info.Symbols[i]
				if s.Symbol != symbol {
					continue
				}
				if f := s.LotSizeFilter(); f != nil {
					if v, err := decimal.NewFromString(f.StepSize); err == nil && v.IsPositive() {
						step = v
					}
				}
			}
			c.stepMu.Lock()
			c.steps[symbol] = step
			c.stepMu.Unlock()
		}
	}
	return qty.Div(step).Floor().Mul(step)
}

// mapError classifies go-binance errors into application codes.
func mapError(err error, op string) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		code := apperror.CodeExchangeAPIError
		switch apiErr.Code {
		case codeOrderNotFound:
			code = apperror.CodeNotFound
		case codeTooManyRequest, codeOrderRateLimit:
			code = apperror.CodeRateLimitExceeded
		}
		return apperror.New(code, apperror.WithCause(err), apperror.WithContextf("%s: %d %s", op, apiErr.Code, apiErr.Message))
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return apperror.New(apperror.CodeExchangeConnection, apperror.WithCause(err), apperror.WithContext(op))
}
