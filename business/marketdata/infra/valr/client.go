package valr

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sugawarayuuta/sonnet"

	"github.com/fd1az/triarb/business/marketdata/app"
	"github.com/fd1az/triarb/business/marketdata/domain"
	"github.com/fd1az/triarb/internal/apperror"
	"github.com/fd1az/triarb/internal/httpclient"
	"github.com/fd1az/triarb/internal/logger"
	"github.com/fd1az/triarb/internal/ratelimit"
)

const (
	DefaultBaseURL = "https://api.valr.com"
	venueName      = "valr"
)

// Config configures the VALR client.
type Config struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerMinute int
}

// Client implements app.ExchangeClient over the VALR REST API.
type Client struct {
	http    httpclient.Client
	signer  httpclient.Signer
	limiter *ratelimit.Limiter
	log     logger.LoggerInterface
}

var _ app.ExchangeClient = (*Client)(nil)

// NewClient creates a client for creds. limiter is shared across accounts
// because VALR limits per IP.
func NewClient(cfg Config, creds domain.Credentials, limiter *ratelimit.Limiter, log logger.LoggerInterface) (*Client, error) {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	hc, err := httpclient.NewInstrumentedClient(
		httpclient.WithProviderName(venueName),
		httpclient.WithBaseURL(base),
		httpclient.WithRequestTimeout(timeout),
		httpclient.WithHeaders(map[string]string{"Accept": "application/json"}),
	)
	if err != nil {
		return nil, fmt.Errorf("valr http client: %w", err)
	}
	if limiter == nil {
		limiter = ratelimit.New(cfg.RequestsPerMinute)
	}
	return &Client{
		http:    hc,
		signer:  signer{key: creds.APIKey, secret: creds.APISecret, now: time.Now},
		limiter: limiter,
		log:     log,
	}, nil
}

// NewFactory returns a ClientFactory sharing one rate limiter.
func NewFactory(cfg Config, log logger.LoggerInterface) app.ClientFactory {
	limiter := ratelimit.New(cfg.RequestsPerMinute)
	return app.ClientFactoryFunc(func(creds domain.Credentials) (app.ExchangeClient, error) {
		if creds.APIKey == "" || creds.APISecret == "" {
			return nil, apperror.New(apperror.CodeConfigurationError, apperror.WithContext("valr: api key and secret are required"))
		}
		return NewClient(cfg, creds, limiter, log)
	})
}

func (c *Client) Name() string { return venueName }

func (c *Client) request(ctx context.Context, endpoint string, signed bool) (httpclient.Request, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	opts := []httpclient.RequestOption{
		httpclient.WithLabels(httpclient.NewLabel("endpoint", endpoint)),
		httpclient.WithResponseErrorHandler(errorHandler),
	}
	if signed {
		opts = append(opts, httpclient.WithSigner(c.signer))
	}
	return c.http.NewRequest(opts...), nil
}

func (c *Client) GetOrderBook(ctx context.Context, pair domain.Pair, depth int) (*domain.OrderBookSnapshot, error) {
	req, err := c.request(ctx, "orderbook", false)
	if err != nil {
		return nil, err
	}
	var res orderBookResponse
	if _, err := req.SetResult(&res).Get(ctx, "/v1/public/"+pair.Symbol()+"/orderbook"); err != nil {
		return nil, err
	}

	bids, err := levels(res.Bids, depth)
	if err != nil {
		return nil, apperror.New(apperror.CodeInvalidOrderbook, apperror.WithCause(err), apperror.WithContext(pair.Symbol()))
	}
	asks, err := levels(res.Asks, depth)
	if err != nil {
		return nil, apperror.New(apperror.CodeInvalidOrderbook, apperror.WithCause(err), apperror.WithContext(pair.Symbol()))
	}
	ts := time.Now()
	if t, err := time.Parse(time.RFC3339Nano, res.LastChange); err == nil {
		ts = t
	}
	return domain.NewOrderBookSnapshot(pair, bids, asks, ts, venueName), nil
}

func levels(entries []bookEntry, depth int) ([]domain.PriceLevel, error) {
	if depth > 0 && len(entries) > depth {
		entries = entries[:depth]
	}
	out := make([]domain.PriceLevel, 0, len(entries))
	for _, e := range entries {
		p, err := decimal.NewFromString(e.Price)
		if err != nil {
			return nil, err
		}
		q, err := decimal.NewFromString(e.Quantity)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.PriceLevel{Price: p, Quantity: q})
	}
	return out, nil
}

func (c *Client) GetBalance(ctx context.Context, currency string) (domain.Balance, error) {
	req, err := c.request(ctx, "balances", true)
	if err != nil {
		return domain.Balance{}, err
	}
	var res []balanceEntry
	if _, err := req.SetResult(&res).Get(ctx, "/v1/account/balances"); err != nil {
		return domain.Balance{}, err
	}
	out := domain.Balance{Currency: currency}
	for _, b := range res {
		if !strings.EqualFold(b.Currency, currency) {
			continue
		}
		out.Available, _ = decimal.NewFromString(b.Available)
		out.Total, _ = decimal.NewFromString(b.Total)
		break
	}
	return out, nil
}

// PlaceMarketOrder spends quote on a buy and sells base on a sell.
func (c *Client) PlaceMarketOrder(ctx context.Context, r domain.OrderRequest) (string, error) {
	body := marketOrderRequest{
		Side:            strings.ToUpper(string(r.Side)),
		Pair:            r.Pair.Symbol(),
		CustomerOrderID: r.ClientOrderID,
	}
	if r.Side == domain.SideBuy {
		body.QuoteAmount = r.Amount.String()
	} else {
		body.BaseAmount = r.Amount.String()
	}

	req, err := c.request(ctx, "orders_market", true)
	if err != nil {
		return "", err
	}
	var res orderAccepted
	if _, err := req.SetBody(body).SetResult(&res).Post(ctx, "/v1/orders/market"); err != nil {
		if apperror.HasCode(err, apperror.CodeExchangeAPIError) {
			return "", apperror.New(apperror.CodeOrderRejected, apperror.WithCause(err), apperror.WithContext(r.Pair.Symbol()))
		}
		return "", err
	}
	if res.ID == "" {
		return "", apperror.New(apperror.CodeOrderRejected, apperror.WithContext("valr: empty order id"))
	}
	return res.ID, nil
}

// GetOrderStatus looks orderID up as a VALR order ID first and then as the
// customer order ID sent with the order.
func (c *Client) GetOrderStatus(ctx context.Context, pair domain.Pair, orderID string) (domain.OrderStatus, error) {
	res, err := c.orderSummary(ctx, "/v1/orders/history/summary/orderid/"+orderID)
	if apperror.HasCode(err, apperror.CodeNotFound) {
		res, err = c.orderSummary(ctx, "/v1/orders/history/summary/customerorderid/"+orderID)
	}
	if err != nil {
		return domain.OrderStatus{}, err
	}
	if res.OrderID != "" {
		orderID = res.OrderID
	}

	orig, _ := decimal.NewFromString(res.OriginalQuantity)
	remaining, _ := decimal.NewFromString(res.RemainingQuantity)
	avg, _ := decimal.NewFromString(res.AveragePrice)
	total, _ := decimal.NewFromString(res.Total)
	fee, _ := decimal.NewFromString(res.TotalFee)

	return domain.OrderStatus{
		OrderID:     orderID,
		State:       mapStatus(res.OrderStatusType),
		FilledBase:  orig.Sub(remaining),
		FilledQuote: total,
		AvgPrice:    avg,
		Fee:         fee,
		FeeCurrency: strings.ToUpper(res.FeeCurrency),
		Reason:      res.FailedReason,
	}, nil
}

func (c *Client) orderSummary(ctx context.Context, path string) (orderSummary, error) {
	var res orderSummary
	req, err := c.request(ctx, "order_summary", true)
	if err != nil {
		return res, err
	}
	_, err = req.SetResult(&res).Get(ctx, path)
	return res, err
}

func mapStatus(s string) domain.OrderState {
	switch strings.ToLower(s) {
	case "filled", "instant order completed":
		return domain.OrderFilled
	case "partially filled":
		return domain.OrderPartiallyFilled
	case "cancelled":
		return domain.OrderCancelled
	case "failed", "instant order balance reserve failed":
		return domain.OrderRejected
	case "expired":
		return domain.OrderExpired
	default:
		return domain.OrderNew
	}
}

func errorHandler(status int, body []byte) error {
	if status < 400 {
		return nil
	}
	var e apiError
	_ = sonnet.Unmarshal(body, &e)
	msg := e.Message
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	code := apperror.CodeExchangeAPIError
	switch {
	case status == http.StatusNotFound:
		code = apperror.CodeNotFound
	case status == http.StatusTooManyRequests:
		code = apperror.CodeRateLimitExceeded
	case status >= 500:
		code = apperror.CodeServiceUnavailable
	}
	return apperror.New(code, apperror.WithContextf("valr %d: %s", status, msg), apperror.WithStatusCode(status))
}
