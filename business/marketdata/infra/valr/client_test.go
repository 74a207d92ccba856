package valr

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fd1az/triarb/business/marketdata/domain"
	"github.com/fd1az/triarb/internal/apperror"
	"github.com/fd1az/triarb/internal/logger"
)

var btcZAR = domain.NewPair("BTC", "ZAR")

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{BaseURL: srv.URL}, domain.Credentials{APIKey: "key", APISecret: "secret"}, nil, logger.NewDiscard())
	require.NoError(t, err)
	return c
}

func TestSignCoversTimestampAndBody(t *testing.T) {
	got := sign("secret", "1558014486185", "GET", "/v1/account/balances", nil)
	assert.Len(t, got, 128)
	assert.Equal(t, got, sign("secret", "1558014486185", "GET", "/v1/account/balances", []byte{}))
	assert.NotEqual(t, got, sign("secret", "1558014486186", "GET", "/v1/account/balances", nil))
}

func TestOrderBookIsPublic(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/public/BTCZAR/orderbook", r.URL.Path)
		assert.Empty(t, r.Header.Get(headerSignature))
		w.Write([]byte(`{"Asks":[{"price":"1000100","quantity":"0.2"},{"price":"1000200","quantity":"1"}],
			"Bids":[{"price":"999900","quantity":"0.5"}],"LastChange":"2024-03-01T10:00:00.000Z"}`))
	})

	book, err := c.GetOrderBook(context.Background(), btcZAR, 1)
	require.NoError(t, err)
	assert.Len(t, book.Asks, 1)
	assert.Equal(t, "999900", book.Bids[0].Price.String())
	assert.Equal(t, 2024, book.Timestamp.Year())
}

func TestBalancesAreSigned(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		ts := r.Header.Get(headerTimestamp)
		require.NotEmpty(t, ts)
		assert.Equal(t, "key", r.Header.Get(headerKey))
		assert.Equal(t, sign("secret", ts, http.MethodGet, "/v1/account/balances", nil), r.Header.Get(headerSignature))
		w.Write([]byte(`[{"currency":"ZAR","available":"5000","reserved":"100","total":"5100"}]`))
	})

	bal, err := c.GetBalance(context.Background(), "ZAR")
	require.NoError(t, err)
	assert.Equal(t, "5000", bal.Available.String())
	assert.Equal(t, "5100", bal.Total.String())
}

func TestMarketBuySpendsQuote(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		ts := r.Header.Get(headerTimestamp)
		assert.Equal(t, sign("secret", ts, http.MethodPost, "/v1/orders/market", raw), r.Header.Get(headerSignature))

		var body marketOrderRequest
		require.NoError(t, json.Unmarshal(raw, &body))
		assert.Equal(t, "BUY", body.Side)
		assert.Equal(t, "1000", body.QuoteAmount)
		assert.Empty(t, body.BaseAmount)
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"id":"558f5e0a-ffd1-46dd-8fae-763d93fa2f25"}`))
	})

	id, err := c.PlaceMarketOrder(context.Background(), domain.OrderRequest{
		Pair: btcZAR, Side: domain.SideBuy, Amount: decimal.NewFromInt(1000), ClientOrderID: "c1",
	})
	require.NoError(t, err)
	assert.Equal(t, "558f5e0a-ffd1-46dd-8fae-763d93fa2f25", id)
}

func TestRejectedOrder(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-11,"message":"Insufficient Balance"}`))
	})

	_, err := c.PlaceMarketOrder(context.Background(), domain.OrderRequest{Pair: btcZAR, Side: domain.SideSell, Amount: decimal.NewFromInt(1)})
	assert.True(t, apperror.HasCode(err, apperror.CodeOrderRejected))
	assert.Contains(t, err.Error(), "Insufficient Balance")
}

func TestOrderSummary(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"orderId":"o1","orderStatusType":"Filled","currencyPair":"BTCZAR","averagePrice":"1000000",
			"originalQuantity":"0.001","remainingQuantity":"0","total":"1000","totalFee":"0.000001","feeCurrency":"btc","orderSide":"buy"}`))
	})

	st, err := c.GetOrderStatus(context.Background(), btcZAR, "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderFilled, st.State)
	assert.Equal(t, "0.001", st.FilledBase.String())
	assert.Equal(t, "BTC", st.FeeCurrency)
	assert.Equal(t, "0.000999", st.Output(btcZAR, domain.SideBuy).String())
}

func TestOrderSummaryFallsBackToCustomerOrderID(t *testing.T) {
	var paths []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/v1/orders/history/summary/orderid/cli-7" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"code":-1,"message":"Order not found"}`))
			return
		}
		w.Write([]byte(`{"orderId":"o7","orderStatusType":"Filled","currencyPair":"BTCZAR","averagePrice":"1000000",
			"originalQuantity":"0.001","remainingQuantity":"0","total":"1000","totalFee":"0.000001","feeCurrency":"btc","orderSide":"buy"}`))
	})

	st, err := c.GetOrderStatus(context.Background(), btcZAR, "cli-7")
	require.NoError(t, err)
	assert.Equal(t, "o7", st.OrderID)
	assert.Equal(t, domain.OrderFilled, st.State)
	assert.Equal(t, []string{
		"/v1/orders/history/summary/orderid/cli-7",
		"/v1/orders/history/summary/customerorderid/cli-7",
	}, paths)
}

func TestRateLimitStatus(t *testing.T) {
	err := errorHandler(http.StatusTooManyRequests, []byte(`{"message":"slow down"}`))
	assert.True(t, apperror.HasCode(err, apperror.CodeRateLimitExceeded))
	assert.NoError(t, errorHandler(http.StatusOK, nil))
}
