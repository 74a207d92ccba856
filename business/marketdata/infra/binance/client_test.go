package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fd1az/triarb/business/marketdata/domain"
	"github.com/fd1az/triarb/internal/apperror"
	"github.com/fd1az/triarb/internal/logger"
)

var ethUSDT = domain.NewPair("ETH", "USDT")

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, Timeout: 2 * time.Second, FeeRate: decimal.RequireFromString("0.001")},
		domain.Credentials{APIKey: "k", APISecret: "s"}, nil, logger.NewDiscard())
}

func TestGetOrderBookREST(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/depth", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ETHUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		w.Write([]byte(`{"lastUpdateId":7,"bids":[["1999.50","1.2"],["1999.00","0"]],"asks":[["2000.10","0.8"]]}`))
	})
	c := newTestClient(t, mux)

	book, err := c.GetOrderBook(context.Background(), ethUSDT, 7)
	require.NoError(t, err)
	require.Len(t, book.Bids, 1)
	assert.Equal(t, "1999.5", book.Bids[0].Price.String())
	assert.Equal(t, "2000.1", book.Asks[0].Price.String())
	assert.Equal(t, "binance-rest", book.Source)
}

func TestGetBalance(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/account", func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.URL.Query().Get("signature"))
		w.Write([]byte(`{"balances":[{"asset":"ETH","free":"1","locked":"0"},{"asset":"USDT","free":"1500.5","locked":"100"}]}`))
	})
	c := newTestClient(t, mux)

	bal, err := c.GetBalance(context.Background(), "USDT")
	require.NoError(t, err)
	assert.Equal(t, "1500.5", bal.Available.String())
	assert.Equal(t, "1600.5", bal.Total.String())
}

func TestPlaceSellFloorsToLotSize(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/exchangeInfo", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbols":[{"symbol":"ETHUSDT","filters":[{"filterType":"LOT_SIZE","minQty":"0.0001","maxQty":"9000","stepSize":"0.0001"}]}]}`))
	})
	mux.HandleFunc("/api/v3/order", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "SELL", r.Form.Get("side"))
		assert.Equal(t, "MARKET", r.Form.Get("type"))
		assert.Equal(t, "0.4995", r.Form.Get("quantity"))
		assert.Equal(t, "leg-1", r.Form.Get("newClientOrderId"))
		w.Write([]byte(`{"symbol":"ETHUSDT","orderId":42,"clientOrderId":"leg-1","status":"FILLED"}`))
	})
	c := newTestClient(t, mux)

	id, err := c.PlaceMarketOrder(context.Background(), domain.OrderRequest{
		Pair: ethUSDT, Side: domain.SideSell, Amount: decimal.RequireFromString("0.49956"), ClientOrderID: "leg-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "42", id)
}

func TestPlaceRejectedMapsToOrderRejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/order", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-2010,"msg":"Account has insufficient balance for requested action."}`))
	})
	c := newTestClient(t, mux)

	_, err := c.PlaceMarketOrder(context.Background(), domain.OrderRequest{
		Pair: ethUSDT, Side: domain.SideBuy, Amount: decimal.RequireFromString("1000"),
	})
	assert.True(t, apperror.HasCode(err, apperror.CodeOrderRejected))
}

func TestGetOrderStatusEstimatesFee(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/order", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "42", r.URL.Query().Get("orderId"))
		w.Write([]byte(`{"symbol":"ETHUSDT","orderId":42,"status":"FILLED","side":"BUY","executedQty":"0.5","cummulativeQuoteQty":"1000"}`))
	})
	c := newTestClient(t, mux)

	st, err := c.GetOrderStatus(context.Background(), ethUSDT, "42")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderFilled, st.State)
	assert.Equal(t, "2000", st.AvgPrice.String())
	assert.Equal(t, "ETH", st.FeeCurrency)
	assert.Equal(t, "0.0005", st.Fee.String())
}

func TestOrderNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/order", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-2013,"msg":"Order does not exist."}`))
	})
	c := newTestClient(t, mux)

	_, err := c.GetOrderStatus(context.Background(), ethUSDT, "99")
	assert.True(t, apperror.HasCode(err, apperror.CodeNotFound))
}

func TestStreamCacheServesFreshBooks(t *testing.T) {
	s, err := NewDepthStream("ws://127.0.0.1:1", []domain.Pair{ethUSDT}, time.Second, logger.NewDiscard())
	require.NoError(t, err)
	now := time.Unix(1000, 0)
	s.now = func() time.Time { return now }

	s.handle(context.Background(), []byte(`{"stream":"ethusdt@depth20@100ms","data":{"lastUpdateId":1,"bids":[["1999","2"]],"asks":[["2000","3"]]}}`))
	s.handle(context.Background(), []byte(`not json`))

	b, ok := s.Book(ethUSDT, 20)
	require.True(t, ok)
	assert.Equal(t, "2000", b.Asks[0].Price.String())

	now = now.Add(2 * time.Second)
	_, ok = s.Book(ethUSDT, 20)
	assert.False(t, ok, "stale books are not served")
}

func TestDepthStreamName(t *testing.T) {
	assert.Equal(t, "ethusdt@depth20@100ms", depthStreamName("ETHUSDT", 20, 100))
	assert.Equal(t, "ETHBTC", symbolFromStream("ethbtc@depth20@100ms"))
}
