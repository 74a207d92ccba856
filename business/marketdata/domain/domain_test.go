package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lvl(p, q string) PriceLevel {
	return PriceLevel{Price: decimal.RequireFromString(p), Quantity: decimal.RequireFromString(q)}
}

func TestParsePair(t *testing.T) {
	tests := []struct {
		in      string
		want    Pair
		wantErr bool
	}{
		{"ETH/USDT", Pair{"ETH", "USDT"}, false},
		{"btc-zar", Pair{"BTC", "ZAR"}, false},
		{"ETHUSDT", Pair{}, true},
		{"/USDT", Pair{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePair(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPairCurrencies(t *testing.T) {
	p := NewPair("eth", "usdt")
	assert.Equal(t, "ETHUSDT", p.Symbol())
	assert.Equal(t, "USDT", p.Input(SideBuy))
	assert.Equal(t, "ETH", p.Output(SideBuy))
	assert.Equal(t, "ETH", p.Input(SideSell))
	assert.Equal(t, "USDT", p.Output(SideSell))
	assert.Equal(t, SideSell, SideBuy.Opposite())
}

func TestSnapshotNormalizesLevels(t *testing.T) {
	bids := []PriceLevel{lvl("99", "1"), lvl("100", "2"), lvl("98", "0")}
	asks := []PriceLevel{lvl("102", "1"), lvl("101", "3")}
	s := NewOrderBookSnapshot(NewPair("ETH", "USDT"), bids, asks, time.Unix(0, 0), "test")

	require.Len(t, s.Bids, 2)
	bid, ok := s.BestBid()
	require.True(t, ok)
	assert.Equal(t, "100", bid.Price.String())

	ask, ok := s.Top(SideBuy)
	require.True(t, ok)
	assert.Equal(t, "101", ask.Price.String())
	assert.Equal(t, "100.5", s.Mid().String())

	bids[0] = lvl("1", "1")
	assert.Equal(t, "100", s.Bids[0].Price.String())
}

func TestEmptySideHasNoTop(t *testing.T) {
	s := NewOrderBookSnapshot(NewPair("ETH", "USDT"), nil, []PriceLevel{lvl("1", "1")}, time.Now(), "test")
	_, ok := s.BestBid()
	assert.False(t, ok)
	assert.True(t, s.Mid().IsZero())
}

func TestOrderStatusOutputNetsFee(t *testing.T) {
	pair := NewPair("ETH", "USDT")
	st := OrderStatus{
		State:       OrderFilled,
		FilledBase:  decimal.RequireFromString("0.5"),
		FilledQuote: decimal.RequireFromString("1000"),
		Fee:         decimal.RequireFromString("1"),
		FeeCurrency: "USDT",
	}
	assert.Equal(t, "999", st.Output(pair, SideSell).String())
	assert.Equal(t, "0.5", st.Output(pair, SideBuy).String())
	assert.True(t, st.State.Terminal())
	assert.False(t, OrderPartiallyFilled.Terminal())
}

func TestPairAsJSONKey(t *testing.T) {
	in := map[Pair]int{NewPair("eth", "usdt"): 1}
	b, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ETH/USDT":1}`, string(b))

	var out map[Pair]int
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, in, out)
}
