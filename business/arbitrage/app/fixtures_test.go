package app

import (
	"time"

	"github.com/fd1az/triarb/business/arbitrage/domain"
	md "github.com/fd1az/triarb/business/marketdata/domain"
	"github.com/shopspring/decimal"
)

var snapshotTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func mustPair(s string) md.Pair {
	p, err := md.ParsePair(s)
	if err != nil {
		panic(err)
	}
	return p
}

// makeBook builds a one-level book on each side.
func makeBook(pair, bid, bidSize, ask, askSize string) *md.OrderBookSnapshot {
	return md.NewOrderBookSnapshot(mustPair(pair),
		[]md.PriceLevel{{Price: d(bid), Quantity: d(bidSize)}},
		[]md.PriceLevel{{Price: d(ask), Quantity: d(askSize)}},
		snapshotTime, "test")
}

// usdtEthBtc is USDT → ETH → BTC → USDT.
func usdtEthBtc() domain.TriangularPath {
	return domain.TriangularPath{
		ID:            "usdt-eth-btc",
		Description:   "USDT via ETH and BTC",
		StartCurrency: "USDT",
		Steps: []domain.Step{
			{Pair: mustPair("ETH/USDT"), Side: md.SideBuy},
			{Pair: mustPair("ETH/BTC"), Side: md.SideSell},
			{Pair: mustPair("BTC/USDT"), Side: md.SideSell},
		},
	}
}

// scenarioABooks gives a round trip of 1000 → 1023.75 before fees with
// every top level deep enough for a 1000 USDT start.
func scenarioABooks() md.Books {
	return md.Books{
		mustPair("ETH/USDT"): makeBook("ETH/USDT", "1999", "10", "2000", "10"),
		mustPair("ETH/BTC"):  makeBook("ETH/BTC", "0.0525", "10", "0.0526", "10"),
		mustPair("BTC/USDT"): makeBook("BTC/USDT", "39000", "5", "39010", "5"),
	}
}
