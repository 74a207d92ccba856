package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// PriceLevel is one price and the quantity (in base) resting there.
type PriceLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// Notional returns price × quantity in quote.
func (l PriceLevel) Notional() decimal.Decimal {
	return l.Price.Mul(l.Quantity)
}

// OrderBookSnapshot is an immutable view of one pair's book.
// Bids are sorted descending, asks ascending.
type OrderBookSnapshot struct {
	Pair      Pair
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
	Source    string
}

// NewOrderBookSnapshot copies and normalizes the levels. Levels with a
// non-positive price or quantity are dropped.
func NewOrderBookSnapshot(pair Pair, bids, asks []PriceLevel, ts time.Time, source string) *OrderBookSnapshot {
	return &OrderBookSnapshot{
		Pair:      pair,
		Bids:      normalize(bids, true),
		Asks:      normalize(asks, false),
		Timestamp: ts,
		Source:    source,
	}
}

func normalize(in []PriceLevel, desc bool) []PriceLevel {
	out := make([]PriceLevel, 0, len(in))
	for _, l := range in {
		if l.Price.IsPositive() && l.Quantity.IsPositive() {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if desc {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	return out
}

// BestBid returns the highest bid.
func (o *OrderBookSnapshot) BestBid() (PriceLevel, bool) {
	if len(o.Bids) == 0 {
		return PriceLevel{}, false
	}
	return o.Bids[0], true
}

// BestAsk returns the lowest ask.
func (o *OrderBookSnapshot) BestAsk() (PriceLevel, bool) {
	if len(o.Asks) == 0 {
		return PriceLevel{}, false
	}
	return o.Asks[0], true
}

// Levels returns the side a taker order consumes: asks for a buy, bids for a sell.
func (o *OrderBookSnapshot) Levels(side Side) []PriceLevel {
	if side == SideBuy {
		return o.Asks
	}
	return o.Bids
}

// Top returns the first level a taker order on side would hit.
func (o *OrderBookSnapshot) Top(side Side) (PriceLevel, bool) {
	if side == SideBuy {
		return o.BestAsk()
	}
	return o.BestBid()
}

// Mid returns the midpoint, or zero when either side is empty.
func (o *OrderBookSnapshot) Mid() decimal.Decimal {
	bid, okB := o.BestBid()
	ask, okA := o.BestAsk()
	if !okB || !okA {
		return decimal.Zero
	}
	return bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2))
}

// SpreadBps returns the bid/ask spread in basis points of mid.
func (o *OrderBookSnapshot) SpreadBps() decimal.Decimal {
	mid := o.Mid()
	if mid.IsZero() {
		return decimal.Zero
	}
	bid, _ := o.BestBid()
	ask, _ := o.BestAsk()
	return ask.Price.Sub(bid.Price).Div(mid).Mul(decimal.NewFromInt(10000))
}

// Age returns how old the snapshot is at now.
func (o *OrderBookSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(o.Timestamp)
}

// Books indexes snapshots by pair for one scan.
type Books map[Pair]*OrderBookSnapshot
