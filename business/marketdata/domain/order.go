package domain

import (
	"github.com/shopspring/decimal"
)

// OrderRequest describes a market order. Amount is denominated in the
// input currency: quote to spend on a buy, base to sell on a sell.
type OrderRequest struct {
	Pair          Pair
	Side          Side
	Amount        decimal.Decimal
	ClientOrderID string
}

// OrderState is a venue-neutral order lifecycle state.
type OrderState string

const (
	OrderNew             OrderState = "NEW"
	OrderPartiallyFilled OrderState = "PARTIALLY_FILLED"
	OrderFilled          OrderState = "FILLED"
	OrderCancelled       OrderState = "CANCELLED"
	OrderRejected        OrderState = "REJECTED"
	OrderExpired         OrderState = "EXPIRED"
)

// Terminal reports whether the order can no longer change.
func (s OrderState) Terminal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderRejected, OrderExpired:
		return true
	}
	return false
}

// OrderStatus is the polled state of an order.
type OrderStatus struct {
	OrderID     string
	State       OrderState
	FilledBase  decimal.Decimal
	FilledQuote decimal.Decimal
	AvgPrice    decimal.Decimal
	Fee         decimal.Decimal
	FeeCurrency string
	Reason      string
}

// Output returns what the order yielded in its output currency, net of a
// fee charged in that currency.
func (s OrderStatus) Output(pair Pair, side Side) decimal.Decimal {
	out := s.FilledBase
	if side == SideSell {
		out = s.FilledQuote
	}
	if s.FeeCurrency == pair.Output(side) {
		out = out.Sub(s.Fee)
	}
	return out
}

// Balance is one currency's holdings.
type Balance struct {
	Currency  string
	Available decimal.Decimal
	Total     decimal.Decimal
}

// Credentials identify the trading account an exchange client acts for.
type Credentials struct {
	AccountID string
	APIKey    string
	APISecret string
}

// AccountKey is the identity used for per-account serialization.
func (c Credentials) AccountKey() string {
	if c.AccountID != "" {
		return c.AccountID
	}
	return c.APIKey
}
