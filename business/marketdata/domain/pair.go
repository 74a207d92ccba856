// Package domain contains the core market-data types shared by every venue.
package domain

import (
	"fmt"
	"strings"
)

// Side is the taker side of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the compensating side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// ParseSide accepts buy/sell in any case.
func ParseSide(s string) (Side, error) {
	side := Side(strings.ToLower(strings.TrimSpace(s)))
	if !side.Valid() {
		return "", fmt.Errorf("unknown side %q", s)
	}
	return side, nil
}

// Pair is a BASE/QUOTE market. Currencies are upper-case tickers.
type Pair struct {
	Base  string
	Quote string
}

func NewPair(base, quote string) Pair {
	return Pair{Base: strings.ToUpper(base), Quote: strings.ToUpper(quote)}
}

// ParsePair reads "ETH/USDT" or "ETH-USDT".
func ParsePair(s string) (Pair, error) {
	sep := "/"
	if !strings.Contains(s, sep) {
		sep = "-"
	}
	base, quote, ok := strings.Cut(strings.TrimSpace(s), sep)
	if !ok || base == "" || quote == "" {
		return Pair{}, fmt.Errorf("invalid pair %q: want BASE/QUOTE", s)
	}
	return NewPair(base, quote), nil
}

// String returns "BASE/QUOTE".
func (p Pair) String() string {
	return p.Base + "/" + p.Quote
}

// Symbol returns the concatenated exchange symbol, e.g. "ETHUSDT".
func (p Pair) Symbol() string {
	return p.Base + p.Quote
}

func (p Pair) IsZero() bool {
	return p.Base == "" || p.Quote == ""
}

// Input is the currency a taker order on this pair consumes.
func (p Pair) Input(side Side) string {
	if side == SideBuy {
		return p.Quote
	}
	return p.Base
}

// Output is the currency a taker order on this pair yields.
func (p Pair) Output(side Side) string {
	if side == SideBuy {
		return p.Base
	}
	return p.Quote
}

// MarshalText encodes the pair as "BASE/QUOTE" so it can key JSON maps.
func (p Pair) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Pair) UnmarshalText(b []byte) error {
	parsed, err := ParsePair(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
