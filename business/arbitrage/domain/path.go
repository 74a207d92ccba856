// Package domain contains the core domain types for the arbitrage context.
package domain

import (
	"fmt"
	"strings"

	md "github.com/fd1az/triarb/business/marketdata/domain"
	"github.com/fd1az/triarb/internal/apperror"
)

// Path length bounds.
const (
	MinSteps = 3
	MaxSteps = 4
)

// Step is one trade of a cycle: buy consumes the quote currency and yields
// the base, sell consumes the base and yields the quote.
type Step struct {
	Pair md.Pair `json:"pair"`
	Side md.Side `json:"side"`
}

// Input returns the currency the step consumes.
func (s Step) Input() string { return s.Pair.Input(s.Side) }

// Output returns the currency the step yields.
func (s Step) Output() string { return s.Pair.Output(s.Side) }

func (s Step) String() string {
	return fmt.Sprintf("%s %s", s.Side, s.Pair)
}

// Reverse returns the compensating step for s.
func (s Step) Reverse() Step {
	return Step{Pair: s.Pair, Side: s.Side.Opposite()}
}

// TriangularPath is a closed cycle of trades on a single exchange.
type TriangularPath struct {
	ID            string `json:"id"`
	Description   string `json:"description"`
	StartCurrency string `json:"start_currency"`
	Steps         []Step `json:"steps"`
}

// Validate checks the step count and that every step consumes what the
// previous one produced, ending back in the start currency.
func (p TriangularPath) Validate() error {
	if len(p.Steps) < MinSteps || len(p.Steps) > MaxSteps {
		return apperror.New(apperror.CodeInvalidPath,
			apperror.WithContextf("path %q has %d steps, want %d or %d", p.ID, len(p.Steps), MinSteps, MaxSteps))
	}
	if p.StartCurrency == "" {
		return apperror.New(apperror.CodeInvalidPath,
			apperror.WithContextf("path %q has no start currency", p.ID))
	}

	current := p.StartCurrency
	for i, s := range p.Steps {
		if s.Pair.IsZero() || !s.Side.Valid() {
			return apperror.New(apperror.CodeInvalidPath,
				apperror.WithContextf("path %q step %d is malformed (%s)", p.ID, i, s))
		}
		if s.Input() != current {
			return apperror.New(apperror.CodeInvalidPath,
				apperror.WithContextf("path %q step %d consumes %s but holds %s", p.ID, i, s.Input(), current))
		}
		current = s.Output()
	}
	if current != p.StartCurrency {
		return apperror.New(apperror.CodeInvalidPath,
			apperror.WithContextf("path %q ends in %s, not %s", p.ID, current, p.StartCurrency))
	}
	return nil
}

// Pairs returns the distinct pairs the path trades, in step order.
func (p TriangularPath) Pairs() []md.Pair {
	out := make([]md.Pair, 0, len(p.Steps))
	seen := make(map[md.Pair]struct{}, len(p.Steps))
	for _, s := range p.Steps {
		if _, ok := seen[s.Pair]; ok {
			continue
		}
		seen[s.Pair] = struct{}{}
		out = append(out, s.Pair)
	}
	return out
}

// Route renders the currency cycle, e.g. "USDT → ETH → BTC → USDT".
func (p TriangularPath) Route() string {
	parts := make([]string, 0, len(p.Steps)+1)
	parts = append(parts, p.StartCurrency)
	for _, s := range p.Steps {
		parts = append(parts, s.Output())
	}
	return strings.Join(parts, " → ")
}

// UniquePairs collects the distinct pairs across a batch of paths.
func UniquePairs(paths []TriangularPath) []md.Pair {
	out := make([]md.Pair, 0, len(paths)*MinSteps)
	seen := make(map[md.Pair]struct{})
	for _, p := range paths {
		for _, s := range p.Steps {
			if _, ok := seen[s.Pair]; ok {
				continue
			}
			seen[s.Pair] = struct{}{}
			out = append(out, s.Pair)
		}
	}
	return out
}
