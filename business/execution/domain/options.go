package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Options tune one execution attempt.
type Options struct {
	// MaxSlippage is the largest tolerated relative move of a leg's quote
	// since evaluation, as a fraction (0.005 = 0.5%).
	MaxSlippage   decimal.Decimal
	PerLegTimeout time.Duration
	PollInterval  time.Duration
	DryRun        bool
	// Jitter bounds the uniform price noise of simulated fills, as a fraction.
	Jitter decimal.Decimal
	// FeeRate is charged on simulated fills.
	FeeRate decimal.Decimal
}

// DefaultOptions returns conservative dry-run options.
func DefaultOptions() Options {
	return Options{
		MaxSlippage:   decimal.RequireFromString("0.005"),
		PerLegTimeout: 30 * time.Second,
		PollInterval:  500 * time.Millisecond,
		DryRun:        true,
		Jitter:        decimal.RequireFromString("0.0005"),
		FeeRate:       decimal.RequireFromString("0.001"),
	}
}

// Normalize fills non-positive durations and a zero slippage bound from
// DefaultOptions.
func (o Options) Normalize() Options {
	def := DefaultOptions()
	if o.PerLegTimeout <= 0 {
		o.PerLegTimeout = def.PerLegTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = def.PollInterval
	}
	if o.MaxSlippage.IsZero() {
		o.MaxSlippage = def.MaxSlippage
	}
	return o
}
