// Package app contains application services and port definitions for the arbitrage context.
package app

import (
	"fmt"
	"time"

	"github.com/fd1az/triarb/business/arbitrage/domain"
	md "github.com/fd1az/triarb/business/marketdata/domain"
	"github.com/fd1az/triarb/internal/apperror"
	"github.com/fd1az/triarb/internal/config"
	"github.com/shopspring/decimal"
)

// Params holds the engine constants the calculator evaluates against.
type Params struct {
	FeeRate               decimal.Decimal // per leg, e.g. 0.001
	SlippageBufferPercent decimal.Decimal // output penalty on thin legs, percent points
	FeeRiskFraction       decimal.Decimal // total fees above this share of start raise a factor
	MinProfitFraction     decimal.Decimal // net profit must exceed this share of start
	MinOrderSize          decimal.Decimal
	MaxOrderSize          decimal.Decimal
	Depth                 DepthParams
}

// DefaultParams returns the stock engine constants.
func DefaultParams() Params {
	return Params{
		FeeRate:               decimal.RequireFromString("0.001"),
		SlippageBufferPercent: decimal.RequireFromString("0.1"),
		FeeRiskFraction:       decimal.RequireFromString("0.005"),
		MinProfitFraction:     decimal.RequireFromString("0.008"),
		MinOrderSize:          decimal.NewFromInt(50),
		MaxOrderSize:          decimal.NewFromInt(10000),
		Depth:                 DefaultDepthParams(),
	}
}

// ParamsFromConfig reads the engine section.
func ParamsFromConfig(cfg config.EngineConfig) Params {
	return Params{
		FeeRate:               cfg.FeeRateDecimal(),
		SlippageBufferPercent: cfg.SlippageBufferDecimal(),
		FeeRiskFraction:       cfg.FeeRiskFractionDecimal(),
		MinProfitFraction:     cfg.MinProfitFractionDecimal(),
		MinOrderSize:          cfg.MinOrderSizeDecimal(),
		MaxOrderSize:          cfg.MaxOrderSizeDecimal(),
		Depth: DepthParams{
			MaxLevels:             cfg.MaxDepthLevels,
			MaxPriceImpactPercent: cfg.MaxPriceImpactDecimal(),
		},
	}
}

// EvalOption overrides engine constants for a single evaluation.
type EvalOption func(*evalOptions)

type evalOptions struct {
	feeRate        decimal.Decimal
	slippageBuffer decimal.Decimal
}

// WithFeeRate evaluates with a different per-leg fee rate.
func WithFeeRate(rate decimal.Decimal) EvalOption {
	return func(o *evalOptions) { o.feeRate = rate }
}

// WithSlippageBuffer evaluates with a different thin-leg penalty, in percent.
func WithSlippageBuffer(percent decimal.Decimal) EvalOption {
	return func(o *evalOptions) { o.slippageBuffer = percent }
}

// Calculator simulates trading around a path against order-book snapshots.
// It holds no mutable state and is safe for concurrent use.
type Calculator struct {
	params Params
	depth  *DepthAnalyzer
}

// NewCalculator creates a new Calculator.
func NewCalculator(params Params) *Calculator {
	return &Calculator{
		params: params,
		depth:  NewDepthAnalyzer(params.Depth),
	}
}

// Params returns the engine constants.
func (c *Calculator) Params() Params {
	return c.params
}

// Depth returns the analyzer used per leg.
func (c *Calculator) Depth() *DepthAnalyzer {
	return c.depth
}

// ValidateAmount checks start against the configured order bounds.
func (c *Calculator) ValidateAmount(start decimal.Decimal) error {
	if start.LessThan(c.params.MinOrderSize) || start.GreaterThan(c.params.MaxOrderSize) {
		return apperror.New(apperror.CodeValidationError,
			apperror.WithContextf("start amount %s outside [%s, %s]", start, c.params.MinOrderSize, c.params.MaxOrderSize))
	}
	return nil
}

// Evaluate walks path leg by leg against books, starting with start units
// of the path's start currency. Fees are charged on the input of a buy and on
// the proceeds of a sell. A leg whose size exceeds the top level takes the
// slippage buffer as an output penalty.
func (c *Calculator) Evaluate(
	path domain.TriangularPath,
	books md.Books,
	start decimal.Decimal,
	opts ...EvalOption,
) (*domain.Opportunity, error) {
	o := evalOptions{feeRate: c.params.FeeRate, slippageBuffer: c.params.SlippageBufferPercent}
	for _, opt := range opts {
		opt(&o)
	}

	if err := c.ValidateAmount(start); err != nil {
		return nil, err
	}
	if o.feeRate.IsNegative() || o.feeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, apperror.New(apperror.CodeValidationError,
			apperror.WithContextf("fee rate %s outside [0, 1)", o.feeRate))
	}
	if o.slippageBuffer.IsNegative() || o.slippageBuffer.GreaterThanOrEqual(hundred) {
		return nil, apperror.New(apperror.CodeValidationError,
			apperror.WithContextf("slippage buffer %s%% outside [0, 100)", o.slippageBuffer))
	}
	if err := path.Validate(); err != nil {
		return nil, err
	}

	penalty := decimal.NewFromInt(1).Sub(o.slippageBuffer.Div(hundred))

	opp := &domain.Opportunity{
		Path:          path,
		StartAmount:   start,
		Legs:          make([]domain.LegResult, 0, len(path.Steps)),
		Depth:         make([]domain.DepthReport, 0, len(path.Steps)),
		TotalFees:     decimal.Zero,
		TotalSlippage: decimal.Zero,
		FeeRate:       o.feeRate,
	}

	var observed time.Time
	var slippageLegs, liquidityLegs []int
	current := start

	for i, s := range path.Steps {
		book, ok := books[s.Pair]
		if !ok || book == nil {
			return nil, apperror.New(apperror.CodeDataUnavailable,
				apperror.WithContextf("no order book for %s", s.Pair))
		}
		if len(book.Bids) == 0 || len(book.Asks) == 0 {
			return nil, apperror.New(apperror.CodeDataUnavailable,
				apperror.WithContextf("%s has an empty side (bids=%d asks=%d)", s.Pair, len(book.Bids), len(book.Asks)))
		}
		if book.Timestamp.After(observed) {
			observed = book.Timestamp
		}

		top, _ := book.Top(s.Side)
		if !top.Price.IsPositive() {
			return nil, apperror.New(apperror.CodeDataUnavailable,
				apperror.WithContextf("%s quotes a non-positive %s price %s", s.Pair, s.Side, top.Price))
		}
		leg := domain.LegResult{
			Index:              i,
			Pair:               s.Pair,
			Side:               s.Side,
			InputAmount:        current,
			InputCurrency:      s.Input(),
			OutputCurrency:     s.Output(),
			Price:              top.Price,
			FeeCurrency:        s.Pair.Quote,
			SlippagePercent:    decimal.Zero,
			AvailableLiquidity: top.Quantity,
		}

		var output, baseQty, feeInInput decimal.Decimal
		switch s.Side {
		case md.SideBuy:
			leg.Fee = current.Mul(o.feeRate)
			baseQty = current.Sub(leg.Fee).Div(top.Price)
			output = baseQty
			feeInInput = leg.Fee
		default:
			baseQty = current
			gross := current.Mul(top.Price)
			leg.Fee = gross.Mul(o.feeRate)
			output = gross.Sub(leg.Fee)
			feeInInput = leg.Fee.Div(top.Price)
		}

		report := c.depth.AnalyzeDepth(book.Levels(s.Side), baseQty, s.Side)
		if baseQty.GreaterThan(top.Quantity) || report.LiquidityRisk {
			report.LiquidityRisk = true
			leg.LiquidityRisk = true
			liquidityLegs = append(liquidityLegs, i)
			if o.slippageBuffer.IsPositive() {
				output = output.Mul(penalty)
				leg.SlippagePercent = o.slippageBuffer
				opp.TotalSlippage = opp.TotalSlippage.Add(o.slippageBuffer)
				slippageLegs = append(slippageLegs, i)
			}
		}
		leg.OutputAmount = output

		// Fees are marked to the start currency at the rate implied by the walk so far.
		opp.TotalFees = opp.TotalFees.Add(feeInInput.Mul(start).Div(current))

		opp.Legs = append(opp.Legs, leg)
		opp.Depth = append(opp.Depth, report)
		current = output
	}

	opp.EndAmount = current
	opp.GrossProfit = current.Sub(start)
	opp.NetProfit = opp.GrossProfit
	opp.NetProfitPercent = opp.NetProfit.Div(start).Mul(hundred)
	opp.ObservedAt = observed
	opp.ID = fmt.Sprintf("%s-%s-%d", path.ID, start.String(), observed.UnixMilli())

	if len(slippageLegs) > 0 {
		opp.RiskFactors = append(opp.RiskFactors, domain.RiskFactor{
			Name:        domain.RiskSlippage,
			Description: fmt.Sprintf("slippage penalty of %s%% across %d leg(s)", opp.TotalSlippage.String(), len(slippageLegs)),
			Legs:        slippageLegs,
		})
	}
	if opp.TotalFees.GreaterThan(start.Mul(c.params.FeeRiskFraction)) {
		opp.RiskFactors = append(opp.RiskFactors, domain.RiskFactor{
			Name: domain.RiskHighFees,
			Description: fmt.Sprintf("fees %s exceed %s%% of start",
				opp.TotalFees.StringFixed(4), c.params.FeeRiskFraction.Mul(hundred).String()),
		})
	}
	if len(liquidityLegs) > 0 {
		opp.RiskFactors = append(opp.RiskFactors, domain.RiskFactor{
			Name:        domain.RiskLiquidity,
			Description: fmt.Sprintf("top of book too thin on %d leg(s)", len(liquidityLegs)),
			Legs:        liquidityLegs,
		})
	}

	opp.RiskLevel = domain.RiskLevelFor(len(opp.RiskFactors))
	opp.Profitable = opp.NetProfit.GreaterThan(start.Mul(c.params.MinProfitFraction))
	opp.Recommendation = recommend(opp.Profitable, len(opp.RiskFactors))

	return opp, nil
}

func recommend(profitable bool, factors int) domain.Recommendation {
	switch {
	case profitable && factors == 0:
		return domain.RecommendExecute
	case profitable && factors == 1:
		return domain.RecommendCautious
	default:
		return domain.RecommendAvoid
	}
}
