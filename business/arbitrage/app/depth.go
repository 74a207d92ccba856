package app

import (
	"github.com/fd1az/triarb/business/arbitrage/domain"
	md "github.com/fd1az/triarb/business/marketdata/domain"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// DepthParams bounds what the analyzer still considers liquid.
type DepthParams struct {
	MaxLevels             int
	MaxPriceImpactPercent decimal.Decimal
}

// DefaultDepthParams flags more than 3 levels or more than 1% impact.
func DefaultDepthParams() DepthParams {
	return DepthParams{
		MaxLevels:             3,
		MaxPriceImpactPercent: decimal.NewFromInt(1),
	}
}

// DepthAnalyzer walks book levels for a required base quantity.
type DepthAnalyzer struct {
	params DepthParams
}

// NewDepthAnalyzer creates a new DepthAnalyzer.
func NewDepthAnalyzer(params DepthParams) *DepthAnalyzer {
	return &DepthAnalyzer{params: params}
}

// AnalyzeDepth consumes levels (asks for a buy, bids for a sell) until
// required is filled or the levels run out.
func (a *DepthAnalyzer) AnalyzeDepth(levels []md.PriceLevel, required decimal.Decimal, side md.Side) domain.DepthReport {
	report := domain.DepthReport{
		Side:     side,
		Required: required,
	}
	if len(levels) == 0 {
		report.LiquidityRisk = required.IsPositive()
		report.Satisfied = !required.IsPositive()
		return report
	}

	report.BestPrice = levels[0].Price
	if !report.BestPrice.IsPositive() {
		// A book quoting at zero cannot be priced.
		report.LiquidityRisk = true
		return report
	}
	if !required.IsPositive() {
		report.Satisfied = true
		report.AveragePrice = report.BestPrice
		return report
	}

	remaining := required
	for _, lvl := range levels {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(remaining, lvl.Quantity)
		report.Filled = report.Filled.Add(take)
		report.Notional = report.Notional.Add(take.Mul(lvl.Price))
		report.LevelsConsumed++
		remaining = remaining.Sub(take)
	}

	report.Satisfied = !remaining.IsPositive()
	if report.Filled.IsPositive() {
		report.AveragePrice = report.Notional.Div(report.Filled)
		report.PriceImpactPercent = report.AveragePrice.Sub(report.BestPrice).Abs().
			Div(report.BestPrice).Mul(hundred)
	}

	report.LiquidityRisk = !report.Satisfied ||
		report.LevelsConsumed > a.params.MaxLevels ||
		report.PriceImpactPercent.GreaterThan(a.params.MaxPriceImpactPercent)
	return report
}
