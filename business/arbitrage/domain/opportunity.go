package domain

import (
	"fmt"
	"time"

	md "github.com/fd1az/triarb/business/marketdata/domain"
	"github.com/shopspring/decimal"
)

// RiskLevel orders opportunities by how many risk factors they carry.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
)

// RiskLevelFor maps a factor count to a level: 0 LOW, 1 MEDIUM, 2+ HIGH.
func RiskLevelFor(factors int) RiskLevel {
	switch {
	case factors <= 0:
		return RiskLow
	case factors == 1:
		return RiskMedium
	default:
		return RiskHigh
	}
}

func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "LOW"
	case RiskMedium:
		return "MEDIUM"
	case RiskHigh:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}

func (r RiskLevel) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *RiskLevel) UnmarshalText(b []byte) error {
	switch string(b) {
	case "LOW":
		*r = RiskLow
	case "MEDIUM":
		*r = RiskMedium
	case "HIGH":
		*r = RiskHigh
	default:
		return fmt.Errorf("unknown risk level %q", b)
	}
	return nil
}

// Recommendation is the calculator's verdict on an opportunity.
type Recommendation string

const (
	RecommendExecute  Recommendation = "EXECUTE"
	RecommendCautious Recommendation = "CAUTIOUS"
	RecommendAvoid    Recommendation = "AVOID"
)

// RiskFactorKind names what raised a risk factor.
type RiskFactorKind string

const (
	RiskSlippage  RiskFactorKind = "SLIPPAGE"
	RiskHighFees  RiskFactorKind = "HIGH_FEES"
	RiskLiquidity RiskFactorKind = "LIQUIDITY"
)

// RiskFactor represents a risk factor for an arbitrage opportunity.
type RiskFactor struct {
	Name        RiskFactorKind `json:"name"`
	Description string         `json:"description"`
	// Legs lists the zero-based legs that contributed; empty for path-wide factors.
	Legs []int `json:"legs,omitempty"`
}

// DepthReport is the outcome of walking one side of a book for a required quantity.
type DepthReport struct {
	Side               md.Side         `json:"side"`
	Required           decimal.Decimal `json:"required"`
	Filled             decimal.Decimal `json:"filled"`
	Notional           decimal.Decimal `json:"notional"`
	LevelsConsumed     int             `json:"levels_consumed"`
	BestPrice          decimal.Decimal `json:"best_price"`
	AveragePrice       decimal.Decimal `json:"average_price"`
	PriceImpactPercent decimal.Decimal `json:"price_impact_percent"`
	Satisfied          bool            `json:"satisfied"`
	LiquidityRisk      bool            `json:"liquidity_risk"`
}

// LegResult describes one leg, either simulated by the calculator or filled
// by the execution coordinator.
type LegResult struct {
	Index          int             `json:"index"`
	Pair           md.Pair         `json:"pair"`
	Side           md.Side         `json:"side"`
	InputAmount    decimal.Decimal `json:"input_amount"`
	InputCurrency  string          `json:"input_currency"`
	OutputAmount   decimal.Decimal `json:"output_amount"`
	OutputCurrency string          `json:"output_currency"`
	Price          decimal.Decimal `json:"price"`
	Fee            decimal.Decimal `json:"fee"`
	FeeCurrency    string          `json:"fee_currency"`
	// SlippagePercent is the penalty applied (estimate) or the observed deviation from the quote (fill).
	SlippagePercent    decimal.Decimal `json:"slippage_percent"`
	AvailableLiquidity decimal.Decimal `json:"available_liquidity"`
	LiquidityRisk      bool            `json:"liquidity_risk"`

	// Execution-only fields.
	OrderID   string        `json:"order_id,omitempty"`
	Status    md.OrderState `json:"status,omitempty"`
	Simulated bool          `json:"simulated,omitempty"`
	Partial   bool          `json:"partial,omitempty"`
	StartedAt time.Time     `json:"started_at,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// Step returns the (pair, side) the leg traded.
func (l LegResult) Step() Step {
	return Step{Pair: l.Pair, Side: l.Side}
}

// Opportunity is the evaluated outcome of trading once around a path.
type Opportunity struct {
	ID               string          `json:"id"`
	Path             TriangularPath  `json:"path"`
	StartAmount      decimal.Decimal `json:"start_amount"`
	EndAmount        decimal.Decimal `json:"end_amount"`
	GrossProfit      decimal.Decimal `json:"gross_profit"`
	NetProfit        decimal.Decimal `json:"net_profit"`
	NetProfitPercent decimal.Decimal `json:"net_profit_percent"`
	Legs             []LegResult     `json:"legs"`
	// TotalFees is expressed in the start currency.
	TotalFees decimal.Decimal `json:"total_fees"`
	// TotalSlippage sums the per-leg slippage penalties, in percent points.
	TotalSlippage  decimal.Decimal `json:"total_slippage"`
	Depth          []DepthReport   `json:"depth"`
	RiskFactors    []RiskFactor    `json:"risk_factors"`
	RiskLevel      RiskLevel       `json:"risk_level"`
	Recommendation Recommendation  `json:"recommendation"`
	Profitable     bool            `json:"profitable"`
	FeeRate        decimal.Decimal `json:"fee_rate"`
	// ObservedAt is the newest snapshot time among the books used.
	ObservedAt time.Time `json:"observed_at"`
}

// StartCurrency is the currency the cycle starts and ends in.
func (o *Opportunity) StartCurrency() string {
	return o.Path.StartCurrency
}

// LegPrice returns the top-of-book price assumed for leg i.
func (o *Opportunity) LegPrice(i int) decimal.Decimal {
	if i < 0 || i >= len(o.Legs) {
		return decimal.Zero
	}
	return o.Legs[i].Price
}

// HasRisk reports whether a factor of the given kind was raised.
func (o *Opportunity) HasRisk(kind RiskFactorKind) bool {
	for _, f := range o.RiskFactors {
		if f.Name == kind {
			return true
		}
	}
	return false
}

// Summary is a single-line description for logs.
func (o *Opportunity) Summary() string {
	return fmt.Sprintf("%s %s start=%s net=%s (%s%%) risk=%s rec=%s",
		o.Path.ID, o.Path.Route(),
		o.StartAmount.StringFixed(2), o.NetProfit.StringFixed(4), o.NetProfitPercent.StringFixed(3),
		o.RiskLevel, o.Recommendation)
}
