package app

import (
	"testing"

	md "github.com/fd1az/triarb/business/marketdata/domain"
)

func levels(pq ...string) []md.PriceLevel {
	out := make([]md.PriceLevel, 0, len(pq)/2)
	for i := 0; i+1 < len(pq); i += 2 {
		out = append(out, md.PriceLevel{Price: d(pq[i]), Quantity: d(pq[i+1])})
	}
	return out
}

func TestDepthAnalyzer_AnalyzeDepth(t *testing.T) {
	asks := levels("100", "1", "100.5", "1", "101", "1", "102", "1", "110", "10")
	bids := levels("100", "1", "99", "1", "98", "1")

	tests := []struct {
		name        string
		levels      []md.PriceLevel
		side        md.Side
		required    string
		wantLevels  int
		wantFilled  string
		wantAvg     string
		wantImpact  string
		wantSatisfy bool
		wantRisk    bool
	}{
		{
			name:        "top_level_covers",
			levels:      asks,
			side:        md.SideBuy,
			required:    "0.5",
			wantLevels:  1,
			wantFilled:  "0.5",
			wantAvg:     "100",
			wantImpact:  "0",
			wantSatisfy: true,
		},
		{
			name:        "three_levels_within_impact",
			levels:      asks,
			side:        md.SideBuy,
			required:    "3",
			wantLevels:  3,
			wantFilled:  "3",
			wantAvg:     "100.5",
			wantImpact:  "0.5",
			wantSatisfy: true,
		},
		{
			name:        "four_levels_is_risky",
			levels:      asks,
			side:        md.SideBuy,
			required:    "3.5",
			wantLevels:  4,
			wantFilled:  "3.5",
			wantAvg:     "100.7142857142857143",
			wantImpact:  "0.714285714285714300",
			wantSatisfy: true,
			wantRisk:    true,
		},
		{
			name:        "impact_at_one_percent_passes",
			levels:      bids,
			side:        md.SideSell,
			required:    "3",
			wantLevels:  3,
			wantFilled:  "3",
			wantAvg:     "99",
			wantImpact:  "1",
			wantSatisfy: true,
		},
		{
			name:        "exhausted",
			levels:      bids,
			side:        md.SideSell,
			required:    "5",
			wantLevels:  3,
			wantFilled:  "3",
			wantAvg:     "99",
			wantImpact:  "1",
			wantSatisfy: false,
			wantRisk:    true,
		},
		{
			name:        "zero_best_price",
			levels:      levels("0", "5"),
			side:        md.SideBuy,
			required:    "1",
			wantFilled:  "0",
			wantAvg:     "0",
			wantImpact:  "0",
			wantSatisfy: false,
			wantRisk:    true,
		},
		{
			name:        "no_levels",
			levels:      nil,
			side:        md.SideBuy,
			required:    "1",
			wantFilled:  "0",
			wantAvg:     "0",
			wantImpact:  "0",
			wantSatisfy: false,
			wantRisk:    true,
		},
	}

	a := NewDepthAnalyzer(DefaultDepthParams())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := a.AnalyzeDepth(tt.levels, d(tt.required), tt.side)

			if r.LevelsConsumed != tt.wantLevels {
				t.Errorf("LevelsConsumed = %d, want %d", r.LevelsConsumed, tt.wantLevels)
			}
			if !r.Filled.Equal(d(tt.wantFilled)) {
				t.Errorf("Filled = %s, want %s", r.Filled, tt.wantFilled)
			}
			if !r.AveragePrice.Round(10).Equal(d(tt.wantAvg).Round(10)) {
				t.Errorf("AveragePrice = %s, want %s", r.AveragePrice, tt.wantAvg)
			}
			if !r.PriceImpactPercent.Round(8).Equal(d(tt.wantImpact).Round(8)) {
				t.Errorf("PriceImpactPercent = %s, want %s", r.PriceImpactPercent, tt.wantImpact)
			}
			if r.Satisfied != tt.wantSatisfy {
				t.Errorf("Satisfied = %v, want %v", r.Satisfied, tt.wantSatisfy)
			}
			if r.LiquidityRisk != tt.wantRisk {
				t.Errorf("LiquidityRisk = %v, want %v", r.LiquidityRisk, tt.wantRisk)
			}
		})
	}
}

func TestDepthAnalyzer_ImpactThreshold(t *testing.T) {
	bids := levels("100", "1", "97", "1")
	a := NewDepthAnalyzer(DefaultDepthParams())

	// avg 98.5 -> 1.5% below best
	r := a.AnalyzeDepth(bids, d("2"), md.SideSell)
	if !r.LiquidityRisk {
		t.Errorf("expected liquidity risk at %s%% impact", r.PriceImpactPercent)
	}

	loose := NewDepthAnalyzer(DepthParams{MaxLevels: 3, MaxPriceImpactPercent: d("2")})
	if loose.AnalyzeDepth(bids, d("2"), md.SideSell).LiquidityRisk {
		t.Error("1.5% impact should pass a 2% threshold")
	}
}
