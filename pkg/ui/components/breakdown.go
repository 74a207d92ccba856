// Package components provides reusable TUI components.
package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
)

// LegRow is one leg of the path on display.
type LegRow struct {
	Side  string
	Pair  string
	Price decimal.Decimal
	In    string
	Out   string
	Thin  bool
}

// Breakdown holds the evaluated figures of one path for display.
type Breakdown struct {
	PathID         string
	Route          string
	Currency       string
	Start          decimal.Decimal
	End            decimal.Decimal
	NetProfit      decimal.Decimal
	NetPercent     decimal.Decimal
	Fees           decimal.Decimal
	Slippage       decimal.Decimal
	Legs           []LegRow
	Risk           string
	Factors        []string
	Recommendation string
	Profitable     bool
}

// BreakdownComponent renders the leg-by-leg breakdown of the best path.
type BreakdownComponent struct {
	breakdown *Breakdown
}

// NewBreakdownComponent creates a new breakdown component.
func NewBreakdownComponent() *BreakdownComponent {
	return &BreakdownComponent{}
}

// Set replaces the displayed breakdown. Values arrive pre-calculated.
func (p *BreakdownComponent) Set(b Breakdown) {
	p.breakdown = &b
}

// Clear drops the displayed breakdown.
func (p *BreakdownComponent) Clear() {
	p.breakdown = nil
}

// View renders the breakdown component.
func (p *BreakdownComponent) View() string {
	if p.breakdown == nil {
		return "Waiting for order books..."
	}
	b := p.breakdown

	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	positiveStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	negativeStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	warnStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))

	var result string
	result = headerStyle.Render(fmt.Sprintf("BEST PATH (%s)", b.PathID))
	result += "\n"
	result += dimStyle.Render("  "+b.Route) + "\n\n"

	result += fmt.Sprintf("  %-4s  %-10s  %14s  %s\n", "Side", "Pair", "Price", "Flow")
	result += dimStyle.Render("  "+strings.Repeat("─", 56)) + "\n"
	for _, leg := range b.Legs {
		flow := leg.In + " → " + leg.Out
		if leg.Thin {
			flow += " " + warnStyle.Render("[thin]")
		}
		result += fmt.Sprintf("  %-4s  %-10s  %14s  %s\n", leg.Side, leg.Pair, leg.Price.String(), flow)
	}

	result += "\n"
	result += dimStyle.Render("  "+strings.Repeat("─", 56)) + "\n"

	if b.Profitable {
		result += headerStyle.Render("  OPPORTUNITY FOUND!") + "\n\n"
	} else {
		result += headerStyle.Render("  BELOW THRESHOLD") + "\n\n"
	}

	result += fmt.Sprintf("  Start: %s\n", dimStyle.Render(b.Start.StringFixed(2)+" "+b.Currency))
	result += fmt.Sprintf("  End: %s\n", dimStyle.Render(b.End.StringFixed(4)+" "+b.Currency))
	result += fmt.Sprintf("  Fees: %s\n", negativeStyle.Render("-"+b.Fees.StringFixed(4)))
	result += fmt.Sprintf("  Slippage: %s\n", warnStyle.Render(b.Slippage.StringFixed(3)+"%"))

	net := fmt.Sprintf("%s (%s%%)", b.NetProfit.StringFixed(4), b.NetPercent.StringFixed(3))
	if b.NetProfit.IsPositive() {
		result += fmt.Sprintf("  Net profit: %s\n", positiveStyle.Render("+"+net))
	} else {
		result += fmt.Sprintf("  Net profit: %s\n", negativeStyle.Render(net))
	}

	result += fmt.Sprintf("\n  Risk: %s  Action: %s\n", b.Risk, b.Recommendation)
	for _, f := range b.Factors {
		result += dimStyle.Render("   - "+f) + "\n"
	}

	return result
}
