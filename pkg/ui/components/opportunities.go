// Package components provides reusable TUI components.
package components

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
)

// OpportunityRow represents one ranked path in the table.
type OpportunityRow struct {
	PathID         string
	Route          string
	NetProfit      decimal.Decimal
	NetPercent     decimal.Decimal
	Currency       string
	Risk           string
	Recommendation string
	Profitable     bool
}

// OpportunitiesComponent renders the ranked opportunities table.
type OpportunitiesComponent struct {
	rows    []OpportunityRow
	maxRows int
	offset  int
}

// NewOpportunitiesComponent creates a new opportunities component.
func NewOpportunitiesComponent(maxRows int) *OpportunitiesComponent {
	return &OpportunitiesComponent{
		rows:    make([]OpportunityRow, 0),
		maxRows: maxRows,
	}
}

// Set replaces the table with the latest ranking.
func (o *OpportunitiesComponent) Set(rows []OpportunityRow) {
	o.rows = rows
	if o.offset > o.maxOffset() {
		o.offset = o.maxOffset()
	}
}

// Len returns the number of rows held.
func (o *OpportunitiesComponent) Len() int {
	return len(o.rows)
}

// Clear clears all opportunities.
func (o *OpportunitiesComponent) Clear() {
	o.rows = make([]OpportunityRow, 0)
	o.offset = 0
}

// ScrollUp moves the visible window one row up.
func (o *OpportunitiesComponent) ScrollUp() {
	if o.offset > 0 {
		o.offset--
	}
}

// ScrollDown moves the visible window one row down.
func (o *OpportunitiesComponent) ScrollDown() {
	if o.offset < o.maxOffset() {
		o.offset++
	}
}

func (o *OpportunitiesComponent) maxOffset() int {
	return max(0, len(o.rows)-o.maxRows)
}

// View renders the opportunities component.
func (o *OpportunitiesComponent) View() string {
	if len(o.rows) == 0 {
		return "No paths evaluated yet..."
	}

	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	profitableStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	unprofitableStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))

	end := min(len(o.rows), o.offset+o.maxRows)
	result := headerStyle.Render(fmt.Sprintf("RANKED PATHS (%d-%d of %d)\n", o.offset+1, end, len(o.rows)))
	result += "┌────┬──────────────────────┬────────────┬─────────┬────────┬───────────┐\n"
	result += "│ #  │ Path                 │    Net     │  Net %  │  Risk  │  Action   │\n"
	result += "├────┼──────────────────────┼────────────┼─────────┼────────┼───────────┤\n"

	for i := o.offset; i < end; i++ {
		row := o.rows[i]
		style := profitableStyle
		icon := "✓"
		if !row.Profitable {
			style = unprofitableStyle
			icon = "✗"
		}

		result += fmt.Sprintf("│%3d │ %-20s │%11s │%8s │ %-6s │ %s %-7s │\n",
			i+1,
			clip(row.PathID, 20),
			row.NetProfit.StringFixed(2),
			row.NetPercent.StringFixed(3)+"%",
			row.Risk,
			icon,
			style.Render(clip(row.Recommendation, 7)),
		)
	}

	result += "└────┴──────────────────────┴────────────┴─────────┴────────┴───────────┘"

	return result
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
