package infra

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/fd1az/triarb/business/arbitrage/app"
	"github.com/fd1az/triarb/business/arbitrage/domain"
	"github.com/fd1az/triarb/pkg/ui"
)

// TUIReporter implements Reporter by forwarding to the Bubble Tea program.
type TUIReporter struct {
	send func(tea.Msg)
}

// NewTUIReporter creates a TUIReporter that sends to the running program.
func NewTUIReporter() *TUIReporter {
	return &TUIReporter{send: ui.Send}
}

// NewTUIReporterWith creates a TUIReporter with a custom sink.
func NewTUIReporterWith(send func(tea.Msg)) *TUIReporter {
	return &TUIReporter{send: send}
}

// Start marks the scanner step as starting.
func (r *TUIReporter) Start(ctx context.Context) error {
	r.send(ui.StartupMsg{Step: "catalog", Status: "done"})
	r.send(ui.StartupMsg{Step: "scanner", Status: "connecting"})
	return nil
}

// Report sends an arbitrage opportunity to the TUI.
func (r *TUIReporter) Report(opp *domain.Opportunity) {
	r.send(ui.OpportunityMsg{Opportunity: opp})
}

// ReportScan sends the ranked scan result to the TUI.
func (r *TUIReporter) ReportScan(res *app.ScanResult) {
	r.send(ui.ScanMsg{
		At:         res.StartedAt,
		Duration:   res.Duration,
		Pairs:      res.Pairs,
		Skipped:    len(res.Skipped),
		Profitable: res.ProfitableCount(),
		Ranked:     res.Opportunities,
	})
	for _, s := range res.Skipped {
		r.send(ui.LogMsg{Level: "warn", Message: s.PathID + ": " + s.Err.Error()})
	}
}

// UpdateConnectionStatus sends connection status to the TUI.
func (r *TUIReporter) UpdateConnectionStatus(name string, connected bool, latency time.Duration) {
	r.send(ui.ConnectionStatusMsg{Name: name, Connected: connected, Latency: latency})
}

// Stop is a no-op; the program exits on its own quit key.
func (r *TUIReporter) Stop() error {
	return nil
}
