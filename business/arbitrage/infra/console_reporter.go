// Package infra contains infrastructure adapters for the arbitrage context.
package infra

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fd1az/triarb/business/arbitrage/app"
	"github.com/fd1az/triarb/business/arbitrage/domain"
)

const rule = "================================================================================"
const thinRule = "--------------------------------------------------------------------------------"

// ConsoleReporter implements Reporter for CLI output.
type ConsoleReporter struct {
	mu  sync.Mutex
	out io.Writer
	// seen suppresses repeat blocks for an opportunity already printed.
	seen map[string]struct{}
}

// NewConsoleReporter creates a new ConsoleReporter writing to stdout.
func NewConsoleReporter() *ConsoleReporter {
	return NewConsoleReporterTo(os.Stdout)
}

// NewConsoleReporterTo creates a ConsoleReporter writing to w.
func NewConsoleReporterTo(w io.Writer) *ConsoleReporter {
	return &ConsoleReporter{out: w, seen: make(map[string]struct{})}
}

// Start initializes the console reporter.
func (r *ConsoleReporter) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.out, "Triangular Arbitrage Scanner Started")
	fmt.Fprintln(r.out, "====================================")
	return nil
}

// Report outputs an arbitrage opportunity to the console.
func (r *ConsoleReporter) Report(opp *domain.Opportunity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[opp.ID]; ok {
		return
	}
	r.seen[opp.ID] = struct{}{}
	WriteOpportunity(r.out, opp)
}

// ReportScan prints a one-line summary per scan.
func (r *ConsoleReporter) ReportScan(res *app.ScanResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	best := "-"
	if b := res.Best(); b != nil {
		best = fmt.Sprintf("%s %s%%", b.Path.ID, b.NetProfitPercent.StringFixed(3))
	}
	fmt.Fprintf(r.out, "[%s] scanned %d paths (%d pairs) in %s: %d profitable, %d skipped, best %s\n",
		res.StartedAt.Format("15:04:05"), len(res.Opportunities)+len(res.Skipped), res.Pairs,
		res.Duration.Round(time.Millisecond), res.ProfitableCount(), len(res.Skipped), best)
}

// UpdateConnectionStatus outputs connection status changes.
func (r *ConsoleReporter) UpdateConnectionStatus(name string, connected bool, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	status := "disconnected"
	if connected {
		status = fmt.Sprintf("connected (%s)", latency)
	}
	fmt.Fprintf(r.out, "[%s] %s: %s\n", time.Now().Format("15:04:05"), name, status)
}

// Stop gracefully shuts down the console reporter.
func (r *ConsoleReporter) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.out, "")
	fmt.Fprintln(r.out, "Triangular Arbitrage Scanner Stopped")
	return nil
}

// WriteOpportunity prints the full breakdown of one opportunity.
func WriteOpportunity(w io.Writer, opp *domain.Opportunity) {
	ccy := opp.StartCurrency()
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "ARBITRAGE OPPORTUNITY  %s\n", opp.Path.ID)
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Route:          %s\n", opp.Path.Route())
	fmt.Fprintf(w, "Observed:       %s\n", opp.ObservedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Start:          %s %s\n", opp.StartAmount.StringFixed(2), ccy)
	fmt.Fprintln(w, thinRule)
	fmt.Fprintln(w, "LEGS")
	for _, leg := range opp.Legs {
		flag := ""
		if leg.LiquidityRisk {
			flag = "  [thin]"
		}
		fmt.Fprintf(w, "  %d. %-4s %-10s @ %-16s %s %s -> %s %s (fee %s %s)%s\n",
			leg.Index+1, strings.ToUpper(string(leg.Side)), leg.Pair, leg.Price.String(),
			leg.InputAmount.StringFixed(8), leg.InputCurrency,
			leg.OutputAmount.StringFixed(8), leg.OutputCurrency,
			leg.Fee.StringFixed(8), leg.FeeCurrency, flag)
	}
	fmt.Fprintln(w, thinRule)
	fmt.Fprintln(w, "PROFIT")
	fmt.Fprintf(w, "  End:            %s %s\n", opp.EndAmount.StringFixed(4), ccy)
	fmt.Fprintf(w, "  Net:            %s %s (%s%%)\n", opp.NetProfit.StringFixed(4), ccy, opp.NetProfitPercent.StringFixed(3))
	fmt.Fprintf(w, "  Fees:           %s %s\n", opp.TotalFees.StringFixed(4), ccy)
	fmt.Fprintf(w, "  Slippage:       %s%%\n", opp.TotalSlippage.StringFixed(3))
	fmt.Fprintln(w, thinRule)
	fmt.Fprintf(w, "Risk:           %s\n", opp.RiskLevel)
	for _, f := range opp.RiskFactors {
		fmt.Fprintf(w, "  - %s: %s\n", f.Name, f.Description)
	}
	fmt.Fprintf(w, "Recommendation: %s\n", opp.Recommendation)
	fmt.Fprintln(w, rule)
}

// WriteTable prints a ranked table of opportunities.
func WriteTable(w io.Writer, opps []*domain.Opportunity) {
	fmt.Fprintf(w, "%-4s %-22s %-34s %12s %9s %-7s %-9s\n", "#", "PATH", "ROUTE", "NET", "NET %", "RISK", "ACTION")
	for i, o := range opps {
		fmt.Fprintf(w, "%-4d %-22s %-34s %12s %9s %-7s %-9s\n",
			i+1, truncate(o.Path.ID, 22), truncate(o.Path.Route(), 34),
			o.NetProfit.StringFixed(4), o.NetProfitPercent.StringFixed(3),
			o.RiskLevel, o.Recommendation)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
