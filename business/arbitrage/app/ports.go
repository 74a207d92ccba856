// Package app contains application services and port definitions for the arbitrage context.
package app

import (
	"context"
	"time"

	"github.com/fd1az/triarb/business/arbitrage/domain"
)

// Reporter defines the interface for reporting arbitrage opportunities.
type Reporter interface {
	// Start initializes the reporter.
	Start(ctx context.Context) error

	// Report sends an actionable opportunity to be displayed/logged.
	Report(opp *domain.Opportunity)

	// ReportScan publishes the ranked outcome of one scan.
	ReportScan(result *ScanResult)

	// UpdateConnectionStatus updates a connection status display.
	UpdateConnectionStatus(name string, connected bool, latency time.Duration)

	// Stop gracefully shuts down the reporter.
	Stop() error
}

// PathCatalog provides the cycles to scan.
type PathCatalog interface {
	Paths(ctx context.Context, selector string) ([]domain.TriangularPath, error)
}

// Auditor receives every computed opportunity of a scan.
type Auditor interface {
	RecordOpportunities(ctx context.Context, opps []*domain.Opportunity) error
}

// Executor runs an opportunity. Implemented by the execution context.
type Executor interface {
	ExecuteOpportunity(ctx context.Context, opp *domain.Opportunity) error
}
