// Package ui provides the Bubble Tea TUI for the arbitrage scanner.
package ui

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/fd1az/triarb/business/arbitrage/domain"
)

// Message types for TUI updates

// OpportunityMsg is sent when a profitable opportunity is detected.
type OpportunityMsg struct {
	Opportunity *domain.Opportunity
}

// ScanMsg is sent after every scan with the ranked opportunities.
type ScanMsg struct {
	At         time.Time
	Duration   time.Duration
	Pairs      int
	Skipped    int
	Profitable int
	Ranked     []*domain.Opportunity
}

// ExecutionMsg is sent when an execution attempt finishes.
type ExecutionMsg struct {
	ID        string
	PathID    string
	Success   bool
	DryRun    bool
	NetProfit decimal.Decimal
	Currency  string
	Rollbacks int
	Error     string
}

// ConnectionStatusMsg is sent when connection status changes.
type ConnectionStatusMsg struct {
	Name      string
	Connected bool
	Latency   time.Duration
}

// ErrorMsg is sent when an error occurs.
type ErrorMsg struct {
	Error error
}

// TickMsg is sent periodically for UI updates.
type TickMsg struct{}

// WelcomeCompleteMsg signals the welcome screen is done (timeout or keypress).
type WelcomeCompleteMsg struct{}

// StartModulesMsg signals that modules should start loading.
type StartModulesMsg struct{}

// LogMsg is sent to display a log message in the UI.
type LogMsg struct {
	Level   string // "info", "warn", "error"
	Message string
}

// StartupMsg is sent during application startup to show progress.
type StartupMsg struct {
	Step    string // Current step name
	Status  string // "connecting", "connected", "done", "failed"
	Message string // Optional message
}
