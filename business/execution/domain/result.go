package domain

import (
	"time"

	"github.com/shopspring/decimal"

	arb "github.com/fd1az/triarb/business/arbitrage/domain"
	md "github.com/fd1az/triarb/business/marketdata/domain"
	"github.com/fd1az/triarb/internal/apperror"
)

// RollbackAttempt is one compensating order for a completed leg.
type RollbackAttempt struct {
	LegIndex  int             `json:"leg_index"`
	Pair      md.Pair         `json:"pair"`
	Side      md.Side         `json:"side"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	OrderID   string          `json:"order_id,omitempty"`
	Status    md.OrderState   `json:"status,omitempty"`
	Output    decimal.Decimal `json:"output"`
	Simulated bool            `json:"simulated,omitempty"`
	Success   bool            `json:"success"`
	Error     string          `json:"error,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration"`
}

// ExecutionResult is the record of one execution attempt. It is created when
// the attempt starts and finalized exactly once.
type ExecutionResult struct {
	ID            string            `json:"id"`
	OpportunityID string            `json:"opportunity_id"`
	PathID        string            `json:"path_id"`
	Route         string            `json:"route"`
	AccountID     string            `json:"account_id"`
	StartCurrency string            `json:"start_currency"`
	StartAmount   decimal.Decimal   `json:"start_amount"`
	Legs          []arb.LegResult   `json:"legs"`
	Rollbacks     []RollbackAttempt `json:"rollbacks"`
	Transitions   []Transition      `json:"transitions"`
	State         State             `json:"state"`
	Success       bool              `json:"success"`
	DryRun        bool              `json:"dry_run"`
	ErrorCode     apperror.Code     `json:"error_code,omitempty"`
	Error         string            `json:"error,omitempty"`
	RollbackError string            `json:"rollback_error,omitempty"`
	FinalAmount   decimal.Decimal   `json:"final_amount"`
	NetProfit     decimal.Decimal   `json:"net_profit"`
	// NetProfitPercent is realized profit over the start amount, in percent.
	NetProfitPercent decimal.Decimal `json:"net_profit_percent"`
	EstimatedProfit  decimal.Decimal `json:"estimated_profit"`
	StartedAt        time.Time       `json:"started_at"`
	FinishedAt       time.Time       `json:"finished_at"`
	Duration         time.Duration   `json:"duration"`

	err         error
	rollbackErr error
}

// NewResult opens a result for opp.
func NewResult(id string, opp *arb.Opportunity, accountID string, dryRun bool, now time.Time) *ExecutionResult {
	return &ExecutionResult{
		ID:              id,
		OpportunityID:   opp.ID,
		PathID:          opp.Path.ID,
		Route:           opp.Path.Route(),
		AccountID:       accountID,
		StartCurrency:   opp.StartCurrency(),
		StartAmount:     opp.StartAmount,
		EstimatedProfit: opp.NetProfit,
		DryRun:          dryRun,
		State:           StateValidating,
		StartedAt:       now,
	}
}

// Err returns the error that failed the attempt, if any.
func (r *ExecutionResult) Err() error {
	return r.err
}

// RollbackErr returns a RollbackFailure error when any compensating order failed.
func (r *ExecutionResult) RollbackErr() error {
	return r.rollbackErr
}

// Fail records the triggering error.
func (r *ExecutionResult) Fail(err error) {
	r.err = err
	r.ErrorCode = apperror.GetCode(err)
	r.Error = err.Error()
}

// FailRollback records a failed compensation.
func (r *ExecutionResult) FailRollback(err error) {
	r.rollbackErr = err
	r.RollbackError = err.Error()
}

// CompletedLegs returns the legs that produced output and so need compensation.
func (r *ExecutionResult) CompletedLegs() []arb.LegResult {
	out := make([]arb.LegResult, 0, len(r.Legs))
	for _, l := range r.Legs {
		if l.OutputAmount.IsPositive() {
			out = append(out, l)
		}
	}
	return out
}

// Finalize closes the result. Success computes realized profit from the
// last leg's actual output.
func (r *ExecutionResult) Finalize(state State, transitions []Transition, now time.Time) {
	r.State = state
	r.Success = state == StateSucceeded
	r.Transitions = transitions
	r.FinishedAt = now
	r.Duration = now.Sub(r.StartedAt)
	if r.Success && len(r.Legs) > 0 {
		r.FinalAmount = r.Legs[len(r.Legs)-1].OutputAmount
		r.NetProfit = r.FinalAmount.Sub(r.StartAmount)
		if r.StartAmount.IsPositive() {
			r.NetProfitPercent = r.NetProfit.Div(r.StartAmount).Mul(decimal.NewFromInt(100))
		}
	}
}
