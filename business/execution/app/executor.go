package app

import (
	"context"

	arb "github.com/fd1az/triarb/business/arbitrage/domain"
	"github.com/fd1az/triarb/business/execution/domain"
	md "github.com/fd1az/triarb/business/marketdata/domain"
)

// AutoExecutor runs detector-selected opportunities for one account.
type AutoExecutor struct {
	coord  *Coordinator
	creds  md.Credentials
	opts   domain.Options
	notify func(*domain.ExecutionResult)
}

// NewAutoExecutor creates an AutoExecutor. notify, when set, sees every result.
func NewAutoExecutor(coord *Coordinator, creds md.Credentials, opts domain.Options, notify func(*domain.ExecutionResult)) *AutoExecutor {
	return &AutoExecutor{coord: coord, creds: creds, opts: opts, notify: notify}
}

// ExecuteOpportunity implements the arbitrage Executor hook.
func (e *AutoExecutor) ExecuteOpportunity(ctx context.Context, opp *arb.Opportunity) error {
	res := e.coord.Execute(ctx, opp, e.creds, e.opts)
	if e.notify != nil {
		e.notify(res)
	}
	return res.Err()
}
