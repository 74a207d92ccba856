package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/sugawarayuuta/sonnet"

	arb "github.com/fd1az/triarb/business/arbitrage/domain"
	"github.com/fd1az/triarb/business/execution/domain"
	"github.com/fd1az/triarb/internal/apperror"
)

// Store writes execution results and opportunity audits. Numeric columns
// are sent as decimal strings so no precision is lost on the way in.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store over pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// SaveExecution inserts res with its legs and rollbacks in one transaction.
func (s *Store) SaveExecution(ctx context.Context, res *domain.ExecutionResult) error {
	transitions, err := sonnet.Marshal(res.Transitions)
	if err != nil {
		return storageErr("encode transitions", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storageErr("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO executions (id, opportunity_id, path_id, route, account_id, start_currency, start_amount,
			final_amount, net_profit, net_profit_percent, estimated_profit, state, success, dry_run,
			error_code, error, rollback_error, transitions, started_at, finished_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		res.ID, res.OpportunityID, res.PathID, res.Route, res.AccountID, res.StartCurrency, num(res.StartAmount),
		num(res.FinalAmount), num(res.NetProfit), num(res.NetProfitPercent), num(res.EstimatedProfit),
		string(res.State), res.Success, res.DryRun,
		string(res.ErrorCode), res.Error, res.RollbackError, string(transitions),
		res.StartedAt, res.FinishedAt, res.Duration.Milliseconds(),
	)
	if err != nil {
		return storageErr("insert execution "+res.ID, err)
	}

	batch := &pgx.Batch{}
	for _, l := range res.Legs {
		batch.Queue(`
			INSERT INTO execution_legs (execution_id, leg_index, pair, side, input_amount, input_currency,
				output_amount, output_currency, price, fee, fee_currency, slippage_percent, order_id, status,
				simulated, partial, started_at, duration_ms)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
			res.ID, l.Index, l.Pair.String(), string(l.Side), num(l.InputAmount), l.InputCurrency,
			num(l.OutputAmount), l.OutputCurrency, num(l.Price), num(l.Fee), l.FeeCurrency, num(l.SlippagePercent),
			l.OrderID, string(l.Status), l.Simulated, l.Partial, l.StartedAt, l.Duration.Milliseconds())
	}
	for i, rb := range res.Rollbacks {
		batch.Queue(`
			INSERT INTO execution_rollbacks (execution_id, seq, leg_index, pair, side, amount, currency, output,
				order_id, status, simulated, success, error, started_at, duration_ms)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			res.ID, i, rb.LegIndex, rb.Pair.String(), string(rb.Side), num(rb.Amount), rb.Currency, num(rb.Output),
			rb.OrderID, string(rb.Status), rb.Simulated, rb.Success, rb.Error, rb.StartedAt, rb.Duration.Milliseconds())
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return storageErr("insert legs of "+res.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return storageErr("commit execution "+res.ID, err)
	}
	return nil
}

// RecordOpportunities appends every opportunity of a scan to the audit table.
func (s *Store) RecordOpportunities(ctx context.Context, opps []*arb.Opportunity) error {
	if len(opps) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, o := range opps {
		batch.Queue(`
			INSERT INTO opportunities (opportunity_id, path_id, start_currency, start_amount, end_amount,
				net_profit, net_profit_percent, total_fees, risk_level, recommendation, profitable, observed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			o.ID, o.Path.ID, o.StartCurrency(), num(o.StartAmount), num(o.EndAmount),
			num(o.NetProfit), num(o.NetProfitPercent), num(o.TotalFees),
			o.RiskLevel.String(), string(o.Recommendation), o.Profitable, o.ObservedAt)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return storageErr("record opportunities", err)
	}
	return nil
}

// Summary is one row of the execution history.
type Summary struct {
	ID            string
	PathID        string
	Route         string
	State         domain.State
	Success       bool
	DryRun        bool
	StartCurrency string
	StartAmount   decimal.Decimal
	NetProfit     decimal.Decimal
	ErrorCode     string
	Rollbacks     int
	StartedAt     time.Time
	Duration      time.Duration
}

// Recent returns the newest executions, optionally for one account.
func (s *Store) Recent(ctx context.Context, accountID string, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT e.id, e.path_id, e.route, e.state, e.success, e.dry_run, e.start_currency,
			e.start_amount::text, e.net_profit::text, e.error_code,
			(SELECT COUNT(*) FROM execution_rollbacks r WHERE r.execution_id = e.id),
			e.started_at, e.duration_ms
		FROM executions e
		WHERE $1 = '' OR e.account_id = $1
		ORDER BY e.started_at DESC
		LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, storageErr("list executions", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum            Summary
			state          string
			start, net     string
			durationMillis int64
		)
		if err := rows.Scan(&sum.ID, &sum.PathID, &sum.Route, &state, &sum.Success, &sum.DryRun, &sum.StartCurrency,
			&start, &net, &sum.ErrorCode, &sum.Rollbacks, &sum.StartedAt, &durationMillis); err != nil {
			return nil, storageErr("scan execution", err)
		}
		sum.State = domain.State(state)
		sum.StartAmount, _ = decimal.NewFromString(start)
		sum.NetProfit, _ = decimal.NewFromString(net)
		sum.Duration = time.Duration(durationMillis) * time.Millisecond
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list executions", err)
	}
	return out, nil
}

func num(d decimal.Decimal) string {
	return d.String()
}

func storageErr(op string, err error) error {
	return apperror.New(apperror.CodeStorageError, apperror.WithContext("postgres: "+op), apperror.WithCause(err))
}
