package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	arbapp "github.com/fd1az/triarb/business/arbitrage/app"
	arb "github.com/fd1az/triarb/business/arbitrage/domain"
	"github.com/fd1az/triarb/business/execution/domain"
	md "github.com/fd1az/triarb/business/marketdata/domain"
	"github.com/fd1az/triarb/business/marketdata/infra/paper"
	"github.com/fd1az/triarb/internal/apperror"
	"github.com/fd1az/triarb/internal/logger"
	"github.com/fd1az/triarb/internal/retry"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var account = md.Credentials{AccountID: "acct-1"}

type memStore struct {
	mu    sync.Mutex
	saved []*domain.ExecutionResult
}

func (s *memStore) SaveExecution(_ context.Context, res *domain.ExecutionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, res)
	return nil
}

type memJournal struct {
	mu      sync.Mutex
	entries map[string][]domain.Transition
}

func (j *memJournal) Append(_ context.Context, id string, t domain.Transition) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.entries == nil {
		j.entries = make(map[string][]domain.Transition)
	}
	j.entries[id] = append(j.entries[id], t)
	return nil
}

type harness struct {
	ex      *paper.Exchange
	coord   *Coordinator
	locker  *LocalLocker
	store   *memStore
	journal *memJournal
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		ex:      paper.New(d("0.001"), logger.NewDiscard()),
		locker:  NewLocalLocker(),
		store:   &memStore{},
		journal: &memJournal{},
	}
	var mu sync.Mutex
	seq := 0
	nextID := func() string {
		mu.Lock()
		defer mu.Unlock()
		seq++
		return fmt.Sprintf("id-%d", seq)
	}
	base := []Option{
		WithStore(h.store),
		WithJournal(h.journal),
		WithLocker(h.locker, time.Minute),
		WithReadRetry(retry.Policy{MaxTries: 1}),
		WithIDs(nextID),
	}
	h.coord = NewCoordinator(h.ex, NewBalanceValidator(d("0.05")), logger.NewDiscard(), append(base, opts...)...)
	return h
}

// evaluate prices path against the paper books.
func (h *harness) evaluate(t *testing.T, path arb.TriangularPath, start string) *arb.Opportunity {
	t.Helper()
	books := md.Books{}
	for _, p := range path.Pairs() {
		b, err := h.ex.GetOrderBook(context.Background(), p, 0)
		require.NoError(t, err)
		books[p] = b
	}
	opp, err := arbapp.NewCalculator(arbapp.DefaultParams()).Evaluate(path, books, d(start))
	require.NoError(t, err)
	return opp
}

// scenarioA seeds USDT → ETH → BTC → USDT with a 1000 USDT start that
// nets about 20.68 USDT after 0.1% fees.
func scenarioA(t *testing.T, h *harness) *arb.Opportunity {
	h.ex.SetBook(md.NewPair("ETH", "USDT"), d("1999"), d("2000"), d("10"))
	h.ex.SetBook(md.NewPair("ETH", "BTC"), d("0.0525"), d("0.0526"), d("10"))
	h.ex.SetBook(md.NewPair("BTC", "USDT"), d("39000"), d("39010"), d("5"))
	h.ex.SetBalance("USDT", d("2000"))
	h.ex.SetBalance("ETH", d("1"))

	opp := h.evaluate(t, arb.TriangularPath{
		ID:            "usdt-eth-btc",
		StartCurrency: "USDT",
		Steps: []arb.Step{
			{Pair: md.NewPair("ETH", "USDT"), Side: md.SideBuy},
			{Pair: md.NewPair("ETH", "BTC"), Side: md.SideSell},
			{Pair: md.NewPair("BTC", "USDT"), Side: md.SideSell},
		},
	}, "1000")
	require.Equal(t, arb.RecommendExecute, opp.Recommendation)
	return opp
}

// zarCycle seeds a four-leg ZAR → BTC → ETH → USDC → ZAR cycle with
// enough intermediate balances for every compensating order to fill.
func zarCycle(t *testing.T, h *harness) *arb.Opportunity {
	h.ex.SetBook(md.NewPair("BTC", "ZAR"), d("999000"), d("1000000"), d("1000"))
	h.ex.SetBook(md.NewPair("ETH", "BTC"), d("0.0499"), d("0.05"), d("1000"))
	h.ex.SetBook(md.NewPair("ETH", "USDC"), d("3000"), d("3001"), d("1000"))
	h.ex.SetBook(md.NewPair("USDC", "ZAR"), d("18"), d("18.01"), d("1000"))
	h.ex.SetBalance("ZAR", d("5000"))
	h.ex.SetBalance("BTC", d("1"))
	h.ex.SetBalance("ETH", d("10"))
	h.ex.SetBalance("USDC", d("1000"))

	opp := h.evaluate(t, arb.TriangularPath{
		ID:            "zar-btc-eth-usdc",
		StartCurrency: "ZAR",
		Steps: []arb.Step{
			{Pair: md.NewPair("BTC", "ZAR"), Side: md.SideBuy},
			{Pair: md.NewPair("ETH", "BTC"), Side: md.SideBuy},
			{Pair: md.NewPair("ETH", "USDC"), Side: md.SideSell},
			{Pair: md.NewPair("USDC", "ZAR"), Side: md.SideSell},
		},
	}, "1000")
	require.Equal(t, arb.RecommendExecute, opp.Recommendation)
	return opp
}

func liveOptions() domain.Options {
	opts := domain.DefaultOptions()
	opts.DryRun = false
	opts.PerLegTimeout = 200 * time.Millisecond
	opts.PollInterval = 2 * time.Millisecond
	return opts
}

// rejectNth fails the nth placement attempt (1-based) and lets the rest through.
func rejectNth(n ...int) paper.PlaceHook {
	var mu sync.Mutex
	count := 0
	return func(md.OrderRequest) error {
		mu.Lock()
		defer mu.Unlock()
		count++
		for _, k := range n {
			if count == k {
				return apperror.New(apperror.CodeOrderRejected, apperror.WithContext("venue refused the order"))
			}
		}
		return nil
	}
}

func assertClose(t *testing.T, want, got decimal.Decimal, tol string) {
	t.Helper()
	assert.True(t, want.Sub(got).Abs().LessThanOrEqual(d(tol)), "want %s, got %s (tolerance %s)", want, got, tol)
}

func states(ts []domain.Transition) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.String()
	}
	return out
}

func TestExecuteLiveSucceeds(t *testing.T) {
	h := newHarness(t)
	opp := scenarioA(t, h)

	res := h.coord.Execute(context.Background(), opp, account, liveOptions())

	require.NoError(t, res.Err())
	assert.True(t, res.Success)
	assert.Equal(t, domain.StateSucceeded, res.State)
	require.Len(t, res.Legs, 3)
	for i, leg := range res.Legs {
		assert.Equal(t, fmt.Sprintf("paper-%d", i+1), leg.OrderID)
		assert.Equal(t, md.OrderFilled, leg.Status)
		assert.False(t, leg.Simulated)
	}
	// Each leg is funded by the previous leg's actual output.
	assert.True(t, res.Legs[1].InputAmount.Equal(res.Legs[0].OutputAmount))
	assert.True(t, res.Legs[2].InputAmount.Equal(res.Legs[1].OutputAmount))
	assertClose(t, opp.NetProfit, res.NetProfit, "0.000001")
	assert.True(t, res.FinalAmount.Equal(res.Legs[2].OutputAmount))
	assert.Empty(t, res.Rollbacks)
	assert.Len(t, h.ex.Placed(), 3)

	assert.Equal(t, []string{
		"VALIDATING -> EXECUTING_LEG[0]",
		"EXECUTING_LEG -> EXECUTING_LEG[1]",
		"EXECUTING_LEG -> EXECUTING_LEG[2]",
		"EXECUTING_LEG -> SUCCEEDED",
	}, states(res.Transitions))
}

func TestExecuteDryRunSimulatesWithoutOrders(t *testing.T) {
	h := newHarness(t, WithRand(func() float64 { return 0.5 }))
	opp := scenarioA(t, h)

	res := h.coord.Execute(context.Background(), opp, account, domain.DefaultOptions())

	require.NoError(t, res.Err())
	assert.True(t, res.Success)
	assert.True(t, res.DryRun)
	assert.Empty(t, h.ex.Placed(), "dry run must never place orders")
	for _, leg := range res.Legs {
		assert.Empty(t, leg.OrderID)
		assert.True(t, leg.Simulated)
	}
	// Zero jitter reproduces the estimate exactly.
	assertClose(t, opp.NetProfit, res.NetProfit, "0.0000000001")
}

func TestExecuteDryRunStaysWithinJitterBounds(t *testing.T) {
	for _, r := range []float64{0, 0.999999} {
		t.Run(fmt.Sprint(r), func(t *testing.T) {
			h := newHarness(t, WithRand(func() float64 { return r }))
			opp := scenarioA(t, h)

			opts := domain.DefaultOptions()
			res := h.coord.Execute(context.Background(), opp, account, opts)
			require.True(t, res.Success)

			// Three legs each moved by at most Jitter of a ~1000 USDT notional.
			bound := opp.EndAmount.Mul(opts.Jitter).Mul(decimal.NewFromInt(3)).Mul(d("1.01"))
			assertClose(t, opp.NetProfit, res.NetProfit, bound.String())
			assert.False(t, res.NetProfit.Equal(opp.NetProfit))
		})
	}
}

func TestExecuteTimeoutRollsBackFilledLegs(t *testing.T) {
	h := newHarness(t)
	opp := scenarioA(t, h)
	h.ex.OnStatus(func(id string, st md.OrderStatus) md.OrderStatus {
		if id == "paper-2" {
			return md.OrderStatus{OrderID: id, State: md.OrderNew}
		}
		return st
	})

	opts := liveOptions()
	opts.PerLegTimeout = 20 * time.Millisecond
	res := h.coord.Execute(context.Background(), opp, account, opts)

	assert.False(t, res.Success)
	assert.True(t, apperror.HasCode(res.Err(), apperror.CodeOrderTimeout))
	assert.Equal(t, apperror.CodeOrderTimeout, res.ErrorCode)

	require.Len(t, res.Legs, 2)
	assert.Equal(t, "paper-2", res.Legs[1].OrderID)
	assert.False(t, res.Legs[1].Partial)

	require.Len(t, res.Rollbacks, 1)
	rb := res.Rollbacks[0]
	assert.Equal(t, 0, rb.LegIndex)
	assert.Equal(t, md.SideSell, rb.Side)
	assert.Equal(t, "ETH", rb.Currency)
	assert.True(t, rb.Amount.Equal(res.Legs[0].OutputAmount))
	assert.True(t, rb.Success)
	assert.NoError(t, res.RollbackErr())

	assert.Equal(t, []string{
		"VALIDATING -> EXECUTING_LEG[0]",
		"EXECUTING_LEG -> EXECUTING_LEG[1]",
		"EXECUTING_LEG -> ROLLING_BACK",
		"ROLLING_BACK -> FAILED",
	}, states(res.Transitions))
}

func TestExecuteCompensatesOrderPlacedBehindFailedCall(t *testing.T) {
	h := newHarness(t)
	opp := scenarioA(t, h)
	// Leg 1 fills on the venue but its acknowledgement never arrives.
	h.ex.OnAck(func(req md.OrderRequest, orderID string) error {
		if orderID == "paper-2" {
			return apperror.New(apperror.CodeExchangeConnection, apperror.WithContext("connection reset"))
		}
		return nil
	})

	res := h.coord.Execute(context.Background(), opp, account, liveOptions())

	assert.False(t, res.Success)
	assert.Equal(t, apperror.CodeOrderTimeout, res.ErrorCode)
	require.Len(t, res.Legs, 2)
	leg := res.Legs[1]
	assert.Equal(t, "paper-2", leg.OrderID)
	assert.True(t, leg.Partial)
	assert.True(t, leg.OutputAmount.IsPositive())

	require.Len(t, res.Rollbacks, 2)
	assert.Equal(t, 1, res.Rollbacks[0].LegIndex)
	assert.Equal(t, md.SideBuy, res.Rollbacks[0].Side)
	assert.Equal(t, "BTC", res.Rollbacks[0].Currency)
	assert.True(t, res.Rollbacks[0].Amount.Equal(leg.OutputAmount))
	assert.Equal(t, 0, res.Rollbacks[1].LegIndex)
	for _, rb := range res.Rollbacks {
		assert.True(t, rb.Success, "rollback of leg %d: %s", rb.LegIndex, rb.Error)
	}
	assert.Len(t, h.ex.Placed(), 4)
}

func TestExecuteTreatsUnknownOrderAsNotPlaced(t *testing.T) {
	h := newHarness(t)
	opp := scenarioA(t, h)
	h.ex.OnPlace(func(req md.OrderRequest) error {
		if req.Pair == md.NewPair("ETH", "BTC") {
			return errors.New("dial tcp: i/o timeout")
		}
		return nil
	})

	res := h.coord.Execute(context.Background(), opp, account, liveOptions())

	assert.Equal(t, apperror.CodeOrderRejected, res.ErrorCode)
	require.Len(t, res.Legs, 1)
	require.Len(t, res.Rollbacks, 1)
	assert.Equal(t, 0, res.Rollbacks[0].LegIndex)
}

func TestExecuteRollsBackOnlyCompletedLegs(t *testing.T) {
	h := newHarness(t)
	opp := scenarioA(t, h)
	h.ex.OnPlace(rejectNth(2))

	res := h.coord.Execute(context.Background(), opp, account, liveOptions())

	assert.False(t, res.Success)
	assert.Equal(t, apperror.CodeOrderRejected, res.ErrorCode)
	require.Len(t, res.Legs, 1)
	require.Len(t, res.Rollbacks, 1)
	assert.Equal(t, 0, res.Rollbacks[0].LegIndex)
	assert.True(t, res.Rollbacks[0].Success)

	// Only leg 0 and its compensating order were accepted; nothing is retried.
	placed := h.ex.Placed()
	require.Len(t, placed, 2)
	assert.Equal(t, md.SideSell, placed[1].Side)
	assert.Equal(t, md.NewPair("ETH", "USDT"), placed[1].Pair)
}

func TestExecuteRollsBackInReverseOrder(t *testing.T) {
	h := newHarness(t)
	opp := zarCycle(t, h)
	h.ex.OnPlace(rejectNth(4))

	res := h.coord.Execute(context.Background(), opp, account, liveOptions())

	assert.False(t, res.Success)
	require.Len(t, res.Legs, 3)
	require.Len(t, res.Rollbacks, 3)

	var legs []int
	var ids []string
	for _, rb := range res.Rollbacks {
		legs = append(legs, rb.LegIndex)
		ids = append(ids, rb.OrderID)
		assert.True(t, rb.Success, "rollback of leg %d: %s", rb.LegIndex, rb.Error)
	}
	assert.Equal(t, []int{2, 1, 0}, legs)
	assert.Equal(t, []string{"paper-4", "paper-5", "paper-6"}, ids)

	for _, rb := range res.Rollbacks {
		leg := res.Legs[rb.LegIndex]
		assert.Equal(t, leg.Side.Opposite(), rb.Side)
		assert.True(t, rb.Amount.Equal(leg.OutputAmount))
	}
}

func TestExecuteRecordsFailedRollbacksAndContinues(t *testing.T) {
	h := newHarness(t)
	opp := zarCycle(t, h)
	// Leg 3 and the first compensating order are refused.
	h.ex.OnPlace(rejectNth(4, 5))

	res := h.coord.Execute(context.Background(), opp, account, liveOptions())

	assert.Equal(t, apperror.CodeOrderRejected, res.ErrorCode)
	require.Len(t, res.Rollbacks, 3)
	assert.False(t, res.Rollbacks[0].Success)
	assert.NotEmpty(t, res.Rollbacks[0].Error)
	assert.True(t, res.Rollbacks[1].Success)
	assert.True(t, res.Rollbacks[2].Success)
	assert.True(t, apperror.HasCode(res.RollbackErr(), apperror.CodeRollbackFailure))
	assert.NotEmpty(t, res.RollbackError)
}

func TestExecuteSlippageGuardStopsBeforePlacing(t *testing.T) {
	h := newHarness(t)
	opp := scenarioA(t, h)
	// ETH/BTC bid drops about 1% after evaluation.
	h.ex.SetBook(md.NewPair("ETH", "BTC"), d("0.0520"), d("0.0526"), d("10"))

	res := h.coord.Execute(context.Background(), opp, account, liveOptions())

	assert.Equal(t, apperror.CodeSlippageExceeded, res.ErrorCode)
	require.Len(t, res.Legs, 1)
	require.Len(t, res.Rollbacks, 1)
	placed := h.ex.Placed()
	require.Len(t, placed, 2)
	for _, p := range placed {
		assert.Equal(t, md.NewPair("ETH", "USDT"), p.Pair, "no order may reach the moved market")
	}
}

func TestExecuteValidationFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness, opp *arb.Opportunity) *arb.Opportunity
		code  apperror.Code
	}{
		{
			name: "avoid",
			setup: func(_ *harness, opp *arb.Opportunity) *arb.Opportunity {
				cp := *opp
				cp.Recommendation = arb.RecommendAvoid
				return &cp
			},
			code: apperror.CodeValidationError,
		},
		{
			name: "insufficient_balance",
			setup: func(h *harness, opp *arb.Opportunity) *arb.Opportunity {
				h.ex.SetBalance("USDT", d("1049.99"))
				return opp
			},
			code: apperror.CodeInsufficientBalance,
		},
		{
			name: "bad_shape",
			setup: func(_ *harness, opp *arb.Opportunity) *arb.Opportunity {
				cp := *opp
				cp.Path.Steps = cp.Path.Steps[:2]
				return &cp
			},
			code: apperror.CodeInvalidPath,
		},
		{
			name: "account_busy",
			setup: func(h *harness, opp *arb.Opportunity) *arb.Opportunity {
				_, err := h.locker.TryLock(context.Background(), lockKey(account), time.Minute)
				if err != nil {
					panic(err)
				}
				return opp
			},
			code: apperror.CodeExecutionInProgress,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			opp := tt.setup(h, scenarioA(t, h))

			res := h.coord.Execute(context.Background(), opp, account, liveOptions())

			assert.False(t, res.Success)
			assert.Equal(t, tt.code, res.ErrorCode)
			assert.Empty(t, h.ex.Placed())
			assert.Empty(t, res.Legs)
			assert.Empty(t, res.Rollbacks)
			assert.Equal(t, []string{"VALIDATING -> FAILED"}, states(res.Transitions))
			assert.Len(t, h.store.saved, 1)
		})
	}
}

func TestExecuteSerializesPerAccount(t *testing.T) {
	h := newHarness(t)
	opp := scenarioA(t, h)

	started := make(chan struct{})
	release := make(chan struct{})
	h.ex.OnStatus(func(id string, st md.OrderStatus) md.OrderStatus {
		if id == "paper-1" {
			select {
			case <-started:
			default:
				close(started)
			}
			<-release
		}
		return st
	})

	done := make(chan *domain.ExecutionResult)
	go func() { done <- h.coord.Execute(context.Background(), opp, account, liveOptions()) }()
	<-started

	busy := h.coord.Execute(context.Background(), opp, account, liveOptions())
	assert.Equal(t, apperror.CodeExecutionInProgress, busy.ErrorCode)

	close(release)
	first := <-done
	assert.True(t, first.Success, first.Error)

	again := h.coord.Execute(context.Background(), opp, md.Credentials{AccountID: "acct-2"}, liveOptions())
	assert.NotEqual(t, apperror.CodeExecutionInProgress, again.ErrorCode)
}

func TestExecutePersistsOnceAndJournalsEveryTransition(t *testing.T) {
	h := newHarness(t)
	opp := scenarioA(t, h)
	h.ex.OnPlace(rejectNth(3))

	res := h.coord.Execute(context.Background(), opp, account, liveOptions())

	require.Len(t, h.store.saved, 1)
	assert.Same(t, res, h.store.saved[0])
	assert.Equal(t, res.Transitions, h.journal.entries[res.ID])
	for i, tr := range res.Transitions {
		assert.Equal(t, i+1, tr.Seq)
	}
	assert.True(t, res.State.Terminal())
	assert.False(t, res.FinishedAt.Before(res.StartedAt))
}

func TestExecutePanicsWithoutSteps(t *testing.T) {
	h := newHarness(t)
	assert.Panics(t, func() {
		h.coord.Execute(context.Background(), &arb.Opportunity{ID: "empty"}, account, liveOptions())
	})
}

func TestAutoExecutorReportsResult(t *testing.T) {
	h := newHarness(t, WithRand(func() float64 { return 0.5 }))
	opp := scenarioA(t, h)

	var got *domain.ExecutionResult
	exec := NewAutoExecutor(h.coord, account, domain.DefaultOptions(), func(r *domain.ExecutionResult) { got = r })
	require.NoError(t, exec.ExecuteOpportunity(context.Background(), opp))
	require.NotNil(t, got)
	assert.Equal(t, opp.ID, got.OpportunityID)

	h.ex.SetBalance("USDT", d("10"))
	err := exec.ExecuteOpportunity(context.Background(), opp)
	assert.True(t, apperror.HasCode(err, apperror.CodeInsufficientBalance))
}
