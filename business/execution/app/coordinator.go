package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	arb "github.com/fd1az/triarb/business/arbitrage/domain"
	"github.com/fd1az/triarb/business/execution/domain"
	mdapp "github.com/fd1az/triarb/business/marketdata/app"
	md "github.com/fd1az/triarb/business/marketdata/domain"
	"github.com/fd1az/triarb/internal/apm"
	"github.com/fd1az/triarb/internal/apperror"
	"github.com/fd1az/triarb/internal/logger"
	"github.com/fd1az/triarb/internal/retry"
)

const tracerName = "execution"

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithStore sets where finalized results are persisted.
func WithStore(s Store) Option {
	return func(c *Coordinator) { c.store = s }
}

// WithJournal sets the transition journal.
func WithJournal(j Journal) Option {
	return func(c *Coordinator) { c.journal = j }
}

// WithLocker replaces the in-process account lock.
func WithLocker(l Locker, ttl time.Duration) Option {
	return func(c *Coordinator) {
		c.locker = l
		if ttl > 0 {
			c.lockTTL = ttl
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithRand overrides the [0,1) source used for simulated price jitter.
func WithRand(f func() float64) Option {
	return func(c *Coordinator) { c.rand = f }
}

// WithIDs overrides execution and client order ID generation.
func WithIDs(f func() string) Option {
	return func(c *Coordinator) { c.newID = f }
}

// WithReadRetry sets the backoff policy for book and balance reads.
// Order placement is never retried.
func WithReadRetry(p retry.Policy) Option {
	return func(c *Coordinator) { c.readRetry = p }
}

// Coordinator executes opportunities as a sequential saga: one market order
// per leg, each leg fed by the previous leg's actual output, and compensating
// orders in reverse when a leg fails.
type Coordinator struct {
	clients   mdapp.ClientFactory
	validator *BalanceValidator
	store     Store
	journal   Journal
	locker    Locker
	lockTTL   time.Duration
	readRetry retry.Policy
	now       func() time.Time
	rand      func() float64
	newID     func() string
	log       logger.LoggerInterface
	tracer    trace.Tracer

	attempts          metric.Int64Counter
	succeeded         metric.Int64Counter
	legs              metric.Int64Counter
	rollbacks         metric.Int64Counter
	rollbackFailures  metric.Int64Counter
	executionDuration metric.Float64Histogram
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(clients mdapp.ClientFactory, validator *BalanceValidator, log logger.LoggerInterface, opts ...Option) *Coordinator {
	meter := otel.Meter(tracerName)
	attempts, _ := meter.Int64Counter("execution_attempts_total", metric.WithDescription("Execution attempts"))
	succeeded, _ := meter.Int64Counter("execution_succeeded_total", metric.WithDescription("Executions that completed every leg"))
	legs, _ := meter.Int64Counter("execution_legs_total", metric.WithDescription("Legs attempted"))
	rollbacks, _ := meter.Int64Counter("execution_rollbacks_total", metric.WithDescription("Compensating orders attempted"))
	rollbackFailures, _ := meter.Int64Counter("execution_rollback_failures_total", metric.WithDescription("Compensating orders that failed"))
	executionDuration, _ := meter.Float64Histogram("execution_duration_ms", metric.WithUnit("ms"))

	c := &Coordinator{
		clients:           clients,
		validator:         validator,
		locker:            NewLocalLocker(),
		lockTTL:           2 * time.Minute,
		readRetry:         retry.DefaultPolicy(),
		now:               time.Now,
		rand:              rand.Float64,
		newID:             uuid.NewString,
		log:               log,
		tracer:            otel.Tracer(tracerName),
		attempts:          attempts,
		succeeded:         succeeded,
		legs:              legs,
		rollbacks:         rollbacks,
		rollbackFailures:  rollbackFailures,
		executionDuration: executionDuration,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// attempt is the mutable state of one Execute call.
type attempt struct {
	opp    *arb.Opportunity
	opts   domain.Options
	client mdapp.ExchangeClient
	res    *domain.ExecutionResult
	fsm    *domain.Machine
}

// Execute runs opp for the account behind creds. It always returns a
// finalized result; the triggering error is on res.Err(). A path with no
// steps is a programming error and panics.
func (c *Coordinator) Execute(ctx context.Context, opp *arb.Opportunity, creds md.Credentials, opts domain.Options) *domain.ExecutionResult {
	if len(opp.Path.Steps) == 0 {
		panic("execution: opportunity " + opp.ID + " has no steps")
	}

	opts = opts.Normalize()
	res := domain.NewResult(c.newID(), opp, creds.AccountKey(), opts.DryRun, c.now())
	ctx, span := c.tracer.Start(ctx, "execution.execute", trace.WithAttributes(
		attribute.String("execution_id", res.ID),
		attribute.String("path", opp.Path.ID),
		attribute.Bool("dry_run", opts.DryRun),
		attribute.Int("legs", len(opp.Path.Steps)),
	))
	defer span.End()

	a := &attempt{opp: opp, opts: opts, res: res}
	a.fsm = domain.NewMachine(len(opp.Path.Steps), c.now, func(t domain.Transition) {
		c.record(ctx, res.ID, t)
	})
	c.attempts.Add(ctx, 1, metric.WithAttributes(attribute.Bool("dry_run", opts.DryRun)))

	c.log.Info(ctx, "execution started",
		"execution_id", res.ID, "path", opp.Path.ID, "start", opp.StartAmount.String(),
		"currency", opp.StartCurrency(), "dry_run", opts.DryRun)

	unlock, err := c.locker.TryLock(ctx, lockKey(creds), c.lockTTL)
	if err != nil {
		c.reject(ctx, a, err)
		return c.finish(ctx, span, a)
	}
	defer unlock()

	if err := c.validate(ctx, a, creds); err != nil {
		c.reject(ctx, a, err)
		return c.finish(ctx, span, a)
	}

	carried := opp.StartAmount
	for i, step := range opp.Path.Steps {
		a.fsm.Move(domain.StateExecutingLeg, i, step.String())
		out, err := c.runLeg(ctx, a, i, carried)
		if err != nil {
			res.Fail(err)
			apm.NoticeError(span, err)
			c.log.Warn(ctx, "leg failed, rolling back",
				"execution_id", res.ID, "leg", i, "pair", step.Pair.String(), "error", err)
			a.fsm.Move(domain.StateRollingBack, -1, string(apperror.GetCode(err)))
			c.rollback(ctx, a)
			a.fsm.Move(domain.StateFailed, -1, "")
			return c.finish(ctx, span, a)
		}
		carried = out
	}

	a.fsm.Move(domain.StateSucceeded, -1, "")
	return c.finish(ctx, span, a)
}

func lockKey(creds md.Credentials) string {
	return "triarb:exec:" + creds.AccountKey()
}

// validate runs the pre-flight checks. Nothing is placed when it fails.
func (c *Coordinator) validate(ctx context.Context, a *attempt, creds md.Credentials) error {
	if err := a.opp.Path.Validate(); err != nil {
		return err
	}
	if a.opp.Recommendation == arb.RecommendAvoid {
		return apperror.New(apperror.CodeValidationError,
			apperror.WithContextf("opportunity %s is recommended AVOID", a.opp.ID))
	}

	client, err := c.clients.ForAccount(creds)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeExchangeAPIError, "exchange client for account")
	}
	a.client = client

	ccy := a.opp.StartCurrency()
	bal, err := retry.Do(ctx, c.readRetry, func(ctx context.Context) (md.Balance, error) {
		return client.GetBalance(ctx, ccy)
	})
	if err != nil {
		return apperror.Wrap(err, apperror.CodeExchangeAPIError, "fetch "+ccy+" balance")
	}
	check := c.validator.ValidateForExecution(a.opp, bal)
	if !check.Sufficient {
		return apperror.New(apperror.CodeInsufficientBalance, apperror.WithContext(check.Message))
	}
	c.log.Debug(ctx, "balance check passed", "execution_id", a.res.ID, "detail", check.Message)
	return nil
}

func (c *Coordinator) reject(ctx context.Context, a *attempt, err error) {
	a.res.Fail(err)
	c.log.Warn(ctx, "execution rejected", "execution_id", a.res.ID, "path", a.opp.Path.ID, "error", err)
	a.fsm.Move(domain.StateFailed, -1, string(apperror.GetCode(err)))
}

// runLeg guards the quote, fills the leg and records it. It returns the
// leg's output, which funds the next leg.
func (c *Coordinator) runLeg(ctx context.Context, a *attempt, i int, amount decimal.Decimal) (decimal.Decimal, error) {
	step := a.opp.Path.Steps[i]
	ctx, span := c.tracer.Start(ctx, "execution.leg", trace.WithAttributes(
		attribute.Int("leg", i),
		attribute.String("pair", step.Pair.String()),
		attribute.String("side", string(step.Side)),
	))
	defer span.End()
	c.legs.Add(ctx, 1)

	leg := arb.LegResult{
		Index:          i,
		Pair:           step.Pair,
		Side:           step.Side,
		InputAmount:    amount,
		InputCurrency:  step.Input(),
		OutputCurrency: step.Output(),
		FeeCurrency:    step.Output(),
		StartedAt:      c.now(),
	}

	quote, err := c.guardQuote(ctx, a, i)
	if err != nil {
		apm.NoticeError(span, err)
		return decimal.Zero, err
	}

	var fill legFill
	if a.opts.DryRun {
		fill = c.simulate(step, amount, quote, a.opts)
	} else {
		fill, err = c.place(ctx, a.client, step, amount, a.opts)
	}
	leg.OrderID = fill.orderID
	leg.Status = fill.status
	leg.Simulated = a.opts.DryRun
	leg.Price = fill.price
	leg.Fee = fill.fee
	leg.OutputAmount = fill.output
	leg.Duration = c.now().Sub(leg.StartedAt)
	if expected := a.opp.LegPrice(i); expected.IsPositive() && fill.price.IsPositive() {
		leg.SlippagePercent = fill.price.Sub(expected).Div(expected).Abs().Mul(decimal.NewFromInt(100))
	}

	if err != nil {
		apm.NoticeError(span, err)
		if fill.orderID != "" {
			// The order exists; whatever it filled must be compensated.
			leg.Partial = fill.output.IsPositive()
			a.res.Legs = append(a.res.Legs, leg)
		}
		return decimal.Zero, err
	}

	a.res.Legs = append(a.res.Legs, leg)
	c.log.Info(ctx, "leg filled",
		"execution_id", a.res.ID, "leg", i, "pair", step.Pair.String(), "side", string(step.Side),
		"in", amount.String(), "out", fill.output.String(), "price", fill.price.String(),
		"order_id", fill.orderID)
	return fill.output, nil
}

// guardQuote re-reads the top of book and refuses the leg when it moved
// more than MaxSlippage from the price the opportunity assumed.
func (c *Coordinator) guardQuote(ctx context.Context, a *attempt, i int) (decimal.Decimal, error) {
	step := a.opp.Path.Steps[i]
	book, err := retry.Do(ctx, c.readRetry, func(ctx context.Context) (*md.OrderBookSnapshot, error) {
		return a.client.GetOrderBook(ctx, step.Pair, 1)
	})
	if err != nil {
		return decimal.Zero, apperror.Wrap(err, apperror.CodeDataUnavailable, "re-fetch "+step.Pair.String())
	}
	top, ok := book.Top(step.Side)
	if !ok {
		return decimal.Zero, apperror.New(apperror.CodeDataUnavailable,
			apperror.WithContextf("%s has no %s liquidity", step.Pair, step.Side))
	}

	expected := a.opp.LegPrice(i)
	if !expected.IsPositive() {
		return top.Price, nil
	}
	deviation := top.Price.Sub(expected).Div(expected).Abs()
	if deviation.GreaterThan(a.opts.MaxSlippage) {
		return decimal.Zero, apperror.New(apperror.CodeSlippageExceeded,
			apperror.WithContextf("leg %d %s: quote %s moved %s%% from %s (max %s%%)",
				i, step.Pair, top.Price, deviation.Mul(decimal.NewFromInt(100)).StringFixed(3),
				expected, a.opts.MaxSlippage.Mul(decimal.NewFromInt(100)).String()))
	}
	return top.Price, nil
}

// legFill is what one order (real or simulated) produced.
type legFill struct {
	orderID string
	status  md.OrderState
	price   decimal.Decimal
	fee     decimal.Decimal
	output  decimal.Decimal
}

// simulate fills at quote moved by uniform jitter, charging the fee on the
// input for buys and on the proceeds for sells.
func (c *Coordinator) simulate(step arb.Step, amount, quote decimal.Decimal, opts domain.Options) legFill {
	noise := decimal.NewFromFloat(2*c.rand() - 1).Mul(opts.Jitter)
	price := quote.Mul(decimal.NewFromInt(1).Add(noise))

	f := legFill{status: md.OrderFilled, price: price}
	if step.Side == md.SideBuy {
		fee := amount.Mul(opts.FeeRate)
		f.output = amount.Sub(fee).Div(price)
		f.fee = fee.Div(price)
		return f
	}
	gross := amount.Mul(price)
	f.fee = gross.Mul(opts.FeeRate)
	f.output = gross.Sub(f.fee)
	return f
}

// place submits one market order and waits for it. It is called once per
// leg or rollback and never retried.
func (c *Coordinator) place(ctx context.Context, client mdapp.ExchangeClient, step arb.Step, amount decimal.Decimal, opts domain.Options) (legFill, error) {
	req := md.OrderRequest{Pair: step.Pair, Side: step.Side, Amount: amount, ClientOrderID: c.newID()}
	id, err := client.PlaceMarketOrder(ctx, req)
	if err != nil {
		if refused(err) {
			if !apperror.HasCode(err, apperror.CodeOrderRejected) {
				err = apperror.New(apperror.CodeOrderRejected,
					apperror.WithContextf("%s %s %s", step.Side, amount, step.Pair), apperror.WithCause(err))
			}
			return legFill{}, err
		}
		return c.reconcile(ctx, client, step, req, opts, err)
	}

	st, err := c.await(ctx, client, step.Pair, id, opts)
	return fillFrom(step, id, st), err
}

// refused reports whether the venue answered a placement with a refusal, as
// opposed to a failure that leaves the order's fate unknown.
func refused(err error) bool {
	return apperror.HasCode(err,
		apperror.CodeOrderRejected,
		apperror.CodeExchangeAPIError,
		apperror.CodeRateLimitExceeded,
		apperror.CodeInsufficientBalance,
		apperror.CodeValidationError,
	)
}

// reconcile looks the order up once by its client order ID after a
// placement call failed without a refusal. Anything it filled is returned so
// the leg can be compensated; the leg still fails with ORDER_TIMEOUT. An
// order the venue does not know was never placed.
func (c *Coordinator) reconcile(ctx context.Context, client mdapp.ExchangeClient, step arb.Step, req md.OrderRequest, opts domain.Options, placeErr error) (legFill, error) {
	lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), opts.PerLegTimeout)
	defer cancel()

	st, err := client.GetOrderStatus(lookupCtx, step.Pair, req.ClientOrderID)
	switch {
	case apperror.HasCode(err, apperror.CodeNotFound):
		return legFill{}, apperror.New(apperror.CodeOrderRejected,
			apperror.WithContextf("%s %s %s not placed", step.Side, req.Amount, step.Pair), apperror.WithCause(placeErr))
	case err != nil:
		c.log.Error(ctx, "order state unknown after placement failure, manual check required",
			"client_order_id", req.ClientOrderID, "pair", step.Pair.String(), "side", string(step.Side),
			"amount", req.Amount.String(), "error", placeErr, "lookup_error", err)
		return legFill{}, apperror.New(apperror.CodeOrderTimeout,
			apperror.WithContextf("order %s on %s: state unknown", req.ClientOrderID, step.Pair), apperror.WithCause(placeErr))
	}

	id := st.OrderID
	if id == "" {
		id = req.ClientOrderID
	}
	c.log.Warn(ctx, "order found after placement failure",
		"client_order_id", req.ClientOrderID, "order_id", id, "state", string(st.State), "error", placeErr)
	return fillFrom(step, id, st), apperror.New(apperror.CodeOrderTimeout,
		apperror.WithContextf("order %s on %s placed but unconfirmed, %s", id, step.Pair, st.State), apperror.WithCause(placeErr))
}

func fillFrom(step arb.Step, orderID string, st md.OrderStatus) legFill {
	f := legFill{orderID: orderID, status: st.State, price: st.AvgPrice, fee: st.Fee}
	if !st.FilledBase.IsZero() || !st.FilledQuote.IsZero() {
		f.output = st.Output(step.Pair, step.Side)
	}
	return f
}

// await polls an order until it is terminal or PerLegTimeout elapses. Poll
// errors are logged and polling continues until the deadline.
func (c *Coordinator) await(ctx context.Context, client mdapp.ExchangeClient, pair md.Pair, orderID string, opts domain.Options) (md.OrderStatus, error) {
	timer := time.NewTimer(opts.PerLegTimeout)
	defer timer.Stop()
	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	var last md.OrderStatus
	last.OrderID = orderID
	for {
		st, err := client.GetOrderStatus(ctx, pair, orderID)
		if err != nil {
			c.log.Debug(ctx, "order status poll failed", "order_id", orderID, "error", err)
		} else {
			last = st
			switch st.State {
			case md.OrderFilled:
				return st, nil
			case md.OrderRejected, md.OrderCancelled, md.OrderExpired:
				return st, apperror.New(apperror.CodeOrderRejected,
					apperror.WithContextf("order %s on %s ended %s %s", orderID, pair, st.State, st.Reason))
			}
		}

		select {
		case <-ctx.Done():
			return last, apperror.New(apperror.CodeOrderTimeout,
				apperror.WithContextf("order %s on %s: %s", orderID, pair, last.State), apperror.WithCause(ctx.Err()))
		case <-timer.C:
			return last, apperror.New(apperror.CodeOrderTimeout,
				apperror.WithContextf("order %s on %s still %s after %s", orderID, pair, last.State, opts.PerLegTimeout))
		case <-ticker.C:
		}
	}
}

// rollback compensates every leg that produced output, newest first. Each
// compensating order is attempted once; failures are collected, not retried.
func (c *Coordinator) rollback(ctx context.Context, a *attempt) {
	ctx = context.WithoutCancel(ctx)
	ctx, span := c.tracer.Start(ctx, "execution.rollback")
	defer span.End()

	completed := a.res.CompletedLegs()
	var errs []error
	for i := len(completed) - 1; i >= 0; i-- {
		leg := completed[i]
		rb := c.compensate(ctx, a, leg)
		a.res.Rollbacks = append(a.res.Rollbacks, rb)
		c.rollbacks.Add(ctx, 1)
		if !rb.Success {
			c.rollbackFailures.Add(ctx, 1)
			errs = append(errs, fmt.Errorf("leg %d: %s", leg.Index, rb.Error))
			c.log.Error(ctx, "rollback failed, manual intervention may be required",
				"execution_id", a.res.ID, "leg", leg.Index, "pair", leg.Pair.String(),
				"side", string(rb.Side), "amount", rb.Amount.String(), "currency", rb.Currency, "error", rb.Error)
			continue
		}
		c.log.Info(ctx, "leg rolled back",
			"execution_id", a.res.ID, "leg", leg.Index, "pair", leg.Pair.String(),
			"amount", rb.Amount.String(), "output", rb.Output.String(), "order_id", rb.OrderID)
	}

	if len(errs) > 0 {
		err := apperror.New(apperror.CodeRollbackFailure,
			apperror.WithContextf("%d of %d compensating orders failed", len(errs), len(completed)),
			apperror.WithCause(errors.Join(errs...)))
		apm.NoticeError(span, err)
		a.res.FailRollback(err)
	}
}

func (c *Coordinator) compensate(ctx context.Context, a *attempt, leg arb.LegResult) domain.RollbackAttempt {
	step := leg.Step().Reverse()
	rb := domain.RollbackAttempt{
		LegIndex:  leg.Index,
		Pair:      step.Pair,
		Side:      step.Side,
		Amount:    leg.OutputAmount,
		Currency:  step.Input(),
		Simulated: a.opts.DryRun,
		StartedAt: c.now(),
	}
	defer func() { rb.Duration = c.now().Sub(rb.StartedAt) }()

	if a.opts.DryRun {
		f := c.simulate(step, leg.OutputAmount, leg.Price, a.opts)
		rb.Status, rb.Output, rb.Success = f.status, f.output, true
		return rb
	}

	f, err := c.place(ctx, a.client, step, leg.OutputAmount, a.opts)
	rb.OrderID, rb.Status, rb.Output = f.orderID, f.status, f.output
	if err != nil {
		rb.Error = err.Error()
		return rb
	}
	rb.Success = true
	return rb
}

// record journals a transition. Journal failures are logged; they never
// change the outcome of the attempt.
func (c *Coordinator) record(ctx context.Context, executionID string, t domain.Transition) {
	c.log.Debug(ctx, "execution transition", "execution_id", executionID, "transition", t.String(), "reason", t.Reason)
	if c.journal == nil {
		return
	}
	if err := c.journal.Append(context.WithoutCancel(ctx), executionID, t); err != nil {
		c.log.Error(ctx, "failed to journal transition", "execution_id", executionID, "transition", t.String(), "error", err)
	}
}

// finish finalizes the result and hands it to the store exactly once.
func (c *Coordinator) finish(ctx context.Context, span trace.Span, a *attempt) *domain.ExecutionResult {
	state, _ := a.fsm.State()
	res := a.res
	res.Finalize(state, a.fsm.History(), c.now())

	c.executionDuration.Record(ctx, float64(res.Duration.Milliseconds()))
	span.SetAttributes(
		attribute.String("state", string(res.State)),
		attribute.Int("rollbacks", len(res.Rollbacks)),
	)
	if res.Success {
		c.succeeded.Add(ctx, 1)
		c.log.Info(ctx, "execution succeeded",
			"execution_id", res.ID, "path", res.PathID, "final", res.FinalAmount.String(),
			"net", res.NetProfit.String(), "estimated", res.EstimatedProfit.String(), "dry_run", res.DryRun)
	} else {
		c.log.Warn(ctx, "execution failed",
			"execution_id", res.ID, "path", res.PathID, "code", string(res.ErrorCode),
			"rollbacks", len(res.Rollbacks), "rollback_error", res.RollbackError)
	}

	if c.store != nil {
		if err := c.store.SaveExecution(context.WithoutCancel(ctx), res); err != nil {
			c.log.Error(ctx, "failed to persist execution", "execution_id", res.ID, "error", err)
		}
	}
	return res
}
