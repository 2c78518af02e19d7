package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/autobot/internal/domain"
	"github.com/alanyoungcy/autobot/internal/service"
	"github.com/alanyoungcy/autobot/internal/strategy"
)

// OutcomeChannel is the SignalBus channel evaluation reports are published on.
const OutcomeChannel = "ch:outcome"

// OutcomeStream is the durable stream OutcomeChannel is journaled into.
const OutcomeStream = "stream:outcome"

// Notification events.
const (
	EventTradeExecuted = "trade_executed"
	EventTradeFailed   = "trade_failed"
	EventStrategyError = "strategy_error"
	EventLedgerError   = "ledger_error"
	EventReconcile     = "reconcile"
)

// Notifier delivers operator notifications. Implementations may fail; the
// coordinator only logs the error.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Observer receives every evaluation report, e.g. for metrics.
type Observer interface {
	ObserveOutcome(r domain.OutcomeReport)
	SetOpenPositions(n int)
}

// PairConfig describes how one (strategy, instrument) pair is traded.
type PairConfig struct {
	Pair     domain.Pair
	Interval domain.Interval
	// Bars is the number of bars fetched; raised to the provider's lookback
	// when smaller.
	Bars     int
	Cooldown time.Duration
	Budget   decimal.Decimal
}

// Config holds the global trading thresholds.
type Config struct {
	MinOrder    decimal.Decimal
	Dust        decimal.Decimal
	CallTimeout time.Duration
	LockTTL     time.Duration
	AlertDedup  time.Duration
	// EnforceRisk turns a take-profit or stop-loss classification of a held
	// position into a sell even when the provider did not ask for one.
	EnforceRisk bool
}

// Deps are the collaborators of a Coordinator. Locks, Bus and Observer are
// optional.
type Deps struct {
	Providers *strategy.Registry
	Market    domain.MarketData
	Gateway   domain.OrderGateway
	Ledger    domain.Ledger
	Positions *service.PositionLedger
	Cooldown  *service.CooldownGate
	Risk      *service.RiskEvaluator
	Budget    *service.BudgetAllocator
	Notifier  Notifier

	Locks    domain.LockManager
	Bus      domain.SignalBus
	Observer Observer
}

// Coordinator runs one evaluation of a pair: fetch bars, ask the provider,
// apply cooldown and budget policy, trade, then record and notify.
type Coordinator struct {
	cfg    Config
	pairs  map[domain.Pair]PairConfig
	deps   Deps
	alerts *Dedup
	now    func() time.Time
	logger *slog.Logger
}

// NewCoordinator creates a Coordinator for the given pairs.
func NewCoordinator(cfg Config, pairs []PairConfig, deps Deps, logger *slog.Logger) *Coordinator {
	m := make(map[domain.Pair]PairConfig, len(pairs))
	for _, p := range pairs {
		m[p.Pair] = p
	}
	return &Coordinator{
		cfg:    cfg,
		pairs:  m,
		deps:   deps,
		alerts: NewDedup(cfg.AlertDedup),
		now:    time.Now,
		logger: logger.With(slog.String("component", "coordinator")),
	}
}

// SetClock replaces the wall clock used for timestamps.
func (c *Coordinator) SetClock(now func() time.Time) {
	c.now = now
	c.alerts.now = now
}

// Pairs returns the configured pairs ordered by key.
func (c *Coordinator) Pairs() []PairConfig {
	out := make([]PairConfig, 0, len(c.pairs))
	for _, p := range c.pairs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pair.String() < out[j].Pair.String() })
	return out
}

// Evaluate runs one tick for pair. It never panics and never returns an
// error; every failure is folded into the report.
func (c *Coordinator) Evaluate(ctx context.Context, pair domain.Pair) (rep domain.OutcomeReport) {
	start := c.now()
	rep = domain.OutcomeReport{Pair: pair, At: start}
	defer func() {
		rep.Duration = c.now().Sub(start)
		c.finish(ctx, rep)
	}()

	pc, ok := c.pairs[pair]
	if !ok {
		return fail(rep, domain.OutcomeStrategyError, fmt.Errorf("pair %s is not configured", pair))
	}
	provider, err := c.deps.Providers.Get(pair.Strategy)
	if err != nil {
		return fail(rep, domain.OutcomeStrategyError, err)
	}

	if c.deps.Locks != nil {
		unlock, err := c.deps.Locks.Acquire(ctx, "pair:"+pair.String(), c.cfg.LockTTL)
		if err != nil {
			return fail(rep, domain.OutcomeSkipped, err)
		}
		defer unlock()
	}

	// 1. Price window.
	bars := max(pc.Bars, provider.Lookback())
	callCtx, cancel := c.callCtx(ctx)
	window, err := c.deps.Market.PriceWindow(callCtx, pair.Instrument, pc.Interval, bars)
	cancel()
	if err != nil {
		return fail(rep, domain.OutcomeDataUnavailable, err)
	}
	if window.Len() < provider.Lookback() {
		return fail(rep, domain.OutcomeDataUnavailable,
			fmt.Errorf("window has %d bars, need %d", window.Len(), provider.Lookback()))
	}

	// 2. Signal.
	var held *domain.Position
	if pos, ok := c.deps.Positions.Get(pair); ok {
		held = &pos
	}
	rec, err := evaluateProvider(provider, window, pc.Budget, held)
	if err != nil {
		rep = fail(rep, domain.OutcomeStrategyError, err)
		c.alert(ctx, pair.String()+":strategy", EventStrategyError,
			fmt.Sprintf("Strategy error %s", pair), err.Error())
		return rep
	}
	rep.Reason = rec.Reason

	// 3. Current price.
	callCtx, cancel = c.callCtx(ctx)
	price, err := c.deps.Market.CurrentPrice(callCtx, pair.Instrument)
	cancel()
	if err == nil && !price.IsPositive() {
		err = fmt.Errorf("non-positive price %s", price)
	}
	if err != nil {
		return fail(rep, domain.OutcomePriceUnavailable, err)
	}
	rep.Price = price

	if c.cfg.EnforceRisk && rec.Action != domain.ActionSell {
		if pos, ok := c.deps.Positions.Get(pair); ok {
			if class := c.deps.Risk.Classify(pos, price); class != domain.RiskNeutral {
				rec = domain.SellSignal(fmt.Sprintf("%s exit at %s (entry %s)", class, price, pos.EntryPrice))
				rep.Reason = rec.Reason
			}
		}
	}

	// 4-6. Act.
	switch rec.Action {
	case domain.ActionBuy:
		rep.Side = domain.SideBuy
		return c.buy(ctx, pc, rec, rep)
	case domain.ActionSell:
		rep.Side = domain.SideSell
		return c.sell(ctx, pc, rec, rep)
	}
	rep.Outcome = domain.OutcomeNoSignal
	return rep
}

func (c *Coordinator) buy(ctx context.Context, pc PairConfig, rec domain.Recommendation, rep domain.OutcomeReport) domain.OutcomeReport {
	pair := pc.Pair

	suppressed, err := c.deps.Cooldown.IsSuppressed(ctx, pair, domain.SideBuy, pc.Cooldown)
	if err != nil {
		// Unknown history blocks the buy rather than risk a repeat.
		return fail(rep, domain.OutcomeCooldownBlocked, err)
	}
	if suppressed {
		rep.Outcome = domain.OutcomeCooldownBlocked
		return rep
	}

	callCtx, cancel := c.callCtx(ctx)
	notional := c.deps.Budget.Allocate(callCtx, pair.Strategy, pc.Budget)
	cancel()
	if rec.Notional.IsPositive() && rec.Notional.LessThan(notional) {
		notional = rec.Notional
	}
	rep.Notional = notional
	if notional.LessThan(c.cfg.MinOrder) {
		rep.Outcome = domain.OutcomeBelowMinimum
		return rep
	}

	intent, err := c.openIntent(ctx, pair, domain.SideBuy, notional, decimal.Zero)
	if err != nil {
		return c.executionFailed(ctx, rep, err)
	}

	callCtx, cancel = c.callCtx(ctx)
	fill, err := c.deps.Gateway.MarketBuy(callCtx, domain.OrderRequest{
		Instrument:     pair.Instrument,
		Notional:       notional,
		IdempotencyKey: intent.ID,
	})
	cancel()
	if err != nil {
		c.closeIntent(ctx, intent.ID, domain.IntentFailed, "", err.Error())
		return c.executionFailed(ctx, rep, err)
	}
	c.closeIntent(ctx, intent.ID, domain.IntentPlaced, fill.OrderID, "")

	qty := fill.Quantity
	if !qty.IsPositive() {
		qty = notional.Div(rep.Price)
	}
	rep.Quantity = qty
	rep.Outcome = domain.OutcomeExecuted

	if err := c.record(ctx, pair, domain.SideBuy, qty, rep.Price, rec.Reason); err != nil {
		return c.ledgerFailed(ctx, rep, err)
	}
	c.closeIntent(ctx, intent.ID, domain.IntentRecorded, fill.OrderID, "")
	c.deps.Positions.Put(domain.Position{
		Pair:       pair,
		EntryPrice: rep.Price,
		Quantity:   qty,
		OpenedAt:   rep.At,
	})

	c.notify(ctx, EventTradeExecuted, fmt.Sprintf("BUY %s", pair),
		fmt.Sprintf("price %s\nquantity %s\nnotional %s\nreason: %s", rep.Price, qty, notional, rec.Reason))
	return rep
}

func (c *Coordinator) sell(ctx context.Context, pc PairConfig, rec domain.Recommendation, rep domain.OutcomeReport) domain.OutcomeReport {
	pair := pc.Pair

	callCtx, cancel := c.callCtx(ctx)
	balance, err := c.deps.Gateway.Balance(callCtx, pair.Instrument)
	cancel()
	if err != nil {
		return fail(rep, domain.OutcomeInsufficientBalance, err)
	}
	if balance.LessThan(c.cfg.Dust) {
		rep.Outcome = domain.OutcomeInsufficientBalance
		return rep
	}

	if pos, ok := c.deps.Positions.Get(pair); ok {
		rep.Risk = c.deps.Risk.Classify(pos, rep.Price)
	}

	intent, err := c.openIntent(ctx, pair, domain.SideSell, decimal.Zero, balance)
	if err != nil {
		return c.executionFailed(ctx, rep, err)
	}

	callCtx, cancel = c.callCtx(ctx)
	fill, err := c.deps.Gateway.MarketSell(callCtx, domain.OrderRequest{
		Instrument:     pair.Instrument,
		Quantity:       balance,
		IdempotencyKey: intent.ID,
	})
	cancel()
	if err != nil {
		c.closeIntent(ctx, intent.ID, domain.IntentFailed, "", err.Error())
		return c.executionFailed(ctx, rep, err)
	}
	c.closeIntent(ctx, intent.ID, domain.IntentPlaced, fill.OrderID, "")

	qty := balance
	if fill.Quantity.IsPositive() {
		qty = fill.Quantity
	}
	rep.Quantity = qty
	rep.Notional = qty.Mul(rep.Price)
	rep.Outcome = domain.OutcomeExecuted

	if err := c.record(ctx, pair, domain.SideSell, qty, rep.Price, rec.Reason); err != nil {
		return c.ledgerFailed(ctx, rep, err)
	}
	c.closeIntent(ctx, intent.ID, domain.IntentRecorded, fill.OrderID, "")
	c.deps.Positions.Remove(pair)

	msg := fmt.Sprintf("price %s\nquantity %s\nreason: %s", rep.Price, qty, rec.Reason)
	if rep.Risk != "" {
		msg += "\nrisk: " + string(rep.Risk)
	}
	c.notify(ctx, EventTradeExecuted, fmt.Sprintf("SELL %s", pair), msg)
	return rep
}

// record appends the trade, reason and signal rows. Only the trade row is
// required; reason and signal failures are logged.
func (c *Coordinator) record(ctx context.Context, pair domain.Pair, side domain.Side, qty, price decimal.Decimal, reason string) error {
	now := c.now()
	if _, err := c.deps.Ledger.Append(ctx, domain.TradeRecord{
		Timestamp:  now,
		Instrument: pair.Instrument,
		Side:       side,
		Quantity:   qty,
		Price:      price,
		Strategy:   pair.Strategy,
	}); err != nil {
		return fmt.Errorf("append trade: %w", err)
	}

	if err := c.deps.Ledger.AppendReason(ctx, domain.ReasonRecord{
		Timestamp:  now,
		Instrument: pair.Instrument,
		Side:       side,
		Strategy:   pair.Strategy,
		Reason:     reason,
	}); err != nil {
		c.logger.WarnContext(ctx, "append reason failed",
			slog.String("pair", pair.String()),
			slog.String("error", err.Error()),
		)
	}
	if err := c.deps.Ledger.AppendSignal(ctx, domain.SignalRecord{
		Timestamp:  now,
		Instrument: pair.Instrument,
		Strategy:   pair.Strategy,
		Action:     side,
		Price:      price,
	}); err != nil {
		c.logger.WarnContext(ctx, "append signal failed",
			slog.String("pair", pair.String()),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

func (c *Coordinator) executionFailed(ctx context.Context, rep domain.OutcomeReport, err error) domain.OutcomeReport {
	rep = fail(rep, domain.OutcomeExecutionFailed, err)
	c.notify(ctx, EventTradeFailed, fmt.Sprintf("%s %s failed", rep.Side, rep.Pair), err.Error())
	return rep
}

// ledgerFailed reports a filled order whose trade row could not be written.
// The position book is left untouched and the intent stays placed, so
// Reconcile surfaces it on the next start.
func (c *Coordinator) ledgerFailed(ctx context.Context, rep domain.OutcomeReport, err error) domain.OutcomeReport {
	rep.Error = err.Error()
	c.logger.ErrorContext(ctx, "order filled but ledger write failed",
		slog.String("pair", rep.Pair.String()),
		slog.String("side", string(rep.Side)),
		slog.String("quantity", rep.Quantity.String()),
		slog.String("error", err.Error()),
	)
	c.notify(ctx, EventLedgerError, fmt.Sprintf("%s %s not recorded", rep.Side, rep.Pair),
		fmt.Sprintf("order filled (quantity %s at %s) but the trade ledger write failed: %v", rep.Quantity, rep.Price, err))
	return rep
}

func (c *Coordinator) finish(ctx context.Context, rep domain.OutcomeReport) {
	attrs := []any{
		slog.String("pair", rep.Pair.String()),
		slog.String("outcome", string(rep.Outcome)),
		slog.Duration("duration", rep.Duration),
	}
	if rep.Side != "" {
		attrs = append(attrs, slog.String("side", string(rep.Side)))
	}
	if rep.Reason != "" {
		attrs = append(attrs, slog.String("reason", rep.Reason))
	}
	if rep.Error != "" {
		attrs = append(attrs, slog.String("error", rep.Error))
	}
	switch {
	case rep.Outcome == domain.OutcomeExecuted:
		attrs = append(attrs,
			slog.String("price", rep.Price.String()),
			slog.String("quantity", rep.Quantity.String()),
		)
		c.logger.InfoContext(ctx, "pair evaluated", attrs...)
	case rep.Outcome.IsFault():
		c.logger.WarnContext(ctx, "pair evaluated", attrs...)
	default:
		c.logger.DebugContext(ctx, "pair evaluated", attrs...)
	}

	if c.deps.Observer != nil {
		c.deps.Observer.ObserveOutcome(rep)
		c.deps.Observer.SetOpenPositions(c.deps.Positions.Len())
	}
	if c.deps.Bus != nil {
		payload, err := json.Marshal(rep)
		if err == nil {
			err = c.deps.Bus.Publish(ctx, OutcomeChannel, payload)
		}
		if err != nil {
			c.logger.WarnContext(ctx, "publish outcome failed",
				slog.String("pair", rep.Pair.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (c *Coordinator) notify(ctx context.Context, event, title, msg string) {
	if c.deps.Notifier == nil {
		return
	}
	nctx, cancel := c.callCtx(context.WithoutCancel(ctx))
	defer cancel()
	if err := c.deps.Notifier.Notify(nctx, event, title, msg); err != nil {
		c.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// alert is notify with repeat suppression per key.
func (c *Coordinator) alert(ctx context.Context, key, event, title, msg string) {
	if c.alerts.IsDuplicate(key) {
		return
	}
	c.notify(ctx, event, title, msg)
}

func (c *Coordinator) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.CallTimeout)
}

func (c *Coordinator) openIntent(ctx context.Context, pair domain.Pair, side domain.Side, notional, qty decimal.Decimal) (domain.OrderIntent, error) {
	now := c.now()
	in := domain.OrderIntent{
		ID:        uuid.NewString(),
		Pair:      pair,
		Side:      side,
		Notional:  notional,
		Quantity:  qty,
		Status:    domain.IntentPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.deps.Ledger.CreateIntent(ctx, in); err != nil {
		return domain.OrderIntent{}, fmt.Errorf("write order intent: %w", err)
	}
	return in, nil
}

func (c *Coordinator) closeIntent(ctx context.Context, id string, status domain.IntentStatus, orderID, errMsg string) {
	if err := c.deps.Ledger.UpdateIntent(ctx, id, status, orderID, errMsg); err != nil {
		c.logger.WarnContext(ctx, "update order intent failed",
			slog.String("intent", id),
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)
	}
}

// evaluateProvider calls p and converts a panic into an error.
func evaluateProvider(p strategy.SignalProvider, w domain.PriceWindow, budget decimal.Decimal, pos *domain.Position) (rec domain.Recommendation, err error) {
	defer func() {
		if r := recover(); r != nil {
			rec, err = domain.NoSignal(), fmt.Errorf("provider panic: %v", r)
		}
	}()
	return strategy.Evaluate(p, w, budget, pos)
}

func fail(rep domain.OutcomeReport, outcome domain.Outcome, err error) domain.OutcomeReport {
	rep.Outcome = outcome
	if err != nil {
		rep.Error = err.Error()
	}
	return rep
}
