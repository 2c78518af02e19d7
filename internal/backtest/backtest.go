// Package backtest replays a signal provider over historical bars through the
// same Coordinator the live loop uses, with a paper gateway and a throwaway
// SQLite ledger.
package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/autobot/internal/domain"
	"github.com/alanyoungcy/autobot/internal/executor"
	"github.com/alanyoungcy/autobot/internal/platform/paper"
	"github.com/alanyoungcy/autobot/internal/service"
	"github.com/alanyoungcy/autobot/internal/store/sqlite"
	"github.com/alanyoungcy/autobot/internal/strategy"
)

// Config holds the replay parameters.
type Config struct {
	Cash     decimal.Decimal
	Fee      decimal.Decimal
	Budget   decimal.Decimal
	MinOrder decimal.Decimal
	Cooldown time.Duration
	// Bars is the window handed to the provider each step; at least its
	// lookback.
	Bars int
	Risk service.RiskConfig
	// EnforceRisk sells a held position once it crosses the take-profit or
	// stop-loss threshold.
	EnforceRisk bool
	// Pyramid allows buying again while a position is open.
	Pyramid bool
}

// dust is the smallest holding treated as sellable.
var dust = decimal.New(1, -8)

// Runner replays providers over price windows.
type Runner struct {
	cfg    Config
	logger *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(cfg Config, logger *slog.Logger) *Runner {
	return &Runner{cfg: cfg, logger: logger.With(slog.String("component", "backtest"))}
}

// Run evaluates provider once per bar of window, starting at the first bar
// where the provider's lookback is satisfied. The bar being evaluated is
// visible to the provider and its close is the fill price.
func (r *Runner) Run(ctx context.Context, provider strategy.SignalProvider, window domain.PriceWindow) (Report, error) {
	lookback := max(provider.Lookback(), 1)
	if window.Len() < lookback {
		return Report{}, fmt.Errorf("backtest: %s needs %d bars, have %d", provider.Name(), lookback, window.Len())
	}

	pair := domain.Pair{Strategy: provider.Name(), Instrument: window.Instrument}
	market := &replayMarket{window: window}
	clock := market.now

	ledger, err := sqlite.Open(ctx, ":memory:")
	if err != nil {
		return Report{}, fmt.Errorf("backtest: open ledger: %w", err)
	}
	defer ledger.Close()
	ledger.SetClock(clock)

	gateway := paper.NewGateway(market, r.cfg.Cash, r.cfg.Fee)
	positions := service.NewPositionLedger()

	providers := strategy.NewRegistry()
	if r.cfg.Pyramid {
		providers.Register(provider)
	} else {
		providers.Register(flatOnly{SignalProvider: provider})
	}

	coord := executor.NewCoordinator(executor.Config{
		MinOrder:    r.cfg.MinOrder,
		Dust:        dust,
		EnforceRisk: r.cfg.EnforceRisk,
	}, []executor.PairConfig{{
		Pair:     pair,
		Interval: window.Interval,
		Bars:     max(r.cfg.Bars, lookback),
		Cooldown: r.cfg.Cooldown,
		Budget:   r.cfg.Budget,
	}}, executor.Deps{
		Providers: providers,
		Market:    market,
		Gateway:   gateway,
		Ledger:    ledger,
		Positions: positions,
		Cooldown:  service.NewCooldownGate(ledger).WithClock(clock),
		Risk:      service.NewRiskEvaluator(r.cfg.Risk),
		Budget: service.NewBudgetAllocator(gateway,
			map[domain.StrategyID]decimal.Decimal{pair.Strategy: r.cfg.Budget}, r.logger),
		Notifier: discard{},
	}, quietLogger(r.logger))
	coord.SetClock(clock)

	outcomes := make(map[domain.Outcome]int)
	for n := lookback; n <= window.Len(); n++ {
		if err := ctx.Err(); err != nil {
			return Report{}, err
		}
		market.advance(n)
		rep := coord.Evaluate(ctx, pair)
		outcomes[rep.Outcome]++
	}

	trades, err := ledger.List(ctx, domain.TradeFilter{Strategy: pair.Strategy, Instrument: pair.Instrument})
	if err != nil {
		return Report{}, fmt.Errorf("backtest: read trades: %w", err)
	}
	// List is newest first.
	for i, j := 0, len(trades)-1; i < j; i, j = i+1, j-1 {
		trades[i], trades[j] = trades[j], trades[i]
	}
	equity, err := gateway.Equity(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("backtest: final equity: %w", err)
	}

	rep := newReport(pair, window, lookback, r.cfg.Cash, equity, trades, outcomes)
	_, rep.OpenPosition = positions.Get(pair)
	rep.log(ctx, r.logger)
	return rep, nil
}

// RunAll replays every provider over the same window. A provider that fails
// is logged and left out of the result.
func (r *Runner) RunAll(ctx context.Context, providers []strategy.SignalProvider, window domain.PriceWindow) []Report {
	var out []Report
	for _, p := range providers {
		rep, err := r.Run(ctx, p, window)
		if err != nil {
			r.logger.WarnContext(ctx, "backtest failed",
				slog.String("strategy", string(p.Name())),
				slog.String("instrument", string(window.Instrument)),
				slog.String("error", err.Error()),
			)
			continue
		}
		out = append(out, rep)
	}
	return out
}

// replayMarket serves the bars visible at the current replay step.
type replayMarket struct {
	window domain.PriceWindow

	mu   sync.RWMutex
	step int
}

func (m *replayMarket) advance(n int) {
	m.mu.Lock()
	m.step = n
	m.mu.Unlock()
}

func (m *replayMarket) current() (domain.Bar, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.step == 0 {
		return domain.Bar{}, false
	}
	return m.window.Bars[m.step-1], true
}

func (m *replayMarket) now() time.Time {
	bar, ok := m.current()
	if !ok {
		return m.window.Bars[0].Time
	}
	return bar.Time
}

func (m *replayMarket) PriceWindow(_ context.Context, instrument domain.InstrumentID, _ domain.Interval, count int) (domain.PriceWindow, error) {
	if instrument != m.window.Instrument {
		return domain.PriceWindow{}, fmt.Errorf("backtest: no bars for %s: %w", instrument, domain.ErrNotFound)
	}
	m.mu.RLock()
	visible := m.window.Slice(m.step)
	m.mu.RUnlock()
	if count > 0 && visible.Len() > count {
		visible.Bars = visible.Bars[visible.Len()-count:]
	}
	return visible, nil
}

func (m *replayMarket) CurrentPrice(_ context.Context, instrument domain.InstrumentID) (decimal.Decimal, error) {
	if instrument != m.window.Instrument {
		return decimal.Zero, fmt.Errorf("backtest: no price for %s: %w", instrument, domain.ErrNotFound)
	}
	bar, ok := m.current()
	if !ok {
		return decimal.Zero, fmt.Errorf("backtest: replay not started: %w", domain.ErrUnavailable)
	}
	return decimal.NewFromFloat(bar.Close), nil
}

// flatOnly drops buy signals while the pair holds a position.
type flatOnly struct {
	strategy.SignalProvider
}

func (f flatOnly) Evaluate(w domain.PriceWindow, budget decimal.Decimal) (domain.Recommendation, error) {
	return f.EvaluatePosition(w, budget, nil)
}

func (f flatOnly) EvaluatePosition(w domain.PriceWindow, budget decimal.Decimal, pos *domain.Position) (domain.Recommendation, error) {
	rec, err := strategy.Evaluate(f.SignalProvider, w, budget, pos)
	if err != nil {
		return rec, err
	}
	if rec.Action == domain.ActionBuy && pos != nil {
		return domain.NoSignal(), nil
	}
	return rec, nil
}

type discard struct{}

func (discard) Notify(context.Context, string, string, string) error { return nil }

// quietLogger silences the per-bar coordinator logs unless debug is enabled.
func quietLogger(parent *slog.Logger) *slog.Logger {
	if parent.Enabled(context.Background(), slog.LevelDebug) {
		return parent
	}
	return slog.New(slog.DiscardHandler)
}
