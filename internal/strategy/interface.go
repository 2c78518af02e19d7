package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/autobot/internal/domain"
)

// SignalProvider turns a price window into a recommendation. Implementations
// are pure: no I/O, no mutation of shared state, and domain.NoSignal() when
// the window is shorter than Lookback.
type SignalProvider interface {
	Name() domain.StrategyID
	// Lookback is the minimum number of bars Evaluate needs to emit a signal.
	Lookback() int
	Evaluate(window domain.PriceWindow, budget decimal.Decimal) (domain.Recommendation, error)
}

// PositionAware is implemented by providers whose signal also depends on
// the pair's open position. pos is nil when the pair is flat. The position
// comes from the caller's ledger, which only changes after an executed
// order, so a rejected or failed order leaves the provider's inputs as they
// were.
type PositionAware interface {
	EvaluatePosition(window domain.PriceWindow, budget decimal.Decimal, pos *domain.Position) (domain.Recommendation, error)
}

// Evaluate calls p with the pair's position when p is PositionAware and
// falls back to the plain Evaluate otherwise.
func Evaluate(p SignalProvider, w domain.PriceWindow, budget decimal.Decimal, pos *domain.Position) (domain.Recommendation, error) {
	if pa, ok := p.(PositionAware); ok {
		return pa.EvaluatePosition(w, budget, pos)
	}
	return p.Evaluate(w, budget)
}

// Params carries per-strategy tuning values decoded from configuration.
type Params map[string]any

// Int returns the integer stored under key, or def when absent or mistyped.
func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// Float returns the float stored under key, or def when absent or mistyped.
func (p Params) Float(key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}
