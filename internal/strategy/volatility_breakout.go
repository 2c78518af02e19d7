package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/autobot/internal/domain"
)

// VolatilityBreakout buys when the current close exceeds the previous close
// plus k times the previous bar's range. It never sells.
type VolatilityBreakout struct {
	k float64
}

// NewVolatilityBreakout reads "k" (0.5).
func NewVolatilityBreakout(p Params) *VolatilityBreakout {
	return &VolatilityBreakout{k: p.Float("k", 0.5)}
}

func (v *VolatilityBreakout) Name() domain.StrategyID { return "volatility_breakout" }
func (v *VolatilityBreakout) Lookback() int           { return 2 }

func (v *VolatilityBreakout) Evaluate(w domain.PriceWindow, budget decimal.Decimal) (domain.Recommendation, error) {
	if w.Len() < 2 {
		return domain.NoSignal(), nil
	}
	prev := w.Bars[w.Len()-2]
	curr := w.Last()
	target := prev.Close + (prev.High-prev.Low)*v.k
	if curr.Close > target {
		return domain.BuySignal(budget, fmt.Sprintf("close broke out above target %.2f", target)), nil
	}
	return domain.NoSignal(), nil
}
