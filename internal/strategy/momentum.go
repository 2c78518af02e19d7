package strategy

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/autobot/internal/domain"
)

// Momentum follows RSI strength: above the upper level buys, below the lower
// level sells.
type Momentum struct {
	period       int
	upper, lower float64
}

// NewMomentum reads "period" (14), "upper" (70) and "lower" (30).
func NewMomentum(p Params) *Momentum {
	return &Momentum{
		period: p.Int("period", 14),
		upper:  p.Float("upper", 70),
		lower:  p.Float("lower", 30),
	}
}

func (m *Momentum) Name() domain.StrategyID { return "momentum" }
func (m *Momentum) Lookback() int           { return m.period + 1 }

func (m *Momentum) Evaluate(w domain.PriceWindow, budget decimal.Decimal) (domain.Recommendation, error) {
	if w.Len() < m.Lookback() {
		return domain.NoSignal(), nil
	}
	series := rsi(w.Closes(), m.period)
	curr := series[len(series)-1]
	if math.IsNaN(curr) {
		return domain.NoSignal(), nil
	}
	switch {
	case curr > m.upper:
		return domain.BuySignal(budget, fmt.Sprintf("RSI strength %.2f", curr)), nil
	case curr < m.lower:
		return domain.SellSignal(fmt.Sprintf("RSI weakness %.2f", curr)), nil
	}
	return domain.NoSignal(), nil
}
