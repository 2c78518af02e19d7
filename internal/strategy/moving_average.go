package strategy

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/autobot/internal/domain"
)

// MovingAverage signals on a crossover of a short and a long simple moving
// average of closes.
type MovingAverage struct {
	short, long, minBars int
}

// NewMovingAverage reads "short" (5), "long" (20) and "min_bars" (30).
func NewMovingAverage(p Params) *MovingAverage {
	m := &MovingAverage{
		short:   p.Int("short", 5),
		long:    p.Int("long", 20),
		minBars: p.Int("min_bars", 30),
	}
	if m.minBars < m.long+1 {
		m.minBars = m.long + 1
	}
	return m
}

func (m *MovingAverage) Name() domain.StrategyID { return "moving_average" }
func (m *MovingAverage) Lookback() int           { return m.minBars }

func (m *MovingAverage) Evaluate(w domain.PriceWindow, budget decimal.Decimal) (domain.Recommendation, error) {
	if w.Len() < m.minBars {
		return domain.NoSignal(), nil
	}
	closes := w.Closes()
	ps, cs := last2(sma(closes, m.short))
	pl, cl := last2(sma(closes, m.long))
	if math.IsNaN(pl) {
		return domain.NoSignal(), nil
	}
	switch {
	case crossedAbove(ps, pl, cs, cl):
		return domain.BuySignal(budget, "short MA crossed above long MA"), nil
	case crossedBelow(ps, pl, cs, cl):
		return domain.SellSignal("short MA crossed below long MA"), nil
	}
	return domain.NoSignal(), nil
}
