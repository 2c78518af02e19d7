package strategy

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/autobot/internal/domain"
)

// TrendFollowing is a slow moving-average crossover. Unlike MovingAverage
// the previous sample may touch the long average.
type TrendFollowing struct {
	short, long int
}

// NewTrendFollowing reads "short" (20) and "long" (100).
func NewTrendFollowing(p Params) *TrendFollowing {
	return &TrendFollowing{
		short: p.Int("short", 20),
		long:  p.Int("long", 100),
	}
}

func (t *TrendFollowing) Name() domain.StrategyID { return "trend_following" }
func (t *TrendFollowing) Lookback() int           { return t.long + 1 }

func (t *TrendFollowing) Evaluate(w domain.PriceWindow, budget decimal.Decimal) (domain.Recommendation, error) {
	if w.Len() < t.Lookback() {
		return domain.NoSignal(), nil
	}
	closes := w.Closes()
	ps, cs := last2(sma(closes, t.short))
	pl, cl := last2(sma(closes, t.long))
	if math.IsNaN(pl) {
		return domain.NoSignal(), nil
	}
	switch {
	case cs > cl && ps <= pl:
		return domain.BuySignal(budget, "short trend crossed above long trend"), nil
	case cs < cl && ps >= pl:
		return domain.SellSignal("short trend crossed below long trend"), nil
	}
	return domain.NoSignal(), nil
}
