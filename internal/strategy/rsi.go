package strategy

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/autobot/internal/domain"
)

// RSI buys when the index recovers through the oversold level and sells when
// it falls back through the overbought level.
type RSI struct {
	period               int
	oversold, overbought float64
}

// NewRSI reads "period" (14), "oversold" (30) and "overbought" (70).
func NewRSI(p Params) *RSI {
	return &RSI{
		period:     p.Int("period", 14),
		oversold:   p.Float("oversold", 30),
		overbought: p.Float("overbought", 70),
	}
}

func (r *RSI) Name() domain.StrategyID { return "rsi" }

// Lookback covers one diff plus two consecutive RSI samples.
func (r *RSI) Lookback() int { return r.period + 2 }

func (r *RSI) Evaluate(w domain.PriceWindow, budget decimal.Decimal) (domain.Recommendation, error) {
	if w.Len() < r.Lookback() {
		return domain.NoSignal(), nil
	}
	prev, curr := last2(rsi(w.Closes(), r.period))
	if math.IsNaN(prev) || math.IsNaN(curr) {
		return domain.NoSignal(), nil
	}
	switch {
	case prev < r.oversold && curr > r.oversold:
		return domain.BuySignal(budget, fmt.Sprintf("RSI rebound (%.2f -> %.2f)", prev, curr)), nil
	case prev > r.overbought && curr < r.overbought:
		return domain.SellSignal(fmt.Sprintf("RSI pullback (%.2f -> %.2f)", prev, curr)), nil
	}
	return domain.NoSignal(), nil
}
