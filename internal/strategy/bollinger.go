package strategy

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/autobot/internal/domain"
)

// Bollinger trades re-entries into the band: a close back above the lower
// band buys, a close back below the upper band sells.
type Bollinger struct {
	period int
	width  float64
}

// NewBollinger reads "period" (20) and "width" (2.0 standard deviations).
func NewBollinger(p Params) *Bollinger {
	return &Bollinger{
		period: p.Int("period", 20),
		width:  p.Float("width", 2.0),
	}
}

func (b *Bollinger) Name() domain.StrategyID { return "bollinger" }
func (b *Bollinger) Lookback() int           { return b.period + 1 }

func (b *Bollinger) Evaluate(w domain.PriceWindow, budget decimal.Decimal) (domain.Recommendation, error) {
	if w.Len() < b.Lookback() {
		return domain.NoSignal(), nil
	}
	closes := w.Closes()
	mid := sma(closes, b.period)
	std := rollingStd(closes, b.period)
	n := len(closes)
	prevClose, currClose := closes[n-2], closes[n-1]
	prevLower, currLower := mid[n-2]-b.width*std[n-2], mid[n-1]-b.width*std[n-1]
	prevUpper, currUpper := mid[n-2]+b.width*std[n-2], mid[n-1]+b.width*std[n-1]
	if math.IsNaN(prevLower) {
		return domain.NoSignal(), nil
	}
	switch {
	case prevClose < prevLower && currClose > currLower:
		return domain.BuySignal(budget, "close rebounded above lower band"), nil
	case prevClose > prevUpper && currClose < currUpper:
		return domain.SellSignal("close fell back below upper band"), nil
	}
	return domain.NoSignal(), nil
}
