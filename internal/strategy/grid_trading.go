package strategy

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/autobot/internal/domain"
)

// GridTrading splits the recent low/high range into equal levels. It buys
// when price sits in one of the lowest levels and that level is not the one
// the open position was bought at, and sells once price has climbed a fixed
// number of levels above the position's entry level.
//
// The held level is derived from the position passed to EvaluatePosition,
// so the provider keeps no state of its own and survives restarts through
// the position ledger.
type GridTrading struct {
	levels   int
	lookback int
	buyMax   int
	sellGap  int
}

// NewGridTrading reads "levels" (10), "lookback" (30), "buy_max_level" (3)
// and "sell_gap" (4).
func NewGridTrading(p Params) *GridTrading {
	return &GridTrading{
		levels:   max(1, p.Int("levels", 10)),
		lookback: p.Int("lookback", 30),
		buyMax:   p.Int("buy_max_level", 3),
		sellGap:  p.Int("sell_gap", 4),
	}
}

func (g *GridTrading) Name() domain.StrategyID { return "grid_trading" }
func (g *GridTrading) Lookback() int           { return g.lookback }

// Level returns the grid level of price within [low, high], clamped to
// [0, levels-1].
func (g *GridTrading) Level(price, low, high float64) int {
	step := (high - low) / float64(g.levels)
	if step <= 0 {
		return 0
	}
	lvl := int(math.Floor((price - low) / step))
	return max(0, min(g.levels-1, lvl))
}

// Evaluate treats the pair as flat.
func (g *GridTrading) Evaluate(w domain.PriceWindow, budget decimal.Decimal) (domain.Recommendation, error) {
	return g.EvaluatePosition(w, budget, nil)
}

func (g *GridTrading) EvaluatePosition(w domain.PriceWindow, budget decimal.Decimal, pos *domain.Position) (domain.Recommendation, error) {
	if w.Len() < g.lookback || g.lookback <= 0 {
		return domain.NoSignal(), nil
	}
	recent := w.Bars[w.Len()-g.lookback:]
	low, high := recent[0].Low, recent[0].High
	for _, b := range recent[1:] {
		low = math.Min(low, b.Low)
		high = math.Max(high, b.High)
	}
	level := g.Level(w.Last().Close, low, high)

	held := -1
	if pos != nil && pos.Quantity.IsPositive() {
		held = g.Level(pos.EntryPrice.InexactFloat64(), low, high)
		if level >= held+g.sellGap {
			return domain.SellSignal(fmt.Sprintf("price reached level %d, releasing level %d", level, held)), nil
		}
	}

	if level <= g.buyMax && level != held {
		return domain.BuySignal(budget, fmt.Sprintf("price entered grid level %d", level)), nil
	}
	return domain.NoSignal(), nil
}

var _ PositionAware = (*GridTrading)(nil)
