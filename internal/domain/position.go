package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is an open holding for one pair. A missing position means flat.
type Position struct {
	Pair       Pair
	EntryPrice decimal.Decimal
	Quantity   decimal.Decimal
	OpenedAt   time.Time
}

// PnL returns the fractional return of the position at price.
func (p Position) PnL(price decimal.Decimal) decimal.Decimal {
	if p.EntryPrice.IsZero() {
		return decimal.Zero
	}
	return price.Sub(p.EntryPrice).Div(p.EntryPrice)
}

// RiskClass is the advisory exit classification of an open position.
type RiskClass string

const (
	RiskNeutral    RiskClass = "neutral"
	RiskTakeProfit RiskClass = "take_profit"
	RiskStopLoss   RiskClass = "stop_loss"
)
