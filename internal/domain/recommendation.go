package domain

import "github.com/shopspring/decimal"

// Action is the decision carried by a Recommendation.
type Action int

const (
	ActionNone Action = iota
	ActionBuy
	ActionSell
)

func (a Action) String() string {
	switch a {
	case ActionBuy:
		return "buy"
	case ActionSell:
		return "sell"
	default:
		return "none"
	}
}

// Recommendation is the output of one signal provider invocation. Notional is
// only meaningful for buys; zero means "use the allocated budget".
type Recommendation struct {
	Action   Action
	Notional decimal.Decimal
	Reason   string
}

// NoSignal returns the empty recommendation.
func NoSignal() Recommendation {
	return Recommendation{Action: ActionNone}
}

// BuySignal recommends a market buy for notional.
func BuySignal(notional decimal.Decimal, reason string) Recommendation {
	return Recommendation{Action: ActionBuy, Notional: notional, Reason: reason}
}

// SellSignal recommends selling the full holding.
func SellSignal(reason string) Recommendation {
	return Recommendation{Action: ActionSell, Reason: reason}
}
