package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Outcome is the terminal state of one pair evaluation.
type Outcome string

const (
	OutcomeDataUnavailable     Outcome = "data_unavailable"
	OutcomeStrategyError       Outcome = "strategy_error"
	OutcomePriceUnavailable    Outcome = "price_unavailable"
	OutcomeNoSignal            Outcome = "no_signal"
	OutcomeCooldownBlocked     Outcome = "cooldown_blocked"
	OutcomeBelowMinimum        Outcome = "below_minimum"
	OutcomeInsufficientBalance Outcome = "insufficient_balance"
	OutcomeExecuted            Outcome = "executed"
	OutcomeExecutionFailed     Outcome = "execution_failed"
	// OutcomeSkipped means another process held the pair lock.
	OutcomeSkipped Outcome = "skipped"
)

// IsFault reports whether the outcome reflects a failure rather than a
// policy decision.
func (o Outcome) IsFault() bool {
	switch o {
	case OutcomeDataUnavailable, OutcomeStrategyError, OutcomePriceUnavailable, OutcomeExecutionFailed:
		return true
	}
	return false
}

// OutcomeReport describes what one evaluation did.
type OutcomeReport struct {
	Pair     Pair            `json:"pair"`
	Outcome  Outcome         `json:"outcome"`
	Side     Side            `json:"side,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Notional decimal.Decimal `json:"notional"`
	Risk     RiskClass       `json:"risk,omitempty"`
	Error    string          `json:"error,omitempty"`
	At       time.Time       `json:"at"`
	Duration time.Duration   `json:"duration"`
}
