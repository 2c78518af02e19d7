package service

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/autobot/internal/domain"
)

// RiskConfig holds the exit thresholds as fractional returns. StopLoss is
// negative.
type RiskConfig struct {
	TakeProfit decimal.Decimal
	StopLoss   decimal.Decimal
}

// RiskEvaluator classifies open positions against the configured
// take-profit and stop-loss thresholds. The classification is advisory: the
// live loop reports it but exits stay signal driven.
type RiskEvaluator struct {
	cfg RiskConfig
}

// NewRiskEvaluator creates a RiskEvaluator.
func NewRiskEvaluator(cfg RiskConfig) *RiskEvaluator {
	return &RiskEvaluator{cfg: cfg}
}

// Config returns the thresholds in use.
func (r *RiskEvaluator) Config() RiskConfig { return r.cfg }

// Classify applies the configured thresholds to pos at price.
func (r *RiskEvaluator) Classify(pos domain.Position, price decimal.Decimal) domain.RiskClass {
	return Classify(pos, price, r.cfg.TakeProfit, r.cfg.StopLoss)
}

// Classify returns RiskStopLoss when the return of pos at price is at or
// below stopLoss, RiskTakeProfit when it is at or above takeProfit and
// RiskNeutral otherwise. Stop-loss wins if both thresholds overlap.
func Classify(pos domain.Position, price, takeProfit, stopLoss decimal.Decimal) domain.RiskClass {
	pnl := pos.PnL(price)
	switch {
	case pnl.LessThanOrEqual(stopLoss):
		return domain.RiskStopLoss
	case pnl.GreaterThanOrEqual(takeProfit):
		return domain.RiskTakeProfit
	}
	return domain.RiskNeutral
}
