package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// TradeRecord is an append-only ledger row for an executed order.
type TradeRecord struct {
	ID         int64
	Timestamp  time.Time
	Instrument InstrumentID
	Side       Side
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	Strategy   StrategyID
}

// Pair returns the (strategy, instrument) key of the record.
func (t TradeRecord) Pair() Pair {
	return Pair{Strategy: t.Strategy, Instrument: t.Instrument}
}

// Notional returns price * quantity.
func (t TradeRecord) Notional() decimal.Decimal {
	return t.Price.Mul(t.Quantity)
}

// ReasonRecord keeps the human-readable justification of a trade.
type ReasonRecord struct {
	Timestamp  time.Time
	Instrument InstrumentID
	Side       Side
	Strategy   StrategyID
	Reason     string
}

// SignalRecord logs an acted-upon signal together with the observed price.
type SignalRecord struct {
	Timestamp  time.Time
	Instrument InstrumentID
	Strategy   StrategyID
	Action     Side
	Price      decimal.Decimal
}

// IntentStatus tracks an order intent through placement.
type IntentStatus string

const (
	IntentPending  IntentStatus = "pending"
	IntentPlaced   IntentStatus = "placed"
	IntentRecorded IntentStatus = "recorded"
	IntentFailed   IntentStatus = "failed"
)

// OrderIntent is written before an order is sent so a crash between fill and
// ledger write leaves a durable trace. ID doubles as the exchange idempotency
// key.
type OrderIntent struct {
	ID        string
	Pair      Pair
	Side      Side
	Notional  decimal.Decimal
	Quantity  decimal.Decimal
	Status    IntentStatus
	OrderID   string
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}
