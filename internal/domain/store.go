package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeFilter narrows a trade listing. Empty fields match everything.
type TradeFilter struct {
	Strategy   StrategyID
	Instrument InstrumentID
	ListOpts
}

// TradeStore is the append-only trade ledger.
type TradeStore interface {
	Append(ctx context.Context, t TradeRecord) (TradeRecord, error)
	// Last returns the most recent record for the pair, or ErrNotFound.
	Last(ctx context.Context, strategy StrategyID, instrument InstrumentID) (TradeRecord, error)
	// LastPerPair returns the most recent record of every pair.
	LastPerPair(ctx context.Context) ([]TradeRecord, error)
	List(ctx context.Context, f TradeFilter) ([]TradeRecord, error)
	ListBefore(ctx context.Context, before time.Time) ([]TradeRecord, error)
}

// ReasonStore keeps the reason log.
type ReasonStore interface {
	AppendReason(ctx context.Context, r ReasonRecord) error
}

// SignalStore keeps the signal log.
type SignalStore interface {
	AppendSignal(ctx context.Context, s SignalRecord) error
}

// IntentStore persists write-ahead order intents.
type IntentStore interface {
	CreateIntent(ctx context.Context, in OrderIntent) error
	UpdateIntent(ctx context.Context, id string, status IntentStatus, orderID, errMsg string) error
	// ListUnresolved returns intents still pending or placed.
	ListUnresolved(ctx context.Context) ([]OrderIntent, error)
}

// Ledger groups every store the trading loop writes to.
type Ledger interface {
	TradeStore
	ReasonStore
	SignalStore
	IntentStore
}

// AuditEntry is one row of the operational audit log.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Audit events.
const (
	AuditArchiveTrades = "archive.trades"
)

// AuditFilter narrows AuditStore.List. An empty Event matches every event.
type AuditFilter struct {
	Event string
	ListOpts
}

// AuditStore records maintenance events such as archive runs.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
}
