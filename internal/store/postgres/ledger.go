package postgres

import "github.com/alanyoungcy/autobot/internal/domain"

// Ledger bundles the trade, reason, signal and intent stores over one pool.
type Ledger struct {
	*TradeStore
	*IntentStore
}

var (
	_ domain.Ledger     = (*Ledger)(nil)
	_ domain.AuditStore = (*AuditStore)(nil)
)

// NewLedger returns the full ledger backed by c.
func NewLedger(c *Client) *Ledger {
	return &Ledger{
		TradeStore:  NewTradeStore(c.Pool()),
		IntentStore: NewIntentStore(c.Pool()),
	}
}
