package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/autobot/internal/domain"
)

// PositionLedger tracks the open position of every pair. It is the only
// owner of domain.Position values; the coordinator writes, everything else
// reads snapshots. Safe for concurrent use.
type PositionLedger struct {
	mu        sync.RWMutex
	positions map[domain.Pair]domain.Position
}

// NewPositionLedger returns an empty ledger.
func NewPositionLedger() *PositionLedger {
	return &PositionLedger{positions: make(map[domain.Pair]domain.Position)}
}

// Get returns the position held for pair, if any.
func (l *PositionLedger) Get(pair domain.Pair) (domain.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[pair]
	return p, ok
}

// Put creates or overwrites the position for p.Pair.
func (l *PositionLedger) Put(p domain.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.positions[p.Pair] = p
}

// Remove marks pair as flat.
func (l *PositionLedger) Remove(pair domain.Pair) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.positions, pair)
}

// Len returns the number of open positions.
func (l *PositionLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.positions)
}

// Snapshot returns a copy of all open positions ordered by pair.
func (l *PositionLedger) Snapshot() []domain.Position {
	l.mu.RLock()
	out := make([]domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, p)
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Pair.String() < out[j].Pair.String()
	})
	return out
}

// Restore rebuilds the ledger from the last trade of every pair: a pair
// whose last trade is a buy is held at that trade's price and quantity.
// It returns the number of positions restored.
func (l *PositionLedger) Restore(ctx context.Context, trades domain.TradeStore) (int, error) {
	last, err := trades.LastPerPair(ctx)
	if err != nil {
		return 0, fmt.Errorf("position_ledger: restore: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.positions)
	for _, t := range last {
		if t.Side != domain.SideBuy {
			continue
		}
		l.positions[t.Pair()] = domain.Position{
			Pair:       t.Pair(),
			EntryPrice: t.Price,
			Quantity:   t.Quantity,
			OpenedAt:   t.Timestamp,
		}
	}
	return len(l.positions), nil
}
