package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/autobot/internal/domain"
)

// CooldownGate suppresses repeat buys. The trade ledger is its only state,
// so cooldowns survive restarts.
type CooldownGate struct {
	trades domain.TradeStore
	now    func() time.Time
}

// NewCooldownGate creates a gate reading from trades.
func NewCooldownGate(trades domain.TradeStore) *CooldownGate {
	return &CooldownGate{trades: trades, now: time.Now}
}

// WithClock replaces the wall clock. Used by tests and the backtester.
func (g *CooldownGate) WithClock(now func() time.Time) *CooldownGate {
	g.now = now
	return g
}

// IsSuppressed reports whether a trade on side for pair must be skipped.
// Only a buy that follows a buy by strictly less than cooldown is
// suppressed.
func (g *CooldownGate) IsSuppressed(ctx context.Context, pair domain.Pair, side domain.Side, cooldown time.Duration) (bool, error) {
	if side != domain.SideBuy {
		return false, nil
	}
	last, err := g.trades.Last(ctx, pair.Strategy, pair.Instrument)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cooldown: last trade %s: %w", pair, err)
	}
	if last.Side != domain.SideBuy {
		return false, nil
	}
	return g.now().Sub(last.Timestamp) < cooldown, nil
}

// NextEligible returns the earliest time a buy for pair passes the gate.
// The time is now when the pair is not cooling down.
func (g *CooldownGate) NextEligible(ctx context.Context, pair domain.Pair, cooldown time.Duration) (time.Time, error) {
	now := g.now()
	last, err := g.trades.Last(ctx, pair.Strategy, pair.Instrument)
	if errors.Is(err, domain.ErrNotFound) {
		return now, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("cooldown: last trade %s: %w", pair, err)
	}
	if last.Side != domain.SideBuy {
		return now, nil
	}
	if at := last.Timestamp.Add(cooldown); at.After(now) {
		return at, nil
	}
	return now, nil
}
