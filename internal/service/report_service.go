package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/autobot/internal/domain"
)

// PriceReader is the slice of market data the report service needs.
type PriceReader interface {
	CurrentPrice(ctx context.Context, instrument domain.InstrumentID) (decimal.Decimal, error)
}

// PositionView is an open position valued at the current price. Price, PnL
// and Risk are zero when no price could be read.
type PositionView struct {
	Pair       domain.Pair      `json:"pair"`
	EntryPrice decimal.Decimal  `json:"entry_price"`
	Quantity   decimal.Decimal  `json:"quantity"`
	OpenedAt   time.Time        `json:"opened_at"`
	Price      decimal.Decimal  `json:"price"`
	PnL        decimal.Decimal  `json:"pnl"`
	Risk       domain.RiskClass `json:"risk,omitempty"`
}

// StrategyPnL is the realized result of one strategy: sell notional minus
// buy notional over the whole ledger.
type StrategyPnL struct {
	Strategy domain.StrategyID `json:"strategy"`
	Bought   decimal.Decimal   `json:"bought"`
	Sold     decimal.Decimal   `json:"sold"`
	Realized decimal.Decimal   `json:"realized"`
	Trades   int               `json:"trades"`
}

// NextBuy is the cooldown state of one scheduled pair.
type NextBuy struct {
	Pair       domain.Pair   `json:"pair"`
	EligibleAt time.Time     `json:"eligible_at"`
	Remaining  time.Duration `json:"remaining"`
}

// ReportService answers the operator's read-only queries. It never writes to
// the ledger or the position book.
type ReportService struct {
	positions *PositionLedger
	trades    domain.TradeStore
	prices    PriceReader
	balances  BalanceReader
	cooldown  *CooldownGate
	budget    *BudgetAllocator
	risk      *RiskEvaluator
	cooldowns map[domain.Pair]time.Duration
	logger    *slog.Logger
}

// NewReportService creates a ReportService. cooldowns lists every scheduled
// pair with its buy cooldown.
func NewReportService(
	positions *PositionLedger,
	trades domain.TradeStore,
	prices PriceReader,
	balances BalanceReader,
	cooldown *CooldownGate,
	budget *BudgetAllocator,
	risk *RiskEvaluator,
	cooldowns map[domain.Pair]time.Duration,
	logger *slog.Logger,
) *ReportService {
	return &ReportService{
		positions: positions,
		trades:    trades,
		prices:    prices,
		balances:  balances,
		cooldown:  cooldown,
		budget:    budget,
		risk:      risk,
		cooldowns: cooldowns,
		logger:    logger,
	}
}

// Positions values every open position at the current price.
func (s *ReportService) Positions(ctx context.Context) []PositionView {
	snap := s.positions.Snapshot()
	out := make([]PositionView, 0, len(snap))
	for _, p := range snap {
		v := PositionView{
			Pair:       p.Pair,
			EntryPrice: p.EntryPrice,
			Quantity:   p.Quantity,
			OpenedAt:   p.OpenedAt,
		}
		price, err := s.prices.CurrentPrice(ctx, p.Pair.Instrument)
		if err != nil {
			s.logger.WarnContext(ctx, "report: price unavailable",
				slog.String("pair", p.Pair.String()),
				slog.String("error", err.Error()),
			)
		} else {
			v.Price = price
			v.PnL = p.PnL(price)
			v.Risk = s.risk.Classify(p, price)
		}
		out = append(out, v)
	}
	return out
}

// PnL returns the realized result of every strategy with at least one trade,
// ordered by strategy id.
func (s *ReportService) PnL(ctx context.Context) ([]StrategyPnL, error) {
	trades, err := s.trades.List(ctx, domain.TradeFilter{})
	if err != nil {
		return nil, fmt.Errorf("report: list trades: %w", err)
	}

	by := make(map[domain.StrategyID]*StrategyPnL)
	for _, t := range trades {
		row, ok := by[t.Strategy]
		if !ok {
			row = &StrategyPnL{Strategy: t.Strategy}
			by[t.Strategy] = row
		}
		row.Trades++
		switch t.Side {
		case domain.SideBuy:
			row.Bought = row.Bought.Add(t.Notional())
		case domain.SideSell:
			row.Sold = row.Sold.Add(t.Notional())
		}
	}

	out := make([]StrategyPnL, 0, len(by))
	for _, row := range by {
		row.Realized = row.Sold.Sub(row.Bought)
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Strategy < out[j].Strategy })
	return out, nil
}

// Ranking is PnL ordered from best to worst realized result.
func (s *ReportService) Ranking(ctx context.Context) ([]StrategyPnL, error) {
	rows, err := s.PnL(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Realized.GreaterThan(rows[j].Realized)
	})
	return rows, nil
}

// NextBuys reports when each scheduled pair may buy again.
func (s *ReportService) NextBuys(ctx context.Context) ([]NextBuy, error) {
	now := s.cooldown.now()
	out := make([]NextBuy, 0, len(s.cooldowns))
	for pair, cd := range s.cooldowns {
		at, err := s.cooldown.NextEligible(ctx, pair, cd)
		if err != nil {
			return nil, fmt.Errorf("report: next buy: %w", err)
		}
		out = append(out, NextBuy{Pair: pair, EligibleAt: at, Remaining: max(0, at.Sub(now))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pair.String() < out[j].Pair.String() })
	return out, nil
}

// Cash returns the quote-currency balance.
func (s *ReportService) Cash(ctx context.Context) (decimal.Decimal, error) {
	cash, err := s.balances.Balance(ctx, domain.CashAsset)
	if err != nil {
		return decimal.Zero, fmt.Errorf("report: cash: %w", err)
	}
	return cash, nil
}

// Budgets returns the effective budget of every strategy. When cash is
// unavailable the lines carry base budgets and the error is returned
// alongside them.
func (s *ReportService) Budgets(ctx context.Context) ([]BudgetLine, decimal.Decimal, error) {
	return s.budget.Effective(ctx)
}
