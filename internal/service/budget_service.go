package service

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/autobot/internal/domain"
)

// BalanceReader is the slice of the order gateway the allocator needs.
type BalanceReader interface {
	Balance(ctx context.Context, asset domain.InstrumentID) (decimal.Decimal, error)
}

// BudgetLine is one strategy's configured and effective budget.
type BudgetLine struct {
	Strategy  domain.StrategyID `json:"strategy"`
	Base      decimal.Decimal   `json:"base"`
	Effective decimal.Decimal   `json:"effective"`
}

// BudgetAllocator scales strategy budgets down when cash cannot cover all
// of them at once. It fails open: without a cash reading the base budget is
// used unchanged.
type BudgetAllocator struct {
	balances BalanceReader
	bases    map[domain.StrategyID]decimal.Decimal
	sum      decimal.Decimal
	logger   *slog.Logger

	// mu serialises cash reads so concurrent pairs see a consistent scale.
	mu sync.Mutex
}

// NewBudgetAllocator creates an allocator over the configured base budgets.
func NewBudgetAllocator(balances BalanceReader, bases map[domain.StrategyID]decimal.Decimal, logger *slog.Logger) *BudgetAllocator {
	sum := decimal.Zero
	copied := make(map[domain.StrategyID]decimal.Decimal, len(bases))
	for id, b := range bases {
		copied[id] = b
		sum = sum.Add(b)
	}
	return &BudgetAllocator{
		balances: balances,
		bases:    copied,
		sum:      sum,
		logger:   logger,
	}
}

// Base returns the configured base budget of strategy.
func (a *BudgetAllocator) Base(strategy domain.StrategyID) (decimal.Decimal, bool) {
	b, ok := a.bases[strategy]
	return b, ok
}

// Allocate returns floor(base * min(1, cash / sum of all bases)). The result
// never exceeds base and may be zero.
func (a *BudgetAllocator) Allocate(ctx context.Context, strategy domain.StrategyID, base decimal.Decimal) decimal.Decimal {
	a.mu.Lock()
	cash, err := a.balances.Balance(ctx, domain.CashAsset)
	a.mu.Unlock()
	if err != nil {
		a.logger.WarnContext(ctx, "budget: cash balance unavailable, using base budget",
			slog.String("strategy", string(strategy)),
			slog.String("error", err.Error()),
		)
		return base
	}
	return scale(base, cash, a.sum)
}

// Effective returns every strategy's budget under the current cash balance,
// together with that balance.
func (a *BudgetAllocator) Effective(ctx context.Context) ([]BudgetLine, decimal.Decimal, error) {
	a.mu.Lock()
	cash, err := a.balances.Balance(ctx, domain.CashAsset)
	a.mu.Unlock()

	lines := make([]BudgetLine, 0, len(a.bases))
	for id, base := range a.bases {
		eff := base
		if err == nil {
			eff = scale(base, cash, a.sum)
		}
		lines = append(lines, BudgetLine{Strategy: id, Base: base, Effective: eff})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].Strategy < lines[j].Strategy })
	return lines, cash, err
}

func scale(base, cash, sum decimal.Decimal) decimal.Decimal {
	if !sum.IsPositive() {
		return base
	}
	ratio := decimal.Max(cash, decimal.Zero).Div(sum)
	if ratio.GreaterThan(decimal.NewFromInt(1)) {
		ratio = decimal.NewFromInt(1)
	}
	return decimal.Min(base, base.Mul(ratio).Floor())
}
