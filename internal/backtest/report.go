package backtest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/autobot/internal/domain"
)

// Report summarises one replay.
type Report struct {
	Strategy     domain.StrategyID      `json:"strategy"`
	Instrument   domain.InstrumentID    `json:"instrument"`
	Interval     domain.Interval        `json:"interval"`
	From         time.Time              `json:"from"`
	To           time.Time              `json:"to"`
	Steps        int                    `json:"steps"`
	StartCash    decimal.Decimal        `json:"start_cash"`
	FinalEquity  decimal.Decimal        `json:"final_equity"`
	Return       decimal.Decimal        `json:"return"`
	RoundTrips   int                    `json:"round_trips"`
	Wins         int                    `json:"wins"`
	WinRate      float64                `json:"win_rate"`
	OpenPosition bool                   `json:"open_position"`
	Outcomes     map[domain.Outcome]int `json:"outcomes"`
	Trades       []domain.TradeRecord   `json:"trades"`
}

func newReport(pair domain.Pair, w domain.PriceWindow, lookback int, cash, equity decimal.Decimal,
	trades []domain.TradeRecord, outcomes map[domain.Outcome]int) Report {
	rep := Report{
		Strategy:    pair.Strategy,
		Instrument:  pair.Instrument,
		Interval:    w.Interval,
		From:        w.Bars[lookback-1].Time,
		To:          w.Last().Time,
		Steps:       w.Len() - lookback + 1,
		StartCash:   cash,
		FinalEquity: equity,
		Outcomes:    outcomes,
		Trades:      trades,
	}
	if cash.IsPositive() {
		rep.Return = equity.Sub(cash).Div(cash)
	}
	rep.RoundTrips, rep.Wins = roundTrips(trades)
	if rep.RoundTrips > 0 {
		rep.WinRate = float64(rep.Wins) / float64(rep.RoundTrips)
	}
	return rep
}

// roundTrips pairs each sell with the buys since the previous sell. A round
// trip wins when the sell value exceeds the cost of those buys.
func roundTrips(trades []domain.TradeRecord) (total, wins int) {
	cost := decimal.Zero
	open := false
	for _, t := range trades {
		switch t.Side {
		case domain.SideBuy:
			cost = cost.Add(t.Notional())
			open = true
		case domain.SideSell:
			if !open {
				continue
			}
			total++
			if t.Notional().GreaterThan(cost) {
				wins++
			}
			cost = decimal.Zero
			open = false
		}
	}
	return total, wins
}

func (r Report) log(ctx context.Context, logger *slog.Logger) {
	logger.InfoContext(ctx, "backtest finished",
		slog.String("strategy", string(r.Strategy)),
		slog.String("instrument", string(r.Instrument)),
		slog.Int("steps", r.Steps),
		slog.Int("trades", len(r.Trades)),
		slog.Int("round_trips", r.RoundTrips),
		slog.Float64("win_rate", r.WinRate),
		slog.String("final_equity", r.FinalEquity.StringFixed(0)),
		slog.String("return_pct", r.Return.Mul(decimal.NewFromInt(100)).StringFixed(2)),
	)
}

// ObjectPath is where Upload stores the report.
func (r Report) ObjectPath(at time.Time) string {
	return path.Join(domain.BacktestPrefix, string(r.Strategy), string(r.Instrument), at.UTC().Format("20060102T150405Z")+".json")
}

// Upload writes the report as JSON through w and returns its path.
func Upload(ctx context.Context, w domain.BlobWriter, r Report, at time.Time) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("backtest: marshal report: %w", err)
	}
	p := r.ObjectPath(at)
	if err := w.Put(ctx, p, bytes.NewReader(data), domain.ContentTypeJSON); err != nil {
		return "", fmt.Errorf("backtest: upload report %s: %w", p, err)
	}
	return p, nil
}
