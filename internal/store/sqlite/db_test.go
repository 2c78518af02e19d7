package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/autobot/internal/domain"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func trade(strat domain.StrategyID, inst domain.InstrumentID, side domain.Side, ts time.Time, price string) domain.TradeRecord {
	return domain.TradeRecord{
		Timestamp:  ts,
		Instrument: inst,
		Side:       side,
		Quantity:   decimal.RequireFromString("0.5"),
		Price:      decimal.RequireFromString(price),
		Strategy:   strat,
	}
}

func TestAppendAndLast(t *testing.T) {
	ctx := context.Background()
	db := openTest(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	if _, err := db.Last(ctx, "rsi", "KRW-BTC"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Last on empty ledger: got %v, want ErrNotFound", err)
	}

	first, err := db.Append(ctx, trade("rsi", "KRW-BTC", domain.SideBuy, base, "100000"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if first.ID == 0 {
		t.Fatal("Append did not assign an ID")
	}
	if _, err := db.Append(ctx, trade("rsi", "KRW-BTC", domain.SideSell, base.Add(time.Hour), "110000.5")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := db.Append(ctx, trade("momentum", "KRW-BTC", domain.SideBuy, base.Add(2*time.Hour), "120000")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	last, err := db.Last(ctx, "rsi", "KRW-BTC")
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if last.Side != domain.SideSell {
		t.Errorf("Last side = %s, want sell", last.Side)
	}
	if !last.Price.Equal(decimal.RequireFromString("110000.5")) {
		t.Errorf("Last price = %s, want 110000.5", last.Price)
	}
	if !last.Timestamp.Equal(base.Add(time.Hour)) {
		t.Errorf("Last timestamp = %v, want %v", last.Timestamp, base.Add(time.Hour))
	}
}

func TestLastPrefersHigherIDOnSameTimestamp(t *testing.T) {
	ctx := context.Background()
	db := openTest(t)
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for _, side := range []domain.Side{domain.SideBuy, domain.SideSell} {
		if _, err := db.Append(ctx, trade("rsi", "KRW-ETH", side, ts, "3000")); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	last, err := db.Last(ctx, "rsi", "KRW-ETH")
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if last.Side != domain.SideSell {
		t.Fatalf("Last side = %s, want sell", last.Side)
	}
}

func TestLastPerPair(t *testing.T) {
	ctx := context.Background()
	db := openTest(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	rows := []domain.TradeRecord{
		trade("rsi", "KRW-BTC", domain.SideBuy, base, "1"),
		trade("rsi", "KRW-BTC", domain.SideSell, base.Add(time.Minute), "2"),
		trade("rsi", "KRW-ETH", domain.SideBuy, base.Add(2*time.Minute), "3"),
		trade("grid_trading", "KRW-BTC", domain.SideBuy, base.Add(3*time.Minute), "4"),
	}
	for _, r := range rows {
		if _, err := db.Append(ctx, r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := db.LastPerPair(ctx)
	if err != nil {
		t.Fatalf("LastPerPair: %v", err)
	}
	want := map[domain.Pair]domain.Side{
		{Strategy: "rsi", Instrument: "KRW-BTC"}:          domain.SideSell,
		{Strategy: "rsi", Instrument: "KRW-ETH"}:          domain.SideBuy,
		{Strategy: "grid_trading", Instrument: "KRW-BTC"}: domain.SideBuy,
	}
	if len(got) != len(want) {
		t.Fatalf("LastPerPair returned %d rows, want %d", len(got), len(want))
	}
	for _, r := range got {
		if side, ok := want[r.Pair()]; !ok || side != r.Side {
			t.Errorf("pair %s: side %s, want %s", r.Pair(), r.Side, side)
		}
	}
}

func TestListFilters(t *testing.T) {
	ctx := context.Background()
	db := openTest(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		strat := domain.StrategyID("rsi")
		if i%2 == 1 {
			strat = "momentum"
		}
		if _, err := db.Append(ctx, trade(strat, "KRW-BTC", domain.SideBuy, base.Add(time.Duration(i)*time.Hour), "10")); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	since := base.Add(2 * time.Hour)

	tests := []struct {
		name   string
		filter domain.TradeFilter
		want   int
	}{
		{name: "all", filter: domain.TradeFilter{}, want: 5},
		{name: "strategy", filter: domain.TradeFilter{Strategy: "rsi"}, want: 3},
		{name: "instrument miss", filter: domain.TradeFilter{Instrument: "KRW-XRP"}, want: 0},
		{name: "since", filter: domain.TradeFilter{ListOpts: domain.ListOpts{Since: &since}}, want: 3},
		{name: "limit", filter: domain.TradeFilter{ListOpts: domain.ListOpts{Limit: 2}}, want: 2},
		{name: "offset only", filter: domain.TradeFilter{ListOpts: domain.ListOpts{Offset: 4}}, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(got) != tt.want {
				t.Fatalf("List returned %d rows, want %d", len(got), tt.want)
			}
			for i := 1; i < len(got); i++ {
				if got[i].Timestamp.After(got[i-1].Timestamp) {
					t.Fatalf("List not newest first at %d", i)
				}
			}
		})
	}

	before, err := db.ListBefore(ctx, since)
	if err != nil {
		t.Fatalf("ListBefore: %v", err)
	}
	if len(before) != 2 || !before[0].Timestamp.Before(before[1].Timestamp) {
		t.Fatalf("ListBefore = %+v, want 2 rows oldest first", before)
	}
}

func TestReasonAndSignalLogs(t *testing.T) {
	ctx := context.Background()
	db := openTest(t)
	ts := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	pair := domain.Pair{Strategy: "bollinger", Instrument: "KRW-SOL"}

	if err := db.AppendReason(ctx, domain.ReasonRecord{
		Timestamp: ts, Instrument: pair.Instrument, Side: domain.SideBuy, Strategy: pair.Strategy, Reason: "re-entered above lower band",
	}); err != nil {
		t.Fatalf("AppendReason: %v", err)
	}
	if err := db.AppendSignal(ctx, domain.SignalRecord{
		Timestamp: ts, Instrument: pair.Instrument, Strategy: pair.Strategy, Action: domain.SideBuy, Price: decimal.NewFromInt(210000),
	}); err != nil {
		t.Fatalf("AppendSignal: %v", err)
	}

	reasons, err := db.Reasons(ctx, pair, 0)
	if err != nil {
		t.Fatalf("Reasons: %v", err)
	}
	if len(reasons) != 1 || reasons[0].Reason != "re-entered above lower band" {
		t.Fatalf("Reasons = %+v", reasons)
	}
}

func TestIntentLifecycle(t *testing.T) {
	ctx := context.Background()
	db := openTest(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	db.SetClock(func() time.Time { return now })

	pair := domain.Pair{Strategy: "rsi", Instrument: "KRW-BTC"}
	for _, id := range []string{"a", "b", "c"} {
		in := domain.OrderIntent{
			ID: id, Pair: pair, Side: domain.SideBuy,
			Notional: decimal.NewFromInt(10000), Status: domain.IntentPending, CreatedAt: now,
		}
		if err := db.CreateIntent(ctx, in); err != nil {
			t.Fatalf("CreateIntent %s: %v", id, err)
		}
	}
	if err := db.CreateIntent(ctx, domain.OrderIntent{ID: "a", Pair: pair, Side: domain.SideBuy, Status: domain.IntentPending, CreatedAt: now}); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("duplicate CreateIntent: got %v, want ErrAlreadyExists", err)
	}

	if err := db.UpdateIntent(ctx, "a", domain.IntentPlaced, "order-1", ""); err != nil {
		t.Fatalf("UpdateIntent placed: %v", err)
	}
	if err := db.UpdateIntent(ctx, "a", domain.IntentRecorded, "", ""); err != nil {
		t.Fatalf("UpdateIntent recorded: %v", err)
	}
	if err := db.UpdateIntent(ctx, "b", domain.IntentPlaced, "order-2", ""); err != nil {
		t.Fatalf("UpdateIntent placed: %v", err)
	}
	if err := db.UpdateIntent(ctx, "missing", domain.IntentFailed, "", "boom"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("UpdateIntent missing: got %v, want ErrNotFound", err)
	}

	open, err := db.ListUnresolved(ctx)
	if err != nil {
		t.Fatalf("ListUnresolved: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("ListUnresolved returned %d intents, want 2", len(open))
	}
	got := map[string]domain.OrderIntent{}
	for _, in := range open {
		got[in.ID] = in
	}
	if got["b"].Status != domain.IntentPlaced || got["b"].OrderID != "order-2" {
		t.Errorf("intent b = %+v", got["b"])
	}
	if got["c"].Status != domain.IntentPending || !got["c"].Notional.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("intent c = %+v", got["c"])
	}
	if got["b"].Pair != pair {
		t.Errorf("intent b pair = %v, want %v", got["b"].Pair, pair)
	}
}

func TestAuditLog(t *testing.T) {
	ctx := context.Background()
	db := openTest(t)
	audit := db.Audit()

	if err := audit.Log(ctx, domain.AuditArchiveTrades, map[string]any{"count": 3}); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if err := audit.Log(ctx, "reconcile", nil); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if err := audit.Log(ctx, domain.AuditArchiveTrades, map[string]any{"count": 5}); err != nil {
		t.Fatalf("Log: %v", err)
	}

	runs, err := audit.List(ctx, domain.AuditFilter{Event: domain.AuditArchiveTrades, ListOpts: domain.ListOpts{Limit: 1}})
	if err != nil {
		t.Fatalf("List archive runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Detail["count"] != float64(5) {
		t.Fatalf("latest archive run = %+v, want count 5", runs)
	}

	entries, err := audit.List(ctx, domain.AuditFilter{ListOpts: domain.ListOpts{Limit: 10}})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("List returned %d entries, want 3", len(entries))
	}
	if entries[2].Event != domain.AuditArchiveTrades || entries[2].Detail["count"] != float64(3) {
		t.Errorf("oldest entry = %+v", entries[2])
	}
}
