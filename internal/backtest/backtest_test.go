package backtest

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/autobot/internal/domain"
	"github.com/alanyoungcy/autobot/internal/service"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func dailyWindow(closes ...float64) domain.PriceWindow {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{Time: t0.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c}
	}
	return domain.PriceWindow{Instrument: "KRW-BTC", Interval: domain.IntervalDay, Bars: bars}
}

// stepProvider buys on an up close and sells on a down close.
type stepProvider struct{}

func (stepProvider) Name() domain.StrategyID { return "step" }
func (stepProvider) Lookback() int           { return 2 }
func (stepProvider) Evaluate(w domain.PriceWindow, budget decimal.Decimal) (domain.Recommendation, error) {
	if w.Len() < 2 {
		return domain.NoSignal(), nil
	}
	prev, last := w.Bars[w.Len()-2].Close, w.Last().Close
	switch {
	case last > prev:
		return domain.BuySignal(budget, "up close"), nil
	case last < prev:
		return domain.SellSignal("down close"), nil
	}
	return domain.NoSignal(), nil
}

// alwaysBuy never asks to sell.
type alwaysBuy struct{}

func (alwaysBuy) Name() domain.StrategyID { return "always_buy" }
func (alwaysBuy) Lookback() int           { return 1 }
func (alwaysBuy) Evaluate(_ domain.PriceWindow, budget decimal.Decimal) (domain.Recommendation, error) {
	return domain.BuySignal(budget, "always"), nil
}

func baseConfig() Config {
	return Config{
		Cash:     d("100000"),
		Budget:   d("10000"),
		MinOrder: d("5000"),
		Risk:     service.RiskConfig{TakeProfit: d("0.05"), StopLoss: d("-0.03")},
	}
}

func TestRunSignalDriven(t *testing.T) {
	r := NewRunner(baseConfig(), testLogger())
	rep, err := r.Run(context.Background(), stepProvider{}, dailyWindow(100, 110, 120, 100, 105, 130, 120))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantSides := []domain.Side{domain.SideBuy, domain.SideSell, domain.SideBuy, domain.SideSell}
	if len(rep.Trades) != len(wantSides) {
		t.Fatalf("trades = %d, want %d: %+v", len(rep.Trades), len(wantSides), rep.Trades)
	}
	for i, side := range wantSides {
		if rep.Trades[i].Side != side {
			t.Errorf("trade %d side = %s, want %s", i, rep.Trades[i].Side, side)
		}
	}
	wantPrices := []string{"110", "100", "105", "120"}
	for i, p := range wantPrices {
		if !rep.Trades[i].Price.Equal(d(p)) {
			t.Errorf("trade %d price = %s, want %s", i, rep.Trades[i].Price, p)
		}
	}

	if rep.Steps != 6 {
		t.Errorf("steps = %d, want 6", rep.Steps)
	}
	if rep.RoundTrips != 2 || rep.Wins != 1 || rep.WinRate != 0.5 {
		t.Errorf("round trips = %d wins = %d rate = %v, want 2/1/0.5", rep.RoundTrips, rep.Wins, rep.WinRate)
	}
	if got := rep.FinalEquity.Round(2); !got.Equal(d("100519.48")) {
		t.Errorf("final equity = %s, want 100519.48", got)
	}
	if rep.OpenPosition {
		t.Error("position left open")
	}
	if rep.Outcomes[domain.OutcomeExecuted] != 4 {
		t.Errorf("executed outcomes = %d, want 4", rep.Outcomes[domain.OutcomeExecuted])
	}
}

func TestRunEnforcesRisk(t *testing.T) {
	window := dailyWindow(100, 100, 103, 106, 104, 95)

	tests := []struct {
		name       string
		enforce    bool
		wantTrades int
		wantOpen   bool
		wantWins   int
	}{
		{name: "advisory", enforce: false, wantTrades: 1, wantOpen: true},
		{name: "enforced", enforce: true, wantTrades: 4, wantOpen: false, wantWins: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			cfg.EnforceRisk = tt.enforce
			rep, err := NewRunner(cfg, testLogger()).Run(context.Background(), alwaysBuy{}, window)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if len(rep.Trades) != tt.wantTrades {
				t.Fatalf("trades = %d, want %d: %+v", len(rep.Trades), tt.wantTrades, rep.Trades)
			}
			if rep.OpenPosition != tt.wantOpen {
				t.Errorf("open position = %v, want %v", rep.OpenPosition, tt.wantOpen)
			}
			if rep.Wins != tt.wantWins {
				t.Errorf("wins = %d, want %d", rep.Wins, tt.wantWins)
			}
		})
	}
}

func TestRunPyramidAllowsRepeatBuys(t *testing.T) {
	cfg := baseConfig()
	cfg.Pyramid = true
	cfg.Cooldown = 48 * time.Hour
	rep, err := NewRunner(cfg, testLogger()).Run(context.Background(), alwaysBuy{}, dailyWindow(100, 100, 100, 100, 100))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Days 0, 2 and 4 clear the two-day cooldown.
	if len(rep.Trades) != 3 {
		t.Fatalf("trades = %d, want 3", len(rep.Trades))
	}
	if rep.Outcomes[domain.OutcomeCooldownBlocked] != 2 {
		t.Errorf("cooldown blocked = %d, want 2", rep.Outcomes[domain.OutcomeCooldownBlocked])
	}
}

func TestRunTooFewBars(t *testing.T) {
	_, err := NewRunner(baseConfig(), testLogger()).Run(context.Background(), stepProvider{}, dailyWindow(100))
	if err == nil {
		t.Fatal("expected error for a window shorter than the lookback")
	}
}

func TestReadBars(t *testing.T) {
	in := `{"time":"2026-01-02T00:00:00Z","open":1,"high":2,"low":1,"close":2,"volume":10}

{"time":"2026-01-01T00:00:00Z","open":1,"high":1,"low":1,"close":1,"volume":5}
`
	w, err := ReadBars(strings.NewReader(in), "KRW-ETH", domain.IntervalDay)
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if w.Len() != 2 || w.Bars[0].Close != 1 || w.Bars[1].Close != 2 {
		t.Fatalf("bars = %+v, want two bars sorted by time", w.Bars)
	}

	if _, err := ReadBars(strings.NewReader(`{"time":"2026-01-01T00:00:00Z","close":0}`), "KRW-ETH", domain.IntervalDay); err == nil {
		t.Fatal("expected error for a zero close")
	}
}

type memBlobs struct {
	objects map[string][]byte
}

func (m *memBlobs) Put(_ context.Context, p string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if m.objects == nil {
		m.objects = make(map[string][]byte)
	}
	m.objects[p] = b
	return nil
}

func (m *memBlobs) Get(_ context.Context, p string) (io.ReadCloser, error) {
	b, ok := m.objects[p]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(context.Context, string) ([]domain.BlobInfo, error) { return nil, nil }

func (m *memBlobs) Exists(_ context.Context, p string) (bool, error) {
	_, ok := m.objects[p]
	return ok, nil
}

func TestBarsRoundTripThroughBlobs(t *testing.T) {
	ctx := context.Background()
	blobs := &memBlobs{}
	src := dailyWindow(100, 101, 102)

	if err := SaveBars(ctx, blobs, "bars/KRW-BTC/day.jsonl", src); err != nil {
		t.Fatalf("SaveBars: %v", err)
	}
	got, err := LoadBars(ctx, blobs, "bars/KRW-BTC/day.jsonl", "KRW-BTC", domain.IntervalDay)
	if err != nil {
		t.Fatalf("LoadBars: %v", err)
	}
	if got.Len() != 3 || !got.Last().Time.Equal(src.Last().Time) || got.Last().Close != 102 {
		t.Fatalf("loaded window = %+v", got)
	}
}

func TestUploadReport(t *testing.T) {
	ctx := context.Background()
	blobs := &memBlobs{}
	rep, err := NewRunner(baseConfig(), testLogger()).Run(ctx, stepProvider{}, dailyWindow(100, 110, 100))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	at := time.Date(2026, 2, 1, 8, 30, 0, 0, time.UTC)
	p, err := Upload(ctx, blobs, rep, at)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if p != "backtest/step/KRW-BTC/20260201T083000Z.json" {
		t.Errorf("path = %q", p)
	}
	if !bytes.Contains(blobs.objects[p], []byte(`"round_trips": 1`)) {
		t.Errorf("uploaded report missing round trips: %s", blobs.objects[p])
	}
}
