package strategy

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/autobot/internal/domain"
)

var budget = decimal.NewFromInt(10000)

func closesWindow(closes ...float64) domain.PriceWindow {
	bars := make([]domain.Bar, len(closes))
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		bars[i] = domain.Bar{Time: t0.Add(time.Duration(i) * time.Minute), Open: c, High: c, Low: c, Close: c}
	}
	return domain.PriceWindow{Instrument: "KRW-BTC", Interval: domain.IntervalMinute1, Bars: bars}
}

func TestProvidersReturnNoSignalOnShortWindow(t *testing.T) {
	for name, factory := range Builtins {
		t.Run(string(name), func(t *testing.T) {
			p := factory(Params{})
			w := closesWindow(make([]float64, p.Lookback()-1)...)
			rec, err := p.Evaluate(w, budget)
			if err != nil {
				t.Fatalf("Evaluate returned error: %v", err)
			}
			if rec.Action != domain.ActionNone {
				t.Fatalf("action = %v, want none for %d bars", rec.Action, w.Len())
			}
		})
	}
}

func TestSignals(t *testing.T) {
	tests := []struct {
		name     string
		provider SignalProvider
		window   domain.PriceWindow
		want     domain.Action
	}{
		{"rsi rebound buys", NewRSI(Params{"period": 3}), closesWindow(10, 9, 8, 7, 9), domain.ActionBuy},
		{"rsi pullback sells", NewRSI(Params{"period": 3}), closesWindow(10, 11, 12, 13, 11), domain.ActionSell},
		{"rsi flat stays quiet", NewRSI(Params{"period": 3}), closesWindow(10, 10, 10, 10, 10), domain.ActionNone},
		{"ma golden cross buys", NewMovingAverage(Params{"short": 2, "long": 3, "min_bars": 4}), closesWindow(10, 10, 10, 9, 12), domain.ActionBuy},
		{"ma dead cross sells", NewMovingAverage(Params{"short": 2, "long": 3, "min_bars": 4}), closesWindow(10, 10, 10, 11, 8), domain.ActionSell},
		{"ma touch is not a cross", NewMovingAverage(Params{"short": 2, "long": 3, "min_bars": 4}), closesWindow(10, 10, 10, 10, 12), domain.ActionNone},
		{"trend touch then cross buys", NewTrendFollowing(Params{"short": 2, "long": 3}), closesWindow(10, 10, 10, 10, 12), domain.ActionBuy},
		{"momentum strength buys", NewMomentum(Params{"period": 3}), closesWindow(10, 11, 12, 13), domain.ActionBuy},
		{"momentum weakness sells", NewMomentum(Params{"period": 3}), closesWindow(13, 12, 11, 10), domain.ActionSell},
		{"bollinger lower rebound buys", NewBollinger(Params{"period": 3, "width": 1.0}), closesWindow(10, 10, 10, 7, 9), domain.ActionBuy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := tt.provider.Evaluate(tt.window, budget)
			if err != nil {
				t.Fatalf("Evaluate returned error: %v", err)
			}
			if rec.Action != tt.want {
				t.Fatalf("action = %v, want %v (reason %q)", rec.Action, tt.want, rec.Reason)
			}
			if rec.Action == domain.ActionBuy && !rec.Notional.Equal(budget) {
				t.Fatalf("notional = %s, want %s", rec.Notional, budget)
			}
			if rec.Action != domain.ActionNone && rec.Reason == "" {
				t.Fatal("expected a reason")
			}
		})
	}
}

func TestVolatilityBreakout(t *testing.T) {
	vb := NewVolatilityBreakout(Params{})
	prev := domain.Bar{Open: 95, High: 110, Low: 90, Close: 100}

	w := domain.PriceWindow{Bars: []domain.Bar{prev, {Close: 111}}}
	rec, _ := vb.Evaluate(w, budget)
	if rec.Action != domain.ActionBuy {
		t.Fatalf("close above target: action = %v, want buy", rec.Action)
	}

	w = domain.PriceWindow{Bars: []domain.Bar{prev, {Close: 110}}}
	rec, _ = vb.Evaluate(w, budget)
	if rec.Action != domain.ActionNone {
		t.Fatalf("close at target: action = %v, want none", rec.Action)
	}
}

func TestGridTradingFollowsPosition(t *testing.T) {
	g := NewGridTrading(Params{"lookback": 3})
	window := func(close float64) domain.PriceWindow {
		return domain.PriceWindow{
			Instrument: "KRW-ETH",
			Bars: []domain.Bar{
				{Low: 100, High: 200, Close: 150},
				{Low: 150, High: 150, Close: 150},
				{Low: close, High: close, Close: close},
			},
		}
	}
	at := func(entry string) *domain.Position {
		return &domain.Position{EntryPrice: decimal.RequireFromString(entry), Quantity: decimal.RequireFromString("0.1")}
	}

	tests := []struct {
		name  string
		close float64
		pos   *domain.Position
		want  domain.Action
	}{
		{"flat in low level buys", 105, nil, domain.ActionBuy},
		{"flat in high level waits", 165, nil, domain.ActionNone},
		{"held level revisited", 105, at("104"), domain.ActionNone},
		{"lower level than held buys", 105, at("125"), domain.ActionBuy},
		{"four levels up sells", 145, at("105"), domain.ActionSell},
		{"three levels up holds", 145, at("115"), domain.ActionNone},
		{"empty position is flat", 105, &domain.Position{EntryPrice: decimal.RequireFromString("104")}, domain.ActionBuy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := Evaluate(g, window(tt.close), budget, tt.pos)
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if rec.Action != tt.want {
				t.Fatalf("action = %v, want %v (%s)", rec.Action, tt.want, rec.Reason)
			}
		})
	}

	// Repeated evaluation without a position change keeps signalling.
	for i := range 3 {
		if rec, _ := g.Evaluate(window(105), budget); rec.Action != domain.ActionBuy {
			t.Fatalf("call %d: action = %v, want buy", i, rec.Action)
		}
	}
}

func TestRSIValues(t *testing.T) {
	got := rsi([]float64{10, 9, 8, 7, 9}, 3)
	if !math.IsNaN(got[2]) {
		t.Fatalf("rsi[2] = %v, want NaN", got[2])
	}
	if got[3] != 0 || got[4] != 50 {
		t.Fatalf("rsi tail = %v, %v, want 0, 50", got[3], got[4])
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	for name := range Builtins {
		p, err := New(name, nil)
		if err != nil {
			t.Fatalf("New(%q): %v", name, err)
		}
		if p.Name() != name {
			t.Fatalf("provider name = %q, want %q", p.Name(), name)
		}
		reg.Register(p)
	}

	names := reg.List()
	if len(names) != len(Builtins) {
		t.Fatalf("List() returned %d names, want %d", len(names), len(Builtins))
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatalf("List() not sorted: %v", names)
		}
	}

	if _, err := reg.Get("does_not_exist"); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
	if _, err := New("does_not_exist", nil); err == nil {
		t.Fatal("expected error for unknown builtin")
	}
}
