package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/autobot/internal/domain"
	"github.com/alanyoungcy/autobot/internal/platform/upbit"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubMarket struct {
	price decimal.Decimal
	calls int
}

func (m *stubMarket) PriceWindow(context.Context, domain.InstrumentID, domain.Interval, int) (domain.PriceWindow, error) {
	return domain.PriceWindow{}, nil
}

func (m *stubMarket) CurrentPrice(context.Context, domain.InstrumentID) (decimal.Decimal, error) {
	m.calls++
	return m.price, nil
}

type brokenCache struct{ MemoryCache }

func (*brokenCache) GetPrice(context.Context, domain.InstrumentID) (float64, time.Time, error) {
	return 0, time.Time{}, errors.New("connection refused")
}

func TestCachedMarketData(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		cacheAge  time.Duration
		cached    bool
		want      string
		wantCalls int
	}{
		{name: "fresh cache", cacheAge: 2 * time.Second, cached: true, want: "101", wantCalls: 0},
		{name: "stale cache", cacheAge: time.Minute, cached: true, want: "100", wantCalls: 1},
		{name: "missing entry", cached: false, want: "100", wantCalls: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := NewMemoryCache()
			if tt.cached {
				_ = cache.SetPrice(context.Background(), "KRW-BTC", 101, now.Add(-tt.cacheAge))
			}
			next := &stubMarket{price: decimal.NewFromInt(100)}
			m := NewCachedMarketData(next, cache, 5*time.Second, discard())
			m.now = func() time.Time { return now }

			got, err := m.CurrentPrice(context.Background(), "KRW-BTC")
			if err != nil {
				t.Fatalf("CurrentPrice: %v", err)
			}
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("CurrentPrice = %s, want %s", got, tt.want)
			}
			if next.calls != tt.wantCalls {
				t.Errorf("fallback calls = %d, want %d", next.calls, tt.wantCalls)
			}
		})
	}

	t.Run("cache error falls back", func(t *testing.T) {
		next := &stubMarket{price: decimal.NewFromInt(7)}
		m := NewCachedMarketData(next, &brokenCache{}, time.Minute, discard())
		got, err := m.CurrentPrice(context.Background(), "KRW-BTC")
		if err != nil || !got.Equal(decimal.NewFromInt(7)) {
			t.Fatalf("CurrentPrice = %s, %v", got, err)
		}
	})
}

type fakeSource struct {
	mu       sync.Mutex
	handlers []upbit.TickHandler
	subbed   chan []domain.InstrumentID
	closed   bool
}

func (s *fakeSource) OnTick(h upbit.TickHandler) {
	s.mu.Lock()
	s.handlers = append(s.handlers, h)
	s.mu.Unlock()
}

func (s *fakeSource) Subscribe(_ context.Context, instruments []domain.InstrumentID) error {
	s.subbed <- instruments
	return nil
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSource) emit(t domain.Tick) {
	s.mu.Lock()
	hs := s.handlers
	s.mu.Unlock()
	for _, h := range hs {
		h(t)
	}
}

type recordingBus struct {
	mu       sync.Mutex
	channels []string
}

func (b *recordingBus) Publish(_ context.Context, channel string, _ []byte) error {
	b.mu.Lock()
	b.channels = append(b.channels, channel)
	b.mu.Unlock()
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func TestTickerFeedWritesCache(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &fakeSource{subbed: make(chan []domain.InstrumentID, 1)}
	cache := NewMemoryCache()
	bus := &recordingBus{}
	f := NewTickerFeed(src, cache, bus, []domain.InstrumentID{"KRW-BTC"}, discard())

	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	select {
	case got := <-src.subbed:
		if len(got) != 1 || got[0] != "KRW-BTC" {
			t.Fatalf("subscribed to %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("feed never subscribed")
	}

	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	src.emit(domain.Tick{Instrument: "KRW-BTC", Price: 95000000, Time: ts})
	src.emit(domain.Tick{Instrument: "KRW-BTC", Price: 0, Time: ts})

	price, at, err := cache.GetPrice(ctx, "KRW-BTC")
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if price != 95000000 || !at.Equal(ts) {
		t.Errorf("cached %v at %v", price, at)
	}
	if f.Ticks() != 1 {
		t.Errorf("Ticks = %d, want 1", f.Ticks())
	}
	bus.mu.Lock()
	if len(bus.channels) != 1 || bus.channels[0] != TickChannel {
		t.Errorf("published on %v", bus.channels)
	}
	bus.mu.Unlock()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	src.mu.Lock()
	defer src.mu.Unlock()
	if !src.closed {
		t.Error("source not closed")
	}
}
