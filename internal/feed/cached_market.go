package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/autobot/internal/domain"
)

// CachedMarketData answers CurrentPrice from the price cache while the cached
// tick is younger than maxAge and falls back to the wrapped source otherwise.
// Price windows always come from the wrapped source.
type CachedMarketData struct {
	next   domain.MarketData
	cache  domain.PriceCache
	maxAge time.Duration
	now    func() time.Time
	logger *slog.Logger
}

var _ domain.MarketData = (*CachedMarketData)(nil)

// NewCachedMarketData wraps next.
func NewCachedMarketData(next domain.MarketData, cache domain.PriceCache, maxAge time.Duration, logger *slog.Logger) *CachedMarketData {
	return &CachedMarketData{
		next:   next,
		cache:  cache,
		maxAge: maxAge,
		now:    time.Now,
		logger: logger.With(slog.String("component", "cached_market")),
	}
}

// PriceWindow delegates to the wrapped source.
func (m *CachedMarketData) PriceWindow(ctx context.Context, instrument domain.InstrumentID, interval domain.Interval, count int) (domain.PriceWindow, error) {
	return m.next.PriceWindow(ctx, instrument, interval, count)
}

// CurrentPrice returns a fresh cached price when one exists.
func (m *CachedMarketData) CurrentPrice(ctx context.Context, instrument domain.InstrumentID) (decimal.Decimal, error) {
	price, ts, err := m.cache.GetPrice(ctx, instrument)
	switch {
	case err == nil && price > 0 && m.now().Sub(ts) <= m.maxAge:
		return decimal.NewFromFloat(price), nil
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		m.logger.DebugContext(ctx, "price cache read failed",
			slog.String("instrument", string(instrument)),
			slog.String("error", err.Error()),
		)
	}
	return m.next.CurrentPrice(ctx, instrument)
}

// MemoryCache is an in-process domain.PriceCache used when no Redis is
// configured.
type MemoryCache struct {
	mu     sync.RWMutex
	prices map[domain.InstrumentID]cachedPrice
}

type cachedPrice struct {
	price float64
	ts    time.Time
}

var _ domain.PriceCache = (*MemoryCache)(nil)

// NewMemoryCache returns an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{prices: make(map[domain.InstrumentID]cachedPrice)}
}

// SetPrice stores price for instrument.
func (c *MemoryCache) SetPrice(_ context.Context, instrument domain.InstrumentID, price float64, ts time.Time) error {
	c.mu.Lock()
	c.prices[instrument] = cachedPrice{price: price, ts: ts}
	c.mu.Unlock()
	return nil
}

// GetPrice returns the stored price or domain.ErrNotFound.
func (c *MemoryCache) GetPrice(_ context.Context, instrument domain.InstrumentID) (float64, time.Time, error) {
	c.mu.RLock()
	p, ok := c.prices[instrument]
	c.mu.RUnlock()
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return p.price, p.ts, nil
}

// GetPrices returns every stored price among instruments.
func (c *MemoryCache) GetPrices(_ context.Context, instruments []domain.InstrumentID) (map[domain.InstrumentID]float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[domain.InstrumentID]float64, len(instruments))
	for _, in := range instruments {
		if p, ok := c.prices[in]; ok {
			out[in] = p.price
		}
	}
	return out, nil
}
