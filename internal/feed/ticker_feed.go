// Package feed keeps a shared price cache warm from the exchange ticker
// stream and serves current prices from it.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/autobot/internal/domain"
	"github.com/alanyoungcy/autobot/internal/platform/upbit"
)

// TickChannel is the bus channel ticks are re-published on.
const TickChannel = "ch:tick"

// TickSource is a streaming ticker such as upbit.TickerStream.
type TickSource interface {
	OnTick(h upbit.TickHandler)
	Subscribe(ctx context.Context, instruments []domain.InstrumentID) error
	Close() error
}

// TickerFeed writes every tick of the configured instruments to the price
// cache and, when a bus is set, republishes it on TickChannel.
type TickerFeed struct {
	source      TickSource
	cache       domain.PriceCache
	bus         domain.SignalBus
	instruments []domain.InstrumentID
	logger      *slog.Logger
	counted     func()

	ticks  atomic.Int64
	failed atomic.Int64
}

// NewTickerFeed creates a feed. bus may be nil.
func NewTickerFeed(source TickSource, cache domain.PriceCache, bus domain.SignalBus, instruments []domain.InstrumentID, logger *slog.Logger) *TickerFeed {
	return &TickerFeed{
		source:      source,
		cache:       cache,
		bus:         bus,
		instruments: instruments,
		logger:      logger.With(slog.String("component", "ticker_feed")),
	}
}

// Run subscribes and blocks until ctx is cancelled. The source reconnects on
// its own; Run only owns its lifetime.
func (f *TickerFeed) Run(ctx context.Context) error {
	if len(f.instruments) == 0 {
		f.logger.Info("no instruments to subscribe, exiting")
		return nil
	}

	f.source.OnTick(func(t domain.Tick) { f.handle(ctx, t) })
	if err := f.source.Subscribe(ctx, f.instruments); err != nil {
		return err
	}
	f.logger.Info("ticker feed subscribed", slog.Int("instruments", len(f.instruments)))

	<-ctx.Done()
	_ = f.source.Close()
	f.logger.Info("ticker feed stopped",
		slog.Int64("ticks", f.ticks.Load()),
		slog.Int64("cache_failures", f.failed.Load()),
	)
	return ctx.Err()
}

func (f *TickerFeed) handle(ctx context.Context, t domain.Tick) {
	if t.Instrument == "" || t.Price <= 0 {
		return
	}
	f.ticks.Add(1)
	if f.counted != nil {
		f.counted()
	}

	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := f.cache.SetPrice(wctx, t.Instrument, t.Price, t.Time); err != nil {
		// Log the first failure and then every 100th so a dead cache does
		// not flood the log at tick rate.
		if n := f.failed.Add(1); n == 1 || n%100 == 0 {
			f.logger.Warn("price cache write failed",
				slog.String("instrument", string(t.Instrument)),
				slog.Int64("failures", n),
				slog.String("error", err.Error()),
			)
		}
	}

	if f.bus == nil {
		return
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return
	}
	if err := f.bus.Publish(wctx, TickChannel, payload); err != nil {
		f.logger.Debug("tick publish failed", slog.String("error", err.Error()))
	}
}

// CountWith registers fn to be called once per accepted tick. It must be set
// before Run.
func (f *TickerFeed) CountWith(fn func()) {
	f.counted = fn
}

// Ticks returns the number of ticks handled so far.
func (f *TickerFeed) Ticks() int64 {
	return f.ticks.Load()
}
