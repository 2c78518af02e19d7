package domain

import (
	"fmt"
	"time"
)

// StrategyID names one signal provider, e.g. "rsi" or "grid_trading".
type StrategyID string

// InstrumentID names one tradable market, e.g. "KRW-BTC".
type InstrumentID string

// CashAsset is the pseudo-instrument used to query the quote-currency balance.
const CashAsset InstrumentID = "CASH"

// Pair is the unit of scheduling and position tracking.
type Pair struct {
	Strategy   StrategyID   `json:"strategy"`
	Instrument InstrumentID `json:"instrument"`
}

func (p Pair) String() string {
	return fmt.Sprintf("%s/%s", p.Strategy, p.Instrument)
}

// Interval is the sampling interval of a price window.
type Interval string

const (
	IntervalMinute1   Interval = "minute1"
	IntervalMinute3   Interval = "minute3"
	IntervalMinute5   Interval = "minute5"
	IntervalMinute10  Interval = "minute10"
	IntervalMinute15  Interval = "minute15"
	IntervalMinute30  Interval = "minute30"
	IntervalMinute60  Interval = "minute60"
	IntervalMinute240 Interval = "minute240"
	IntervalDay       Interval = "day"
)

var intervalDurations = map[Interval]time.Duration{
	IntervalMinute1:   time.Minute,
	IntervalMinute3:   3 * time.Minute,
	IntervalMinute5:   5 * time.Minute,
	IntervalMinute10:  10 * time.Minute,
	IntervalMinute15:  15 * time.Minute,
	IntervalMinute30:  30 * time.Minute,
	IntervalMinute60:  time.Hour,
	IntervalMinute240: 4 * time.Hour,
	IntervalDay:       24 * time.Hour,
}

// Duration returns the bar length of the interval, or zero when unknown.
func (i Interval) Duration() time.Duration {
	return intervalDurations[i]
}

// Valid reports whether i is a recognised sampling interval.
func (i Interval) Valid() bool {
	_, ok := intervalDurations[i]
	return ok
}

// Bar is one OHLCV candle.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// PriceWindow is a time-ascending run of bars for one instrument at one
// sampling interval. Consumers must not mutate Bars.
type PriceWindow struct {
	Instrument InstrumentID
	Interval   Interval
	Bars       []Bar
}

// Len returns the number of bars in the window.
func (w PriceWindow) Len() int {
	return len(w.Bars)
}

// Closes returns the close prices in time order.
func (w PriceWindow) Closes() []float64 {
	out := make([]float64, len(w.Bars))
	for i, b := range w.Bars {
		out[i] = b.Close
	}
	return out
}

// Last returns the most recent bar. It panics on an empty window.
func (w PriceWindow) Last() Bar {
	return w.Bars[len(w.Bars)-1]
}

// Slice returns a window over bars [0, n). Used by the backtester to expose
// only the history visible at step n.
func (w PriceWindow) Slice(n int) PriceWindow {
	if n > len(w.Bars) {
		n = len(w.Bars)
	}
	return PriceWindow{Instrument: w.Instrument, Interval: w.Interval, Bars: w.Bars[:n:n]}
}

// Tick is a last-trade price update from a streaming feed.
type Tick struct {
	Instrument InstrumentID `json:"instrument"`
	Price      float64      `json:"price"`
	Time       time.Time    `json:"time"`
}
