// Package metrics exposes Prometheus collectors for the trading loop.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/autobot/internal/domain"
)

const namespace = "autobot"

// Collectors holds every metric the bot exports. Each instance owns its
// registry so tests can build as many as they like.
type Collectors struct {
	registry *prometheus.Registry

	outcomes       *prometheus.CounterVec
	evalDuration   *prometheus.HistogramVec
	orders         *prometheus.CounterVec
	tradedNotional *prometheus.CounterVec
	openPositions  prometheus.Gauge
	lastEvaluation *prometheus.GaugeVec
	feedTicks      prometheus.Counter
}

// New registers the collectors plus the Go runtime and process collectors on
// a fresh registry.
func New() *Collectors {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collectors{
		registry: reg,
		outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Pair evaluations by terminal outcome.",
		}, []string{"strategy", "instrument", "outcome"}),
		evalDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_duration_seconds",
			Help:      "Wall time of one pair evaluation.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"strategy"}),
		orders: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Market orders sent, by side and result.",
		}, []string{"side", "status"}),
		tradedNotional: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traded_notional_total",
			Help:      "Quote-currency notional of executed orders.",
		}, []string{"strategy", "side"}),
		openPositions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_positions",
			Help:      "Open positions in the in-memory ledger.",
		}),
		lastEvaluation: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_evaluation_timestamp_seconds",
			Help:      "Unix time of the most recent evaluation of a pair.",
		}, []string{"strategy", "instrument"}),
		feedTicks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_ticks_total",
			Help:      "Ticker updates written to the price cache.",
		}),
	}
}

// ObserveOutcome records one evaluation report.
func (c *Collectors) ObserveOutcome(r domain.OutcomeReport) {
	strategy, instrument := string(r.Pair.Strategy), string(r.Pair.Instrument)
	c.outcomes.WithLabelValues(strategy, instrument, string(r.Outcome)).Inc()
	c.evalDuration.WithLabelValues(strategy).Observe(r.Duration.Seconds())
	if !r.At.IsZero() {
		c.lastEvaluation.WithLabelValues(strategy, instrument).Set(float64(r.At.Unix()))
	}

	switch r.Outcome {
	case domain.OutcomeExecuted:
		c.orders.WithLabelValues(string(r.Side), "filled").Inc()
		notional, _ := r.Notional.Float64()
		c.tradedNotional.WithLabelValues(strategy, string(r.Side)).Add(notional)
	case domain.OutcomeExecutionFailed:
		c.orders.WithLabelValues(string(r.Side), "failed").Inc()
	}
}

// SetOpenPositions sets the open-position gauge.
func (c *Collectors) SetOpenPositions(n int) {
	c.openPositions.Set(float64(n))
}

// IncTicks counts one feed tick.
func (c *Collectors) IncTicks() {
	c.feedTicks.Inc()
}

// Registry returns the registry backing the collectors.
func (c *Collectors) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
