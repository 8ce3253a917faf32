// Package metrics provides Prometheus metrics for a lookup engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "geolookup"

// Metrics holds one engine's collectors on a private registry, so several
// engines in one process do not collide.
type Metrics struct {
	registry *prometheus.Registry

	// LookupsTotal counts resolutions by the tier that answered.
	LookupsTotal *prometheus.CounterVec

	// GeocodeCallsTotal counts provider attempts by outcome.
	GeocodeCallsTotal *prometheus.CounterVec

	// ReviewEnqueuedTotal counts review enqueues by reason.
	ReviewEnqueuedTotal *prometheus.CounterVec

	// QuotaUsed is the number of provider calls spent in the current window.
	QuotaUsed prometheus.Gauge

	// ResolveDuration observes end-to-end resolution latency.
	ResolveDuration prometheus.Histogram
}

// New registers a fresh set of collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		LookupsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lookups_total",
				Help:      "Total number of resolutions by answering tier",
			},
			[]string{"tier"},
		),
		GeocodeCallsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "geocode_calls_total",
				Help:      "Total number of geocoding provider attempts by outcome",
			},
			[]string{"outcome"},
		),
		ReviewEnqueuedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "review_enqueued_total",
				Help:      "Total number of items routed to manual review by reason",
			},
			[]string{"reason"},
		),
		QuotaUsed: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "quota_used",
				Help:      "Geocoding calls used in the current quota window",
			},
		),
		ResolveDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resolve_duration_seconds",
				Help:      "Duration of single resolutions in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),
	}
}

// RecordLookup records one finished resolution.
func (m *Metrics) RecordLookup(tier string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.LookupsTotal.WithLabelValues(tier).Inc()
	m.ResolveDuration.Observe(elapsed.Seconds())
}

// RecordGeocodeCall records one provider attempt.
func (m *Metrics) RecordGeocodeCall(outcome string) {
	if m == nil {
		return
	}
	m.GeocodeCallsTotal.WithLabelValues(outcome).Inc()
}

// RecordReview records one review enqueue.
func (m *Metrics) RecordReview(reason string) {
	if m == nil {
		return
	}
	m.ReviewEnqueuedTotal.WithLabelValues(reason).Inc()
}

// SetQuotaUsed updates the quota gauge.
func (m *Metrics) SetQuotaUsed(used int) {
	if m == nil {
		return
	}
	m.QuotaUsed.Set(float64(used))
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
