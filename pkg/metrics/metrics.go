// Package metrics defines the Prometheus instrumentation shared by the
// engine components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector the engine emits. Components receive
// the whole bundle so wiring stays in one place.
type Metrics struct {
	ScansTotal       *prometheus.CounterVec
	ScanDuration     prometheus.Histogram
	CacheHits        *prometheus.CounterVec
	CacheMisses      prometheus.Counter
	UpstreamRequests *prometheus.CounterVec
	UpstreamInFlight prometheus.Gauge
	RateRemaining    prometheus.Gauge
	TokenRefreshes   prometheus.Counter
}

// New registers all collectors on reg and returns the bundle.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ScansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "governor",
			Name:      "scans_total",
			Help:      "Completed scan attempts by terminal state.",
		}, []string{"state"}),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "governor",
			Name:      "scan_duration_seconds",
			Help:      "End-to-end duration of single repository scans.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "governor",
			Name:      "cache_hits_total",
			Help:      "Cache hits by tier.",
		}, []string{"tier"}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "governor",
			Name:      "cache_misses_total",
			Help:      "Full cache misses that reached the upstream API.",
		}),
		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "governor",
			Name:      "upstream_requests_total",
			Help:      "Upstream API calls by outcome.",
		}, []string{"outcome"}),
		UpstreamInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "governor",
			Name:      "upstream_in_flight",
			Help:      "Upstream API calls currently in flight.",
		}),
		RateRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "governor",
			Name:      "rate_limit_remaining",
			Help:      "Most recently observed remaining upstream quota.",
		}),
		TokenRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "governor",
			Name:      "token_refreshes_total",
			Help:      "Installation token mint operations.",
		}),
	}

	reg.MustRegister(
		m.ScansTotal,
		m.ScanDuration,
		m.CacheHits,
		m.CacheMisses,
		m.UpstreamRequests,
		m.UpstreamInFlight,
		m.RateRemaining,
		m.TokenRefreshes,
	)
	return m
}

// NewUnregistered returns a bundle backed by a private registry, for
// tests and callers that do not expose /metrics.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
