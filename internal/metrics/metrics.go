package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	registry *prometheus.Registry

	// Session lifecycle metrics
	SessionsCreatedTotal    *prometheus.CounterVec
	SessionsActive          prometheus.Gauge
	SessionTransitionsTotal *prometheus.CounterVec
	SessionFailuresTotal    *prometheus.CounterVec
	SessionDuration         *prometheus.HistogramVec

	// Provider metrics
	ProviderCallsTotal   *prometheus.CounterVec
	ProviderCallDuration *prometheus.HistogramVec
	ProviderErrorsTotal  *prometheus.CounterVec

	// Storage metrics
	StoreWritesTotal     *prometheus.CounterVec
	StoreWriteDuration   *prometheus.HistogramVec
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	VersionConflictTotal prometheus.Counter
	BreakerState         *prometheus.GaugeVec

	// Event metrics
	EventsPublishedTotal *prometheus.CounterVec
	EventsDroppedTotal   prometheus.Counter

	// Monitor metrics
	TimeoutWarningsTotal   prometheus.Counter
	TimeoutFailuresTotal   prometheus.Counter
	StaleEvictionsTotal    prometheus.Counter
	OrphansReconciledTotal prometheus.Counter
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		SessionsCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jelmore_sessions_created_total",
				Help: "Total number of sessions created",
			},
			[]string{"provider", "status"},
		),
		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "jelmore_sessions_active",
				Help: "Number of sessions in a non-terminal state",
			},
		),
		SessionTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jelmore_session_transitions_total",
				Help: "Total number of session status transitions",
			},
			[]string{"from", "to"},
		),
		SessionFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jelmore_session_failures_total",
				Help: "Total number of sessions that entered the failed state",
			},
			[]string{"reason"},
		),
		SessionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jelmore_session_duration_seconds",
				Help:    "Lifetime of terminated sessions in seconds",
				Buckets: prometheus.ExponentialBuckets(1, 4, 10),
			},
			[]string{"provider"},
		),

		ProviderCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jelmore_provider_calls_total",
				Help: "Total number of provider adapter calls",
			},
			[]string{"provider", "operation", "status"},
		),
		ProviderCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jelmore_provider_call_duration_seconds",
				Help:    "Duration of provider adapter calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "operation"},
		),
		ProviderErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jelmore_provider_errors_total",
				Help: "Total number of provider adapter errors",
			},
			[]string{"provider", "operation"},
		),

		StoreWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jelmore_store_writes_total",
				Help: "Total number of durable store writes",
			},
			[]string{"status"},
		),
		StoreWriteDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jelmore_store_write_duration_seconds",
				Help:    "Duration of durable store writes in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "jelmore_cache_hits_total",
				Help: "Total number of cache hits on session reads",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "jelmore_cache_misses_total",
				Help: "Total number of cache misses on session reads",
			},
		),
		VersionConflictTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "jelmore_store_version_conflicts_total",
				Help: "Total number of optimistic write conflicts",
			},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "jelmore_breaker_state",
				Help: "Circuit breaker position per dependency (0 closed, 1 open, 2 half-open)",
			},
			[]string{"dependency"},
		),

		EventsPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jelmore_events_published_total",
				Help: "Total number of session events published",
			},
			[]string{"type"},
		),
		EventsDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "jelmore_events_dropped_total",
				Help: "Total number of events dropped by slow subscribers",
			},
		),

		TimeoutWarningsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "jelmore_timeout_warnings_total",
				Help: "Total number of session timeout warnings emitted",
			},
		),
		TimeoutFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "jelmore_timeout_failures_total",
				Help: "Total number of sessions failed by the timeout monitor",
			},
		),
		StaleEvictionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "jelmore_stale_evictions_total",
				Help: "Total number of stale cache entries evicted",
			},
		),
		OrphansReconciledTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "jelmore_orphans_reconciled_total",
				Help: "Total number of orphaned cache entries reconciled against the durable store",
			},
		),
	}

	m.registerMetrics()

	return m
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.SessionsCreatedTotal)
	m.registry.MustRegister(m.SessionsActive)
	m.registry.MustRegister(m.SessionTransitionsTotal)
	m.registry.MustRegister(m.SessionFailuresTotal)
	m.registry.MustRegister(m.SessionDuration)

	m.registry.MustRegister(m.ProviderCallsTotal)
	m.registry.MustRegister(m.ProviderCallDuration)
	m.registry.MustRegister(m.ProviderErrorsTotal)

	m.registry.MustRegister(m.StoreWritesTotal)
	m.registry.MustRegister(m.StoreWriteDuration)
	m.registry.MustRegister(m.CacheHitsTotal)
	m.registry.MustRegister(m.CacheMissesTotal)
	m.registry.MustRegister(m.VersionConflictTotal)
	m.registry.MustRegister(m.BreakerState)

	m.registry.MustRegister(m.EventsPublishedTotal)
	m.registry.MustRegister(m.EventsDroppedTotal)

	m.registry.MustRegister(m.TimeoutWarningsTotal)
	m.registry.MustRegister(m.TimeoutFailuresTotal)
	m.registry.MustRegister(m.StaleEvictionsTotal)
	m.registry.MustRegister(m.OrphansReconciledTotal)
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
