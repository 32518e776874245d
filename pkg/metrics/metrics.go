package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Cache metrics
	CacheHits                 *prometheus.CounterVec
	CacheMisses               *prometheus.CounterVec
	CacheDatabaseQueries      prometheus.Counter
	CacheRemoteErrors         *prometheus.CounterVec
	CacheInvalidations        prometheus.Counter
	CacheInvalidationFailures prometheus.Counter
	CacheMemoryBytes          prometheus.Gauge

	// Email pipeline metrics
	EmailTransitions     *prometheus.CounterVec
	EmailDispatched      *prometheus.CounterVec
	EmailDispatchLatency prometheus.Histogram
	EmailSkipped         *prometheus.CounterVec

	// Database metrics
	DatabaseOperations *prometheus.CounterVec
}

// NewMetrics creates and registers all application metrics on reg.
// Tests pass a fresh prometheus.NewRegistry() to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		CacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Cache hits by tier",
		}, []string{"tier"}),
		CacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Cache misses by tier",
		}, []string{"tier"}),
		CacheDatabaseQueries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "database_queries_total",
			Help:      "Authoritative database reads issued by the cache",
		}),
		CacheRemoteErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "remote_errors_total",
			Help:      "Remote tier errors by operation",
		}, []string{"operation"}),
		CacheInvalidations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "invalidations_total",
			Help:      "Keys invalidated",
		}),
		CacheInvalidationFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "invalidation_failures_total",
			Help:      "Invalidations that could not clear every tier after retries",
		}),
		CacheMemoryBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "memory_bytes",
			Help:      "Bytes held by the memory tier",
		}),

		EmailTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "email",
			Name:      "transitions_total",
			Help:      "Email notification status transitions by target status",
		}, []string{"status"}),
		EmailDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "email",
			Name:      "dispatched_total",
			Help:      "Dispatch attempts by outcome",
		}, []string{"outcome"}),
		EmailDispatchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "email",
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent handing one message to the transport",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		EmailSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "email",
			Name:      "skipped_total",
			Help:      "Notifications not queued or not sent, by reason",
		}, []string{"reason"}),

		DatabaseOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
	}
}

// New registers on a private registry; handy for tests and one-off tools.
func New(namespace string) *Metrics {
	return NewMetrics(prometheus.NewRegistry(), namespace)
}
