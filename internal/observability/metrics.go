package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrors counts Redis errors by command.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "murmur_redis_errors_total",
		Help: "Total number of Redis errors by command",
	}, []string{"operation"})

	// StoreQueryLatency records store call latency by backend and operation.
	StoreQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "murmur_store_query_latency_seconds",
		Help:    "Store query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"backend", "operation"})

	// StoreErrors counts store failures surfaced as STORE_UNAVAILABLE.
	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "murmur_store_errors_total",
		Help: "Total number of store errors by backend and operation",
	}, []string{"backend", "operation"})

	// EnrichDuration records the latency of one EnrichSequence call.
	EnrichDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "murmur_feed_enrich_duration_seconds",
		Help:    "Duration of feed page enrichment",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"mode"})

	// EnrichedPosts counts top-level posts enriched.
	EnrichedPosts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "murmur_feed_enriched_posts_total",
		Help: "Total number of top-level posts enriched",
	})

	// RepostResolutions counts repost target lookups by outcome.
	RepostResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "murmur_feed_repost_resolutions_total",
		Help: "Repost target resolutions by outcome",
	}, []string{"outcome"})
)

// Repost resolution outcomes.
const (
	RepostResolved       = "resolved"
	RepostMissing        = "missing"
	RepostTruncatedDepth = "truncated_depth"
	RepostTruncatedCycle = "truncated_cycle"
)

// StoreMetrics records latency and errors for one storage backend.
type StoreMetrics struct {
	backend string
}

// NewStoreMetrics returns a StoreMetrics labelled with backend.
func NewStoreMetrics(backend string) *StoreMetrics {
	return &StoreMetrics{backend: backend}
}

// Track returns a function that records the call latency when called (e.g. defer).
func (m *StoreMetrics) Track(operation string) func() {
	start := time.Now()
	return func() {
		StoreQueryLatency.WithLabelValues(m.backend, operation).Observe(time.Since(start).Seconds())
	}
}

// Failed increments the error counter for operation.
func (m *StoreMetrics) Failed(operation string) {
	StoreErrors.WithLabelValues(m.backend, operation).Inc()
}
