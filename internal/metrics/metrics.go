// Package metrics holds the cross-cutting Prometheus collectors: HTTP
// surface instrumentation, cache effectiveness, and the Redis connection
// pool. Subsystem-specific collectors (agents, ensemble, scheduler) live in
// their own packages.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	apiRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "HTTP requests by method, route, and status code",
		},
		[]string{"method", "route", "status"},
	)
	apiDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "data_cache_lookups_total",
			Help: "Market data cache lookups by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	redisPoolConns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "redis_pool_connections",
			Help: "Redis connection pool state",
		},
		[]string{"state"},
	)
	redisPoolMisses = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "redis_pool_misses_total",
			Help: "Redis pool misses (new connections required)",
		},
	)
)

// RecordAPIRequest records one served HTTP request
func RecordAPIRequest(method, route, status string, seconds float64) {
	apiRequests.WithLabelValues(method, route, status).Inc()
	apiDuration.WithLabelValues(method, route).Observe(seconds)
}

// RecordCacheLookup records one data cache lookup. kind is "quote" or
// "sentiment".
func RecordCacheLookup(kind string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	cacheLookups.WithLabelValues(kind, outcome).Inc()
}
