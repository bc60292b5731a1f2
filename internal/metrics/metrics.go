// Package metrics holds the Prometheus collectors shared by the HTTP layer, the
// short-link service and the cache decorator.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// the default registry panics on duplicate registration
	once sync.Once

	// HTTPRequestsTotal counts finished requests. route is the mux pattern, never the
	// raw path, so hashes do not leak into label values.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "searchlink",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route pattern and status.",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "searchlink",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	HTTPInflightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "searchlink",
			Name:      "http_inflight_requests",
			Help:      "Requests currently being served.",
		},
	)

	// StoreOperations counts service-level operations. result is one of
	// ok, not_found, invalid, unavailable, error.
	StoreOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "searchlink",
			Name:      "store_operations_total",
			Help:      "Short-link store operations by op and result.",
		},
		[]string{"op", "result"},
	)

	EntriesPurged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "searchlink",
			Name:      "store_entries_purged_total",
			Help:      "Expired entries removed by sweeps.",
		},
	)

	// CacheOperations: layer is l1 or bloom; result is hit, miss or reject.
	CacheOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "searchlink",
			Name:      "cache_operations_total",
			Help:      "Read-through cache lookups.",
		},
		[]string{"layer", "result"},
	)
)

// Init registers the collectors with the default registry. Safe to call repeatedly.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDurationSeconds,
			HTTPInflightRequests,
			StoreOperations,
			EntriesPurged,
			CacheOperations,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
