package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for listing cache operations.
var (
	// Hits counts cache hits by backend.
	Hits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fipe_cache_hits_total",
		Help: "Total listing cache hits by backend",
	}, []string{"backend"})

	// Misses counts cache misses by backend.
	Misses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fipe_cache_misses_total",
		Help: "Total listing cache misses by backend",
	}, []string{"backend"})

	// Errors counts failed cache operations by backend and operation.
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fipe_cache_errors_total",
		Help: "Total listing cache errors by backend and operation",
	}, []string{"backend", "operation"})
)
