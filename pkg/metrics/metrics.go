// Package metrics documents the Prometheus metrics exposed by the
// crawler. All metrics are defined in their respective packages (fipe,
// ratelimit, cache, export) via promauto to keep registration local.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the crawler.
var Registry = prometheus.DefaultRegisterer

// Metrics Reference
//
// Request metrics (pkg/fipe):
//   - fipe_requests_total{endpoint, status} (Counter): requests by endpoint kind and HTTP status
//   - fipe_request_duration_seconds{endpoint} (Histogram): request duration
//   - fipe_errors_total{class} (Counter): classified failures
//
// Retry metrics (pkg/fipe):
//   - fipe_retries_total{error_class} (Counter): retry attempts
//   - fipe_retry_backoff_seconds{error_class} (Histogram): backoff sleeps
//   - fipe_retry_exhausted_total{error_class} (Counter): calls that exhausted the retry budget
//
// Rate limit metrics (pkg/ratelimit):
//   - fipe_rate_limit_wait_seconds (Histogram): time waiting for a request slot
//   - fipe_inflight_requests (Gauge): requests currently in flight
//   - fipe_budget_remaining (Gauge): remaining daily budget (full-scan runs)
//
// Cache metrics (pkg/cache):
//   - fipe_cache_hits_total{backend} (Counter): listing cache hits
//   - fipe_cache_misses_total{backend} (Counter): listing cache misses
//   - fipe_cache_errors_total{backend, operation} (Counter): cache operation errors
//
// Export metrics (pkg/export):
//   - fipe_rows_exported_total{type} (Counter): rows written to the sink
//   - fipe_nodes_skipped_total{error_class} (Counter): nodes skipped after terminal failures
//
// Example queries:
//
//	# Request error rate
//	rate(fipe_errors_total[5m])
//
//	# Remaining daily budget
//	fipe_budget_remaining
//
//	# P95 request latency
//	histogram_quantile(0.95, rate(fipe_request_duration_seconds_bucket[5m]))
