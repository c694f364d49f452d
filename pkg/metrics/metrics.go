// Package metrics exposes the Prometheus registry shared by the engine.
// Metrics are defined next to the code that updates them (client, cache,
// ratelimit, batch, pagination) and registered through promauto.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer all engine metrics are registered with.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer matching Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler returns an HTTP handler serving every registered metric.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - b24_requests_total{method, status} (Counter): REST calls by method and HTTP status
//   - b24_request_duration_seconds{method} (Histogram): Call duration by method
//   - b24_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//   - b24_retries_total{error_class} (Counter): Retry attempts by error class
//   - b24_retry_exhausted_total{error_class} (Counter): Calls that exhausted their retries
//
// Operating Budget Metrics (pkg/ratelimit):
//   - b24_operating_seconds{method} (Gauge): Operating seconds consumed in the current window
//   - b24_rate_limit_blocks_total{method} (Counter): Calls refused before sending
//   - b24_rate_limit_warnings_total{method} (Counter): Calls sent with a low remaining budget
//
// Cache Metrics (pkg/cache):
//   - b24_cache_hits_total{method} (Counter): Cache hits by method
//   - b24_cache_misses_total{method} (Counter): Cache misses by method
//   - b24_cache_entry_bytes (Histogram): Size of stored entries
//   - b24_cache_invalidations_total{method} (Counter): Entries removed after writes
//   - b24_cache_errors_total{operation} (Counter): Cache operation errors
//
// Batch Metrics (pkg/batch):
//   - b24_batch_requests_total (Counter): Physical batch requests sent
//   - b24_batch_commands_total (Counter): Commands sent inside batch requests
//   - b24_batch_command_errors_total{method} (Counter): Failed sub-commands by method
//   - b24_batch_size (Histogram): Commands per batch request
//
// Traversal Metrics (pkg/pagination):
//   - b24_traversal_requests_total{method, kind} (Counter): List requests by kind (probe, page, count, batch)
//   - b24_traversal_items_total{method} (Counter): Items yielded by traversals
//
// Example Prometheus Queries:
//
//   # Commands per physical request
//   rate(b24_batch_commands_total[5m]) / rate(b24_batch_requests_total[5m])
//
//   # Methods close to the operating limit
//   b24_operating_seconds > 420
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(b24_request_duration_seconds_bucket[5m]))
