// Package metrics provides the Prometheus registry reference and the
// optional HTTP endpoint of the exporter.
// All metrics are defined in their respective packages (client, cache,
// ratelimit, pipeline) to maintain modularity and avoid circular
// dependencies.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the exporter.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer serves the metrics registered with Registry.
var Gatherer = prometheus.DefaultGatherer

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - mit_requests_total{kind, status} (Counter): Requests by kind (count, page, detail) and HTTP status
//   - mit_request_duration_seconds{kind} (Histogram): Request duration by kind
//   - mit_errors_total{class} (Counter): Fetch failures by class (client, server, rate_limit, network, decode)
//
// Retry Metrics (pkg/client):
//   - mit_retries_total{error_class} (Counter): Retry attempts by error class
//   - mit_retry_backoff_seconds{error_class} (Histogram): Extra backoff between attempts
//   - mit_retry_exhausted_total{error_class} (Counter): Bounded retries that gave up
//
// Throttle Metrics (pkg/ratelimit):
//   - mit_throttle_waits_total (Counter): Pre-request delays
//   - mit_throttle_wait_seconds_total (Counter): Time spent in pre-request delays
//
// Cache Metrics (pkg/cache):
//   - mit_cache_hits_total{layer} (Counter): Cache hits by layer (memory, redis)
//   - mit_cache_misses_total (Counter): Cache misses
//   - mit_cache_entries{layer="memory"} (Gauge): Entries held in memory
//   - mit_cache_errors_total{operation} (Counter): Cache operation errors
//
// Run Metrics (pkg/pipeline):
//   - mit_registry_items (Gauge): Item count reported by the registry
//   - mit_pages_total (Counter): Listing pages processed
//   - mit_rows_total{result} (Counter): Output rows by result (ok, error)
//
// Example Prometheus Queries:
//
//   # Extraction error ratio
//   sum(mit_rows_total{result="error"}) / sum(mit_rows_total)
//
//   # Run progress
//   sum(mit_rows_total) / mit_registry_items
//
//   # Failure rate by class
//   rate(mit_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(mit_request_duration_seconds_bucket[5m]))
