// Package metrics exposes the Prometheus metrics of the ItemSense client.
// All metrics are defined in their respective packages (client, ratelimit,
// pagination, coordinator, report, broker) via promauto and land on the
// default registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registry all package metrics are registered with.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer matching Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler serves every registered metric in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - itemsense_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - itemsense_request_duration_seconds{endpoint} (Histogram): Call duration including retries
//   - itemsense_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Retry Metrics (pkg/client):
//   - itemsense_retries_total{error_class} (Counter): Retry attempts by error class
//   - itemsense_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - itemsense_retry_exhausted_total{error_class} (Counter): Calls that exhausted max attempts
//
// Rate Limit Metrics (pkg/ratelimit):
//   - itemsense_rate_limit_waits_total (Counter): Requests delayed by the limiter
//   - itemsense_rate_limit_blocks_total (Counter): Server-imposed blocks from Retry-After
//   - itemsense_rate_limit_wait_seconds (Histogram): Time spent waiting
//
// Pagination Metrics (pkg/pagination):
//   - itemsense_pages_fetched_total (Counter): Listing pages fetched
//   - itemsense_items_fetched_total (Counter): Item records received
//   - itemsense_page_walks_total{result} (Counter): Page walks by result (success, error)
//
// Coordinator Metrics (pkg/coordinator):
//   - itemsense_polls_total{result} (Counter): Poll cycles by result (success, error, cancelled)
//   - itemsense_poll_duration_seconds (Histogram): Duration of one poll cycle
//   - itemsense_store_items (Gauge): Items in the aggregation store of the current run
//   - itemsense_runs_total{state} (Counter): Finished runs by state (completed, failed)
//
// Report Metrics (pkg/report):
//   - itemsense_report_writes_total{sink, result} (Counter): Reports persisted by sink
//   - itemsense_report_items_written_total{sink} (Counter): Item rows persisted by sink
//
// Broker Metrics (pkg/broker):
//   - itemsense_broker_messages_total{queue} (Counter): Messages delivered to the handler
//   - itemsense_broker_reconnects_total (Counter): Reconnect attempts
//
// Example Prometheus Queries:
//
//   # Request Error Rate
//   rate(itemsense_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(itemsense_request_duration_seconds_bucket[5m]))
//
//   # Items kept per run
//   itemsense_store_items
//
//   # Failed polls
//   increase(itemsense_polls_total{result="error"}[1h])
