// Package metrics documents the Prometheus metrics exposed by the
// client. The metrics are defined next to the code that records them
// (pkg/client) and register themselves via promauto; this package
// only provides the registry reference and an inventory.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the Prometheus registerer the client metrics attach to.
var Registry = prometheus.DefaultRegisterer

// Metric inventory
//
// Request metrics (pkg/client):
//   - wn_requests_total{endpoint, status} (Counter): requests by
//     endpoint path and HTTP status ("network_error" when no response
//     was received)
//   - wn_request_duration_seconds{endpoint} (Histogram): wall time of
//     a logical request including retries
//
// Retry metrics (pkg/client):
//   - wn_retries_total{operation} (Counter): retry attempts
//   - wn_retry_exhausted_total{operation} (Counter): calls that used
//     up the whole retry budget
//
// Token metrics (pkg/client):
//   - wn_token_refreshes_total{outcome} (Counter): token grants by
//     outcome (success, failure)
//
// Example queries:
//
//   # Request error rate
//   sum(rate(wn_requests_total{status=~"5..|network_error"}[5m]))
//
//   # P95 request latency
//   histogram_quantile(0.95, rate(wn_request_duration_seconds_bucket[5m]))
//
//   # Token refresh failures
//   rate(wn_token_refreshes_total{outcome="failure"}[15m])
