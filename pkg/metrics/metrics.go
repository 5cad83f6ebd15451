// Package metrics exposes the crawler's Prometheus metrics.
// All metrics are defined in their respective packages (client, ratelimit,
// token, signer, job) via promauto and registered on the default registry.
//
// This package documents them and serves the /metrics endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer all crawler metrics use.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the source served by Handler.
var Gatherer prometheus.Gatherer = prometheus.DefaultGatherer

// Names lists every metric defined by the crawler packages.
var Names = []string{
	"crawler_requests_total",
	"crawler_request_duration_seconds",
	"crawler_errors_total",
	"crawler_retries_total",
	"crawler_retry_exhausted_total",
	"crawler_rate_limit_hits_total",
	"crawler_rate_limit_cooldown_waits_total",
	"crawler_rate_limit_cooldown_seconds",
	"crawler_token_acquisitions_total",
	"crawler_signatures_total",
	"crawler_jobs_total",
	"crawler_jobs_running",
	"crawler_job_duration_seconds",
}

// Handler serves the gathered metrics in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Fetch Core (pkg/client):
//   - crawler_requests_total{method, status} (Counter): Requests by verb and HTTP status
//   - crawler_request_duration_seconds{method} (Histogram): Request duration by verb
//   - crawler_errors_total{class} (Counter): Failed attempts by error class
//   - crawler_retries_total{class} (Counter): Retry attempts by error class
//   - crawler_retry_exhausted_total{class} (Counter): Operations that used every attempt
//
// Rate Limit (pkg/ratelimit):
//   - crawler_rate_limit_hits_total (Counter): 429 responses recorded
//   - crawler_rate_limit_cooldown_waits_total (Counter): Requests held back by a cooldown
//   - crawler_rate_limit_cooldown_seconds (Gauge): Length of the latest cooldown
//
// Tokens and Signing (pkg/token, pkg/signer):
//   - crawler_token_acquisitions_total{name, result} (Counter): result is success, fallback or failure
//   - crawler_signatures_total{result} (Counter): Signing calls by outcome
//
// Jobs (pkg/job):
//   - crawler_jobs_total{status} (Counter): Finished jobs by terminal status
//   - crawler_jobs_running (Gauge): Jobs currently running
//   - crawler_job_duration_seconds (Histogram): Job run time
//
// Example Prometheus Queries:
//
//   # Job failure ratio
//   sum(rate(crawler_jobs_total{status="failed"}[1h])) / sum(rate(crawler_jobs_total[1h]))
//
//   # Retry pressure by class
//   sum by (class) (rate(crawler_retries_total[5m]))
//
//   # P95 request latency
//   histogram_quantile(0.95, rate(crawler_request_duration_seconds_bucket[5m]))
//
//   # msToken placeholder rate
//   rate(crawler_token_acquisitions_total{name="msToken", result="fallback"}[15m])
