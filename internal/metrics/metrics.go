// Package metrics exposes Prometheus collectors for the crawler service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerPostsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_posts_total",
			Help: "Posts handled by the orchestrator, labeled by platform and outcome.",
		},
		[]string{"platform", "outcome"},
	)

	crawlerKeywordMatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_keyword_matches_total",
			Help: "Keyword matches persisted, labeled by platform.",
		},
		[]string{"platform"},
	)

	crawlerJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_jobs_total",
			Help: "Crawl jobs finished, labeled by platform and terminal status.",
		},
		[]string{"platform", "status"},
	)

	crawlerJobDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crawler_job_duration_seconds",
			Help:    "Crawl job wall time, labeled by platform.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"platform"},
	)

	crawlerActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crawler_active_workers",
			Help: "Number of workers currently running a platform crawl.",
		},
	)

	providerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_provider_requests_total",
			Help: "Provider API calls, labeled by platform, endpoint and status code.",
		},
		[]string{"platform", "endpoint", "code"},
	)

	providerErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_provider_errors_total",
			Help: "Classified provider failures, labeled by platform and kind.",
		},
		[]string{"platform", "kind"},
	)

	rateLimitRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_rate_limit_rejections_total",
			Help: "Calls refused locally because the window budget was spent.",
		},
		[]string{"platform", "endpoint"},
	)

	rateLimitExceededTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_rate_limit_exceeded_total",
			Help: "Provider rate-limit responses, labeled by platform and endpoint.",
		},
		[]string{"platform", "endpoint"},
	)

	rateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crawler_rate_limit_delays_seconds",
			Help:    "Histogram of outbound pacing waits.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"platform"},
	)

	alertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_alerts_total",
			Help: "Threshold alerts emitted, labeled by platform.",
		},
		[]string{"platform"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePost counts one post outcome (new, updated, skipped, failed).
func ObservePost(platform, outcome string) {
	crawlerPostsTotal.WithLabelValues(platform, outcome).Inc()
}

// ObserveKeywordMatches adds persisted keyword matches.
func ObserveKeywordMatches(platform string, n int) {
	if n > 0 {
		crawlerKeywordMatchesTotal.WithLabelValues(platform).Add(float64(n))
	}
}

// ObserveJob records a finished job.
func ObserveJob(platform, status string, duration time.Duration) {
	crawlerJobsTotal.WithLabelValues(platform, status).Inc()
	crawlerJobDurationSeconds.WithLabelValues(platform).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	crawlerActiveWorkers.Dec()
}

// ObserveProviderRequest counts one provider call by status code.
func ObserveProviderRequest(platform, endpoint string, code int) {
	providerRequestsTotal.WithLabelValues(platform, endpoint, strconv.Itoa(code)).Inc()
}

// ObserveProviderError counts one classified provider failure.
func ObserveProviderError(platform, kind string) {
	providerErrorsTotal.WithLabelValues(platform, kind).Inc()
}

// ObserveRateLimitRejection counts a locally refused call.
func ObserveRateLimitRejection(platform, endpoint string) {
	rateLimitRejectionsTotal.WithLabelValues(platform, endpoint).Inc()
}

// ObserveRateLimitExceeded counts a provider rate-limit response.
func ObserveRateLimitExceeded(platform, endpoint string) {
	rateLimitExceededTotal.WithLabelValues(platform, endpoint).Inc()
}

// ObserveRateLimitDelay records the duration of a pacing wait.
func ObserveRateLimitDelay(platform string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(platform).Observe(duration.Seconds())
}

// ObserveAlert counts an emitted alert.
func ObserveAlert(platform string) {
	alertsTotal.WithLabelValues(platform).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
