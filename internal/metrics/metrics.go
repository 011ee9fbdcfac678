// Package metrics exposes Prometheus collectors for the media scraper service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scraperFetchesTotal        *prometheus.CounterVec
	scraperFetchBytesTotal     *prometheus.CounterVec
	scraperFetchDuration       prometheus.Histogram
	scraperInflightFetches     prometheus.Gauge
	scraperJobsTotal           *prometheus.CounterVec
	scraperJobAttempts         prometheus.Histogram
	scraperMediaTotal          *prometheus.CounterVec
	scraperBatchSize           prometheus.Histogram
	scraperActiveWorkers       prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	httpRateLimitedTotal       prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scraperFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_fetches_total",
				Help: "Total number of page fetch attempts, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		scraperFetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_fetch_bytes_total",
				Help: "Total number of body bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		scraperFetchDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scraper_fetch_duration_seconds",
				Help:    "Histogram of page fetch latencies.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		)

		scraperInflightFetches = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraper_inflight_fetches",
				Help: "Number of fetches currently holding a concurrency slot.",
			},
		)

		scraperJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_jobs_total",
				Help: "Total number of jobs settled, labeled by terminal status.",
			},
			[]string{"status"},
		)

		scraperJobAttempts = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scraper_job_attempts",
				Help:    "Number of attempts a job used before settling.",
				Buckets: []float64{1, 2, 3, 5, 10},
			},
		)

		scraperMediaTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_media_total",
				Help: "Total number of media records persisted, labeled by type.",
			},
			[]string{"type"},
		)

		scraperBatchSize = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scraper_batch_size",
				Help:    "Histogram of submitted batch sizes.",
				Buckets: []float64{1, 10, 50, 100, 250, 500, 1000},
			},
		)

		scraperActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraper_active_workers",
				Help: "Number of queue workers currently running a batch.",
			},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120},
			},
			[]string{"method", "route"},
		)

		httpRateLimitedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "http_rate_limited_total",
				Help: "Total number of API requests rejected by the rate limiter.",
			},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one fetch attempt.
func ObserveFetch(site, outcome string, bytesFetched int, duration time.Duration) {
	sanitizedSite := SanitizeSite(site)
	scraperFetchesTotal.WithLabelValues(sanitizedSite, outcome).Inc()
	if bytesFetched > 0 {
		scraperFetchBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
	scraperFetchDuration.Observe(duration.Seconds())
}

// IncInflightFetches increments the in-flight fetch gauge.
func IncInflightFetches() {
	scraperInflightFetches.Inc()
}

// DecInflightFetches decrements the in-flight fetch gauge.
func DecInflightFetches() {
	scraperInflightFetches.Dec()
}

// ObserveJob records a job reaching a terminal status.
func ObserveJob(status string, attempts int) {
	scraperJobsTotal.WithLabelValues(status).Inc()
	scraperJobAttempts.Observe(float64(attempts))
}

// ObserveMedia adds persisted media records of the given type.
func ObserveMedia(mediaType string, n int) {
	if n <= 0 {
		return
	}
	scraperMediaTotal.WithLabelValues(mediaType).Add(float64(n))
}

// ObserveBatch records the size of a submitted batch.
func ObserveBatch(size int) {
	scraperBatchSize.Observe(float64(size))
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	scraperActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	scraperActiveWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimited counts a request rejected by the API rate limiter.
func ObserveRateLimited() {
	httpRateLimitedTotal.Inc()
}
