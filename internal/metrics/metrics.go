// Package metrics exposes Prometheus collectors for crawl runs.
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
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	sessionRefreshesTotal      *prometheus.CounterVec
	bootstrapsTotal            *prometheus.CounterVec
	bootstrapDurationSeconds   prometheus.Histogram
	pagesTotal                 *prometheus.CounterVec
	productsTotal              *prometheus.CounterVec
	runsTotal                  *prometheus.CounterVec
	accumulatedRecords         prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listingcrawler_fetch_attempts_total",
				Help: "Fetch attempts, labeled by origin host and outcome.",
			},
			[]string{"origin", "outcome"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listingcrawler_fetch_bytes_total",
				Help: "Body bytes of successful fetches, labeled by origin host.",
			},
			[]string{"origin"},
		)

		sessionRefreshesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listingcrawler_session_refreshes_total",
				Help: "Session invalidations followed by a re-bootstrap, labeled by origin host.",
			},
			[]string{"origin"},
		)

		bootstrapsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listingcrawler_bootstraps_total",
				Help: "Credential bootstraps, labeled by reason and outcome.",
			},
			[]string{"reason", "outcome"},
		)

		bootstrapDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "listingcrawler_bootstrap_duration_seconds",
				Help:    "Wall time of credential bootstraps.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		)

		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listingcrawler_pages_total",
				Help: "Listing pages walked, labeled by status.",
			},
			[]string{"status"},
		)

		productsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listingcrawler_products_total",
				Help: "Product fetches, labeled by status.",
			},
			[]string{"status"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listingcrawler_runs_total",
				Help: "Finished runs, labeled by terminal state.",
			},
			[]string{"state"},
		)

		accumulatedRecords = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "listingcrawler_accumulated_records",
				Help: "Product records held by the current run.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "listingcrawler_rate_limit_delays_seconds",
				Help:    "Histogram of per-origin rate limit waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"origin"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of status server requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of status server latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname from a URL or bare host.
// It returns "unknown" if the input is invalid.
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

// ObserveFetchAttempt records one attempt. outcome is "ok", an HTTP status
// code, or "error" for transport failures.
func ObserveFetchAttempt(site, outcome string, bytesFetched int) {
	Init()
	host := SanitizeSite(site)
	fetchAttemptsTotal.WithLabelValues(host, outcome).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(host).Add(float64(bytesFetched))
	}
}

// ObserveSessionRefresh counts an invalidate-and-rebootstrap cycle.
func ObserveSessionRefresh(site string) {
	Init()
	sessionRefreshesTotal.WithLabelValues(SanitizeSite(site)).Inc()
}

// ObserveBootstrap records a finished bootstrap.
func ObserveBootstrap(reason string, ok bool, duration time.Duration) {
	Init()
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	bootstrapsTotal.WithLabelValues(reason, outcome).Inc()
	bootstrapDurationSeconds.Observe(duration.Seconds())
}

// ObservePage counts a listing page as "done" or "dropped".
func ObservePage(status string) {
	Init()
	pagesTotal.WithLabelValues(status).Inc()
}

// ObserveProduct counts a product fetch as "done", "failed" or "skipped".
func ObserveProduct(status string) {
	Init()
	productsTotal.WithLabelValues(status).Inc()
}

// ObserveRun counts a run that reached state.
func ObserveRun(state string) {
	Init()
	runsTotal.WithLabelValues(state).Inc()
}

// SetAccumulatedRecords publishes the size of the result accumulator.
func SetAccumulatedRecords(n int) {
	Init()
	accumulatedRecords.Set(float64(n))
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(site string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(SanitizeSite(site)).Observe(duration.Seconds())
}

// ObserveHTTPRequest records one status server request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
