// Package telemetry exposes Prometheus metrics for the scraper.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scraperJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_jobs_total",
			Help: "Total number of jobs processed, labeled by status.",
		},
		[]string{"status"},
	)

	scraperActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scraper_active_sessions",
			Help: "Number of live browser sessions in the pool.",
		},
	)

	scraperPacingDelaySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_pacing_delay_seconds",
			Help:    "Histogram of human-pacing delays applied before actions.",
			Buckets: []float64{0.5, 1, 2, 4, 8, 12, 18, 25},
		},
	)

	scraperRateLimitWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_rate_limit_wait_seconds",
			Help:    "Histogram of waits imposed by the hourly rate limiter.",
			Buckets: []float64{0.1, 1, 5, 15, 60, 300, 900},
		},
	)

	scraperUploadFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_upload_failures_total",
			Help: "Total result uploads that failed after the scrape succeeded.",
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
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// Handler returns the standard Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := chi.RouteContext(r.Context()).RoutePattern()
		if routePattern == "" {
			routePattern = "unknown"
		}
		ObserveHTTPRequest(r.Method, routePattern, ww.statusCode, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

// ObserveJob records a job reaching a terminal status.
func ObserveJob(status string) {
	scraperJobsTotal.WithLabelValues(status).Inc()
}

// IncActiveSessions increments the live session count.
func IncActiveSessions() {
	scraperActiveSessions.Inc()
}

// DecActiveSessions decrements the live session count.
func DecActiveSessions() {
	scraperActiveSessions.Dec()
}

// ObservePacingDelay records one applied pacing delay.
func ObservePacingDelay(d time.Duration) {
	scraperPacingDelaySeconds.Observe(d.Seconds())
}

// ObserveRateLimitWait records one wait imposed by the hourly limiter.
func ObserveRateLimitWait(d time.Duration) {
	scraperRateLimitWaitSeconds.Observe(d.Seconds())
}

// ObserveUploadFailure records a failed result upload.
func ObserveUploadFailure() {
	scraperUploadFailuresTotal.Inc()
}

// ObserveHTTPRequest records metrics for an HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
