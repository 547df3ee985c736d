// Package metrics exposes Prometheus collectors for the gateway service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	snapshotsTotal             *prometheus.CounterVec
	urlSubmissionsTotal        *prometheus.CounterVec
	schedulerTicksTotal        *prometheus.CounterVec
	trackedURLs                prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. It is safe to call multiple
// times; observation helpers are no-ops until it runs.
func Init() {
	once.Do(func() {
		snapshotsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snapgate_snapshots_total",
				Help: "Total snapshot write attempts, labeled by outcome (inserted/duplicate).",
			},
			[]string{"outcome"},
		)

		urlSubmissionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snapgate_url_submissions_total",
				Help: "Total URL submissions, labeled by status (created/exists/rejected).",
			},
			[]string{"status"},
		)

		schedulerTicksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snapgate_scheduler_ticks_total",
				Help: "Total scheduler ticks, labeled by result (ok/idle/error).",
			},
			[]string{"result"},
		)

		trackedURLs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "snapgate_tracked_urls",
				Help: "Number of URLs currently tracked by the gateway.",
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
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSnapshot counts a snapshot write attempt by outcome.
func ObserveSnapshot(outcome string) {
	if snapshotsTotal == nil {
		return
	}
	snapshotsTotal.WithLabelValues(outcome).Inc()
}

// ObserveURLSubmission counts a URL submission by status.
func ObserveURLSubmission(status string) {
	if urlSubmissionsTotal == nil {
		return
	}
	urlSubmissionsTotal.WithLabelValues(status).Inc()
}

// ObserveTick counts one scheduler tick by result.
func ObserveTick(result string) {
	if schedulerTicksTotal == nil {
		return
	}
	schedulerTicksTotal.WithLabelValues(result).Inc()
}

// SetTrackedURLs records the current tracked URL count.
func SetTrackedURLs(n int) {
	if trackedURLs == nil {
		return
	}
	trackedURLs.Set(float64(n))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
