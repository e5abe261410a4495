// Package metrics exposes Prometheus collectors for the harvester.
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
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchExhaustedTotal        *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	listingsTotal              *prometheus.CounterVec
	recordsTotal               *prometheus.CounterVec
	activeWorkers              *prometheus.GaugeVec
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors. It is safe to call multiple times and every
// Observe helper calls it.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetch_attempts_total",
				Help: "Fetch attempts, labeled by source and outcome (ok, error, blocked).",
			},
			[]string{"source", "outcome"},
		)

		fetchExhaustedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetch_exhausted_total",
				Help: "Fetches that spent their whole retry budget, labeled by source.",
			},
			[]string{"source"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_fetch_duration_seconds",
				Help:    "Histogram of single fetch attempt latencies, labeled by source.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"source"},
		)

		listingsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_listings_total",
				Help: "Listing units processed, labeled by source and status (ok, dropped, empty).",
			},
			[]string{"source", "status"},
		)

		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_records_total",
				Help: "Article records, labeled by source and status (written, dropped, duplicate).",
			},
			[]string{"source", "status"},
		)

		activeWorkers = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "harvester_active_workers",
				Help: "Workers currently processing a listing unit, labeled by source.",
			},
			[]string{"source"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_delay_seconds",
				Help:    "Time requests spent waiting for the per-host rate limiter, labeled by host.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"host"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests served, labeled by method and code.",
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
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetchAttempt records one fetch attempt.
func ObserveFetchAttempt(source, outcome string, duration time.Duration) {
	Init()
	fetchAttemptsTotal.WithLabelValues(label(source), outcome).Inc()
	fetchDurationSeconds.WithLabelValues(label(source)).Observe(duration.Seconds())
}

// ObserveFetchExhausted records a fetch that ran out of retries.
func ObserveFetchExhausted(source string) {
	Init()
	fetchExhaustedTotal.WithLabelValues(label(source)).Inc()
}

// ObserveListing records the outcome of one listing unit.
func ObserveListing(source, status string) {
	Init()
	listingsTotal.WithLabelValues(label(source), status).Inc()
}

// ObserveRecord records the outcome of one detail page.
func ObserveRecord(source, status string) {
	Init()
	recordsTotal.WithLabelValues(label(source), status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers(source string) {
	Init()
	activeWorkers.WithLabelValues(label(source)).Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers(source string) {
	Init()
	activeWorkers.WithLabelValues(label(source)).Dec()
}

// ObserveRateLimitDelay records how long a request waited for a rate limiter token.
func ObserveRateLimitDelay(host string, delay time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(host).Observe(delay.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

func label(source string) string {
	if source == "" {
		return "unknown"
	}
	return source
}
