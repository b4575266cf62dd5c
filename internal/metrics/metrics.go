// Package metrics exposes Prometheus collectors for the scraper service.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsTotal             *prometheus.CounterVec
	pagesFetchedTotal     *prometheus.CounterVec
	itemsScrapedTotal     prometheus.Counter
	fetchDurationSeconds  *prometheus.HistogramVec
	fetchRetriesTotal     prometheus.Counter
	webhookAttemptsTotal  *prometheus.CounterVec
	webhookDeliveryStates *prometheus.CounterVec
	activeWorkers         prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus collectors. It is safe to call multiple
// times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_jobs_total",
				Help: "Total number of jobs reaching a terminal status, labeled by status.",
			},
			[]string{"status"},
		)

		pagesFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_pages_fetched_total",
				Help: "Total number of remote pages fetched, labeled by category and outcome.",
			},
			[]string{"category", "outcome"},
		)

		itemsScrapedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_items_scraped_total",
				Help: "Total number of items kept across all jobs.",
			},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_fetch_duration_seconds",
				Help:    "Latency of remote page fetches, labeled by category.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"category"},
		)

		fetchRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_fetch_retries_total",
				Help: "Total number of page-level fetch retries.",
			},
		)

		webhookAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_webhook_attempts_total",
				Help: "Total number of webhook delivery attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		webhookDeliveryStates = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_webhook_deliveries_total",
				Help: "Total number of webhook deliveries reaching a terminal state.",
			},
			[]string{"state"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraper_active_workers",
				Help: "Number of worker slots currently executing a job.",
			},
		)
	})
}

// JobFinished records a terminal job status.
func JobFinished(status string) {
	if jobsTotal != nil {
		jobsTotal.WithLabelValues(status).Inc()
	}
}

// PageFetched records one page fetch outcome ("ok", "retryable", "fatal").
func PageFetched(category, outcome string) {
	if pagesFetchedTotal != nil {
		pagesFetchedTotal.WithLabelValues(category, outcome).Inc()
	}
}

// ItemsScraped adds kept items to the running total.
func ItemsScraped(n int) {
	if itemsScrapedTotal != nil && n > 0 {
		itemsScrapedTotal.Add(float64(n))
	}
}

// ObserveFetch records the latency of a page fetch.
func ObserveFetch(category string, d time.Duration) {
	if fetchDurationSeconds != nil {
		fetchDurationSeconds.WithLabelValues(category).Observe(d.Seconds())
	}
}

// FetchRetried counts one page-level retry.
func FetchRetried() {
	if fetchRetriesTotal != nil {
		fetchRetriesTotal.Inc()
	}
}

// WebhookAttempt records one delivery attempt outcome ("delivered",
// "retryable", "rejected").
func WebhookAttempt(outcome string) {
	if webhookAttemptsTotal != nil {
		webhookAttemptsTotal.WithLabelValues(outcome).Inc()
	}
}

// WebhookFinished records a terminal delivery state.
func WebhookFinished(state string) {
	if webhookDeliveryStates != nil {
		webhookDeliveryStates.WithLabelValues(state).Inc()
	}
}

// WorkerStarted marks a worker slot busy.
func WorkerStarted() {
	if activeWorkers != nil {
		activeWorkers.Inc()
	}
}

// WorkerStopped marks a worker slot idle.
func WorkerStopped() {
	if activeWorkers != nil {
		activeWorkers.Dec()
	}
}
