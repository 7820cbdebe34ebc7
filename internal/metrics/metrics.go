package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "trackresync"

// Item outcomes recorded by the reconciler.
const (
	OutcomeSynced   = "synced"
	OutcomeStale    = "stale"
	OutcomeDropped  = "dropped"
	OutcomeRetained = "retained"
)

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	reconciledItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciled_items_total",
			Help:      "Pending items processed by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	runs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Reconciliation runs by result.",
		},
		[]string{"result"},
	)

	runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of reconciliation runs.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	dispatchRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_retries_total",
			Help:      "Runs rescheduled after a dispatch fault.",
		},
	)

	pendingMarkers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_markers",
			Help:      "Pending markers left after the last run, by kind.",
		},
		[]string{"kind"},
	)

	deferredPushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deferred_pushes_total",
			Help:      "Live progress pushes that failed and were left for reconciliation, by kind.",
		},
		[]string{"kind"},
	)

	lastRunTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last reconciliation run finished.",
		},
	)

	lastRunItems = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_items",
			Help:      "Items synced and retained by the last reconciliation run.",
		},
		[]string{"outcome"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, reconciledItems, runs, runDuration, dispatchRetries, pendingMarkers,
			deferredPushes, lastRunTimestamp, lastRunItems)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func ObserveItem(kind, outcome string) {
	reconciledItems.WithLabelValues(kind, outcome).Inc()
}

// ObserveRun records a finished run. result is "ok" or "failed".
func ObserveRun(result string, seconds float64) {
	runs.WithLabelValues(result).Inc()
	runDuration.Observe(seconds)
}

func IncDispatchRetry() {
	dispatchRetries.Inc()
}

func SetPending(kind string, n int) {
	pendingMarkers.WithLabelValues(kind).Set(float64(n))
}
