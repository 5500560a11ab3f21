package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "boxctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total status API requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "boxctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Status API request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	runnerCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "boxctl",
			Subsystem: "runner",
			Name:      "commands_total",
			Help:      "Commands started through a runner, by mode and outcome.",
		},
		[]string{"runner", "mode", "outcome"},
	)
	queryFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "boxctl",
			Subsystem: "query",
			Name:      "fetches_total",
			Help:      "Query fetch attempts by outcome.",
		},
		[]string{"query", "outcome"},
	)
	queryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "boxctl",
			Subsystem: "query",
			Name:      "fetch_duration_seconds",
			Help:      "Query fetch duration in seconds, retries included.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"query"},
	)
	queryStale = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "boxctl",
			Subsystem: "query",
			Name:      "stale_discarded_total",
			Help:      "Fetch completions discarded because a newer generation was started.",
		},
		[]string{"query"},
	)
	taskTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "boxctl",
			Subsystem: "task",
			Name:      "transitions_total",
			Help:      "Task status transitions by target status.",
		},
		[]string{"status"},
	)
	tasksActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "boxctl",
			Subsystem: "task",
			Name:      "active",
			Help:      "Tasks that have not reached a terminal status.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			runnerCommands,
			queryFetches,
			queryDuration,
			queryStale,
			taskTransitions,
			tasksActive,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

// RecordCommand counts one run or spawn. mode is "run" or "spawn".
func RecordCommand(runner, mode, outcome string) {
	RegisterMetrics()
	runnerCommands.WithLabelValues(runner, mode, outcome).Inc()
}

func RecordQueryFetch(query, outcome string, duration time.Duration) {
	RegisterMetrics()
	queryFetches.WithLabelValues(query, outcome).Inc()
	queryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

func RecordQueryStale(query string) {
	RegisterMetrics()
	queryStale.WithLabelValues(query).Inc()
}

// RecordTaskTransition counts a transition and keeps the active gauge in step.
func RecordTaskTransition(status string, terminal bool) {
	RegisterMetrics()
	taskTransitions.WithLabelValues(status).Inc()
	switch {
	case status == "pending":
		tasksActive.Inc()
	case terminal:
		tasksActive.Dec()
	}
}
