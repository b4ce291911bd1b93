package usecase

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the coordination engine. Exposed on /metrics by
// the web server; the update worker additionally keeps its own running
// stats for the status API.

var (
	metricTasksScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "position_engine",
			Subsystem: "worker",
			Name:      "tasks_scheduled_total",
			Help:      "Update tasks accepted into the queue",
		},
		[]string{"kind"},
	)

	metricTasksDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "position_engine",
			Subsystem: "worker",
			Name:      "tasks_dropped_total",
			Help:      "Update tasks rejected because the queue was full",
		},
	)

	metricTasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "position_engine",
			Subsystem: "worker",
			Name:      "tasks_completed_total",
			Help:      "Update tasks durably applied to the store",
		},
		[]string{"kind"},
	)

	metricTasksFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "position_engine",
			Subsystem: "worker",
			Name:      "tasks_failed_total",
			Help:      "Update tasks abandoned after retry exhaustion",
		},
	)

	metricTaskLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "position_engine",
			Subsystem: "worker",
			Name:      "task_latency_seconds",
			Help:      "Enqueue-to-completion latency of update tasks",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
	)

	metricExitLocks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "position_engine",
			Subsystem: "exits",
			Name:      "lock_requests_total",
			Help:      "Exit lock acquisition attempts by outcome",
		},
		[]string{"outcome"},
	)

	metricExitsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "position_engine",
			Subsystem: "exits",
			Name:      "orders_submitted_total",
			Help:      "Exit orders handed to the broker gateway",
		},
		[]string{"reason"},
	)

	metricUnmatchedFills = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "position_engine",
			Subsystem: "fills",
			Name:      "unmatched_total",
			Help:      "Broker notifications that matched no outstanding order",
		},
	)

	metricCacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "position_engine",
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Live entries in the state cache",
		},
	)
)
