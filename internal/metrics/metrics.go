package metrics

import "github.com/prometheus/client_golang/prometheus"

var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "ops",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	},
	[]string{"method", "path"},
)

var HTTPRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ops",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests by method, path, and status class.",
	},
	[]string{"method", "path", "status"},
)

var JobsQueueDepth = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "ops",
		Subsystem: "jobs",
		Name:      "queue_depth",
		Help:      "Current number of jobs by status.",
	},
	[]string{"status"},
)

var JobsClaimedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "ops",
		Subsystem: "jobs",
		Name:      "claimed_total",
		Help:      "Total number of jobs claimed by the worker.",
	},
)

var JobsSucceededTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "ops",
		Subsystem: "jobs",
		Name:      "succeeded_total",
		Help:      "Total number of jobs that settled successfully.",
	},
)

var JobsFailedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "ops",
		Subsystem: "jobs",
		Name:      "failed_total",
		Help:      "Total number of jobs that settled as failed (terminal).",
	},
)

var JobsRetriedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "ops",
		Subsystem: "jobs",
		Name:      "retried_total",
		Help:      "Total number of jobs rescheduled for retry.",
	},
)

var JobsStaleRecoveredTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ops",
		Subsystem: "jobs",
		Name:      "stale_recovered_total",
		Help:      "Total number of stale-running jobs recovered by outcome.",
	},
	[]string{"outcome"},
)

var WorkerHeartbeatTimestamp = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "ops",
		Subsystem: "worker",
		Name:      "heartbeat_timestamp_seconds",
		Help:      "Unix timestamp of the worker's last completed loop iteration.",
	},
)

var WebhookEventsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ops",
		Subsystem: "webhook",
		Name:      "events_total",
		Help:      "Total number of webhook events by terminal status.",
	},
	[]string{"status"},
)

var SLAAlertsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ops",
		Subsystem: "incident",
		Name:      "sla_alerts_total",
		Help:      "Total number of SLA alerts dispatched by bucket.",
	},
	[]string{"bucket"},
)

// All returns all service-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		HTTPRequestDuration,
		HTTPRequestsTotal,
		JobsQueueDepth,
		JobsClaimedTotal,
		JobsSucceededTotal,
		JobsFailedTotal,
		JobsRetriedTotal,
		JobsStaleRecoveredTotal,
		WorkerHeartbeatTimestamp,
		WebhookEventsTotal,
		SLAAlertsTotal,
	}
}
