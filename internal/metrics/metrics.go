package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	JobsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trainer_jobs_submitted_total",
			Help: "Total number of submitted training jobs by enqueue outcome.",
		},
		[]string{"outcome"},
	)

	JobTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trainer_job_transitions_total",
			Help: "Total number of training job status transitions by target status.",
		},
		[]string{"status"},
	)

	ExecutionDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trainer_execution_duration_seconds",
			Help:    "Duration of training executions in seconds, retries included.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600, 7200},
		},
		[]string{"status"},
	)

	LogEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trainer_log_entries_total",
			Help: "Total number of log envelopes handled by the persister by result.",
		},
		[]string{"result"},
	)

	LogResubscribesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trainer_log_resubscribes_total",
			Help: "Total number of log channel resubscriptions after a broker drop.",
		},
	)

	GatewaySessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trainer_gateway_sessions",
			Help: "Number of open live log stream connections.",
		},
	)

	OutboxPublishesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trainer_outbox_publishes_total",
			Help: "Total number of outbox publish attempts by result.",
		},
		[]string{"result"},
	)
)

// All lists every custom trainer collector.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		JobsSubmittedTotal,
		JobTransitionsTotal,
		ExecutionDurationSeconds,
		LogEntriesTotal,
		LogResubscribesTotal,
		GatewaySessions,
		OutboxPublishesTotal,
	}
}

var registerOnce sync.Once

// Register registers all custom trainer metrics with the default Prometheus
// registry. Repeated calls are no-ops.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(All()...)
	})
}
