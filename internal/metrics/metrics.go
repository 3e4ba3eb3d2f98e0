package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TransactionsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_transactions_submitted_total",
		Help: "Total number of transactions accepted onto a priority queue, labelled by tier.",
	}, []string{"priority"})

	TransactionsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_transactions_dropped_total",
		Help: "Total number of transactions rejected due to a full queue, labelled by tier.",
	}, []string{"priority"})

	TransactionsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_transactions_processed_total",
		Help: "Total number of transactions scored, labelled by decision.",
	}, []string{"decision"})

	ScoringErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_scoring_errors_total",
		Help: "Total number of scoring function failures.",
	})

	ScoringDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sentinel_scoring_duration_ms",
		Help:    "Per-transaction scoring latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	})

	WorkerCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_stream_workers",
		Help: "Current number of stream processor workers.",
	})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sentinel_queue_depth",
		Help: "Current transaction queue depth, labelled by tier.",
	}, []string{"priority"})

	EventsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_events_submitted_total",
		Help: "Total number of fraud events accepted by the response engine.",
	})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_events_dropped_total",
		Help: "Total number of fraud events rejected due to a full queue.",
	})

	RuleMatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_rule_matches_total",
		Help: "Total number of rule matches, labelled by rule ID.",
	}, []string{"rule_id"})

	ActionsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_actions_executed_total",
		Help: "Total number of response actions executed, labelled by action and status.",
	}, []string{"action", "status"})

	PatternsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_patterns_detected_total",
		Help: "Total number of correlation patterns raised, labelled by pattern.",
	}, []string{"pattern"})

	TasksSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_tasks_submitted_total",
		Help: "Total number of tasks accepted by the workload distributor.",
	})

	TasksAssigned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_tasks_assigned_total",
		Help: "Total number of task assignments, labelled by agent.",
	}, []string{"agent_id"})

	TasksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_tasks_completed_total",
		Help: "Total number of completed assignments, labelled by status.",
	}, []string{"status"})

	TasksUndeliverable = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_tasks_undeliverable_total",
		Help: "Total number of tasks expired with no eligible agent.",
	})

	TaskQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_task_queue_depth",
		Help: "Current number of tasks awaiting assignment.",
	})

	AuditEntries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_audit_entries_total",
		Help: "Total number of audit entries written.",
	})

	AuditRotations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_audit_segment_rotations_total",
		Help: "Total number of audit log segment rotations.",
	})
)
