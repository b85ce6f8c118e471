package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	IngestMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_messages_total",
			Help: "Inbound messages seen by the ingestion producer, by outcome (count)",
		},
		[]string{"account", "outcome"},
	)

	IngestAccountFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_account_failures_total",
			Help: "Ingestion passes that failed for a mailbox account (count)",
		},
		[]string{"account"},
	)

	IngestPassDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingest_pass_duration_ms",
			Help:    "Duration of one ingestion pass over a mailbox account in milliseconds",
			Buckets: []float64{100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		},
		[]string{"account"},
	)

	QueueOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_operations_total",
			Help: "Task queue pushes and pops by backend and status (count)",
		},
		[]string{"backend", "operation", "status"},
	)

	DedupChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_cache_checks_total",
			Help: "Dedup cache lookups by result: replied, not_replied, error (count)",
		},
		[]string{"result"},
	)

	DedupWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_cache_writes_total",
			Help: "Dedup cache writes by representation and status (count)",
		},
		[]string{"representation", "status"},
	)

	FallbackUsageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fallback_usage_total",
			Help: "Fallback decisions taken when a dependency errored (count)",
		},
		[]string{"component", "fallback"},
	)

	ReplyTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reply_tasks_total",
			Help: "Reply tasks by terminal outcome (count)",
		},
		[]string{"outcome"},
	)

	ReplyAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reply_attempts_total",
			Help: "Governor attempts by result: success, retry, exhausted, integrity, fatal (count)",
		},
		[]string{"result"},
	)

	ReplyTaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reply_task_duration_ms",
			Help:    "End to end reply task duration in milliseconds",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		},
		[]string{"outcome"},
	)

	CompletionRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "completion_requests_total",
			Help: "Completion service requests by status (count)",
		},
		[]string{"status"},
	)

	CompletionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "completion_request_duration_ms",
			Help:    "Completion service request duration in milliseconds",
			Buckets: []float64{100, 250, 500, 1000, 2500, 5000, 10000, 15000, 30000},
		},
	)

	RelaySendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_sends_total",
			Help: "Outbound replies handed to the mail relay by status (count)",
		},
		[]string{"status"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Requests passed through a circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Failed requests through a circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Admin API requests by rate limit decision (count)",
		},
		[]string{"status"},
	)

	AdminRequeuesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admin_requeues_total",
			Help: "Operator requeues by status (count)",
		},
		[]string{"status"},
	)
)

func RegisterIngestMetrics() {
	prometheus.MustRegister(IngestMessagesTotal)
	prometheus.MustRegister(IngestAccountFailuresTotal)
	prometheus.MustRegister(IngestPassDuration)
	registerShared()
}

func RegisterReplyMetrics() {
	prometheus.MustRegister(ReplyTasksTotal)
	prometheus.MustRegister(ReplyAttemptsTotal)
	prometheus.MustRegister(ReplyTaskDuration)
	prometheus.MustRegister(CompletionRequestsTotal)
	prometheus.MustRegister(CompletionDuration)
	prometheus.MustRegister(RelaySendsTotal)
	registerShared()
}

func RegisterAdminMetrics() {
	prometheus.MustRegister(RateLimitRequestsTotal)
	prometheus.MustRegister(AdminRequeuesTotal)
	prometheus.MustRegister(QueueOperationsTotal)
}

func registerShared() {
	prometheus.MustRegister(QueueOperationsTotal)
	prometheus.MustRegister(DedupChecksTotal)
	prometheus.MustRegister(DedupWritesTotal)
	prometheus.MustRegister(FallbackUsageTotal)
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(CircuitBreakerRequests)
	prometheus.MustRegister(CircuitBreakerFailures)
}

func ObserveIngestPass(account string, duration time.Duration) {
	IngestPassDuration.WithLabelValues(account).Observe(float64(duration.Milliseconds()))
}

func ObserveReplyTask(outcome string, duration time.Duration) {
	ReplyTasksTotal.WithLabelValues(outcome).Inc()
	ReplyTaskDuration.WithLabelValues(outcome).Observe(float64(duration.Milliseconds()))
}

func ObserveCompletion(status string, duration time.Duration) {
	CompletionRequestsTotal.WithLabelValues(status).Inc()
	CompletionDuration.Observe(float64(duration.Milliseconds()))
}

func IncQueueOperation(backend, operation, status string) {
	QueueOperationsTotal.WithLabelValues(backend, operation, status).Inc()
}
