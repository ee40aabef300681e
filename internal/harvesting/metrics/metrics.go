package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AttemptsTotal tracks provider call attempts per source
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_attempts_total",
			Help: "Total number of provider call attempts",
		},
		[]string{"source"},
	)

	// RetriesTotal tracks recovered failures that led to another attempt
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_retries_total",
			Help: "Total number of retried provider calls",
		},
		[]string{"source"},
	)

	// TerminalFailuresTotal tracks calls that gave up, by reason
	TerminalFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_terminal_failures_total",
			Help: "Total number of provider calls that failed terminally",
		},
		[]string{"source", "kind"},
	)

	// ThrottleWaitSeconds tracks time spent waiting for the request spacing
	ThrottleWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvester_throttle_wait_seconds",
			Help:    "Time spent waiting between provider requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	// CallDuration tracks end-to-end latency of successful calls, retries included
	CallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvester_call_duration_seconds",
			Help:    "Duration of successful provider calls including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	// RecordsImported tracks records saved per source
	RecordsImported = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_records_imported_total",
			Help: "Total number of imported records",
		},
		[]string{"source"},
	)

	// FailuresRecorded tracks per-record import failures
	FailuresRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_failures_recorded_total",
			Help: "Total number of per-record import failures",
		},
		[]string{"source", "type"},
	)

	// PendingFailures tracks the size of the failure queue
	PendingFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "harvester_pending_failures",
			Help: "Number of failures waiting for recovery",
		},
		[]string{"source"},
	)

	// DBConnectionPoolUsage tracks database pool usage percentage
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "harvester_db_connection_pool_usage_percent",
			Help: "Open database connections as a percentage of the pool size",
		},
	)
)
