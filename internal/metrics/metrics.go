package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LoadsTotal counts finished load runs by outcome
	LoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biomes_client_loads_total",
			Help: "Total number of load runs by outcome",
		},
		[]string{"outcome"},
	)

	// LoadDuration tracks wall time from Load to its result
	LoadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "biomes_client_load_duration_seconds",
			Help:    "Load duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"outcome"},
	)

	// LoadAttempts counts attempts started by the sequencer
	LoadAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "biomes_client_load_attempts_total",
			Help: "Total number of load attempts",
		},
	)

	// LoadStage is the rank of the most recently classified stage
	LoadStage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "biomes_client_load_stage_rank",
			Help: "Rank of the current load stage",
		},
	)

	// LoadStalls counts stall detections
	LoadStalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biomes_client_load_stalls_total",
			Help: "Total number of stalled load attempts",
		},
		[]string{"stage"},
	)

	// BackoffRetries counts retries scheduled by the backoff runner
	BackoffRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biomes_client_backoff_retries_total",
			Help: "Total number of retried operations",
		},
		[]string{"operation"},
	)

	// FetchRequests counts HTTP requests by method and status class
	FetchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biomes_client_fetch_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	// FetchLatency tracks HTTP request latency
	FetchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "biomes_client_fetch_latency_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// ConnectionStatus is 1 for the game connection's current status, 0 otherwise
	ConnectionStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "biomes_client_connection_status",
			Help: "Current game connection status",
		},
		[]string{"status"},
	)

	// DBConnectionPoolUsage tracks the ratio of in-use to max connections
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "biomes_client_db_pool_usage",
			Help: "Database connection pool usage ratio",
		},
	)

	// ReportsPruned counts load reports removed by retention
	ReportsPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "biomes_client_reports_pruned_total",
			Help: "Total number of load reports pruned",
		},
	)
)
