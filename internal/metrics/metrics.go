package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RetryAttempts counts failed attempts that were retried, per operation and error kind
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mealog_retry_attempts_total",
			Help: "Total number of transient failures that were retried",
		},
		[]string{"op", "kind"},
	)

	// RetryOutcomes counts finished retry loops by outcome (success, permanent, exhausted, canceled)
	RetryOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mealog_retry_outcomes_total",
			Help: "Total number of retried operations by final outcome",
		},
		[]string{"op", "outcome"},
	)

	// StoreLatency tracks document store call latency
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mealog_store_latency_seconds",
			Help:    "Document store call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "op"},
	)

	// ActiveSubscriptions tracks live queries currently attached to the store
	ActiveSubscriptions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mealog_active_subscriptions",
			Help: "Number of live meal queries currently attached",
		},
		[]string{"backend"},
	)

	// SnapshotsDelivered counts result sets handed to subscribers
	SnapshotsDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mealog_snapshots_delivered_total",
			Help: "Total number of meal result sets delivered to subscribers",
		},
	)

	// LiveConnections tracks open WebSocket feeds
	LiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mealog_live_connections",
			Help: "Number of open live meal feeds",
		},
	)

	// DBConnectionPoolUsage tracks the percentage of open connections in use
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mealog_db_connection_pool_usage_percent",
			Help: "Percentage of max open database connections currently open",
		},
	)
)
