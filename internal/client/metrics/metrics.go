package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts terminal outcomes of executed calls
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketsync_requests_total",
			Help: "Total number of executed calls by terminal outcome",
		},
		[]string{"outcome"},
	)

	// RetriesTotal counts resends, split by why the call was resent
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketsync_retries_total",
			Help: "Total number of call resends",
		},
		[]string{"reason"},
	)

	// RefreshesTotal counts credential refresh cycles
	RefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketsync_refreshes_total",
			Help: "Total number of credential refresh cycles",
		},
		[]string{"result"},
	)

	// RefreshWaiters tracks callers parked behind an in-flight refresh
	RefreshWaiters = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketsync_refresh_waiters",
			Help: "Callers waiting on an in-flight credential refresh",
		},
	)

	// SyncRecordsTotal counts replayed offline records
	SyncRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketsync_sync_records_total",
			Help: "Total number of offline records replayed",
		},
		[]string{"kind", "result"},
	)

	// SyncPassDuration tracks how long one pass over the queue takes
	SyncPassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "marketsync_sync_pass_duration_seconds",
			Help:    "Duration of a sync pass in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// QueuePending tracks offline records not yet synced
	QueuePending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketsync_queue_pending",
			Help: "Offline records waiting to be synced",
		},
	)

	// Online is 1 while the API is reachable
	Online = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketsync_online",
			Help: "Whether the API is currently reachable (1) or not (0)",
		},
	)
)
