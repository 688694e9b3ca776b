// Package metrics exposes Prometheus instrumentation for the storage
// engine: commit/rollback counters, lock-wait timing, and WAL flush
// latency, following the CounterVec-plus-MustRegister convention used for
// the rest of the retrieval pack's background-processing metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// TransactionsTotal counts finished transactions by outcome
	// ("committed", "aborted", "commit_failed").
	TransactionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "valoradb",
		Name:      "transactions_total",
		Help:      "Total number of transactions by terminal outcome.",
	}, []string{"outcome"})

	// LockTimeoutsTotal counts lock acquisitions that failed with a
	// deadlock timeout.
	LockTimeoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "valoradb",
		Name:      "lock_timeouts_total",
		Help:      "Total number of lock acquisitions that timed out.",
	})

	// LockWaitSeconds observes how long Acquire blocked before being
	// granted, failing, or being cancelled.
	LockWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "valoradb",
		Name:      "lock_wait_seconds",
		Help:      "Time spent waiting to acquire a key lock.",
		Buckets:   prometheus.DefBuckets,
	})

	// LockQueueDepth is the most recently observed waiter-queue length for
	// any key, used for the spec's "suspicious queue" diagnostic.
	LockQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "valoradb",
		Name:      "lock_queue_depth",
		Help:      "Waiter-queue length of the most recently enqueued lock request.",
	})

	// WALFlushSeconds observes WAL flush latency.
	WALFlushSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "valoradb",
		Name:      "wal_flush_seconds",
		Help:      "Time spent flushing buffered WAL entries to stable storage.",
		Buckets:   prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(
		TransactionsTotal,
		LockTimeoutsTotal,
		LockWaitSeconds,
		LockQueueDepth,
		WALFlushSeconds,
	)
}
