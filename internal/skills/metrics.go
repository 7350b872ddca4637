package skills

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreOperations counts store operations.
	// Labels: backend (file, badger), op, result (success, error)
	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "skillloop",
			Subsystem: "skills_store",
			Name:      "operations_total",
			Help:      "Total number of skill store operations",
		},
		[]string{"backend", "op", "result"},
	)

	// StoreOperationDuration tracks store operation latency.
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "skillloop",
			Subsystem: "skills_store",
			Name:      "operation_duration_seconds",
			Help:      "Duration of skill store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "op"},
	)

	// LockWait tracks time spent waiting for advisory file locks.
	LockWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "skillloop",
			Subsystem: "skills_store",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for exclusive file locks in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		},
	)

	// CacheLookups counts skill cache lookups.
	// Labels: result (hit, miss)
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "skillloop",
			Subsystem: "skills_store",
			Name:      "cache_lookups_total",
			Help:      "Total number of skill cache lookups by result",
		},
		[]string{"result"},
	)

	// CorruptRecordsSkipped counts unreadable JSONL lines and metadata files.
	CorruptRecordsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "skillloop",
			Subsystem: "skills_store",
			Name:      "corrupt_records_skipped_total",
			Help:      "Total number of corrupt records skipped while reading",
		},
		[]string{"kind"},
	)
)

// observe records one operation. Use as: defer observe("file", "save_skill", time.Now(), &err).
func observe(backend, op string, start time.Time, errp *error) {
	result := "success"
	if errp != nil && *errp != nil {
		result = "error"
	}
	StoreOperations.WithLabelValues(backend, op, result).Inc()
	StoreOperationDuration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}
