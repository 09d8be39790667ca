package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Table metrics
	RegisteredTablesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ripple_registered_tables_total",
			Help: "Total number of tables currently registered with the manager",
		},
	)

	RowsCached = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ripple_rows_cached",
			Help: "Number of rows currently held for a table",
		},
		[]string{"table"},
	)

	// Sync metrics
	SyncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ripple_sync_duration_seconds",
			Help:    "Time taken to complete a sync operation, by table and kind (full, incremental, upload)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"table", "kind"},
	)

	RowsSyncedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ripple_rows_synced_total",
			Help: "Total number of rows synchronized, by table and kind",
		},
		[]string{"table", "kind"},
	)

	SyncFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ripple_sync_failures_total",
			Help: "Total number of failed sync operations, by table",
		},
		[]string{"table"},
	)

	FullSyncEscalationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ripple_full_sync_escalations_total",
			Help: "Total number of incremental syncs that escalated to a full sync, by table",
		},
		[]string{"table"},
	)

	// Conflict metrics
	ConflictsResolvedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ripple_conflicts_resolved_total",
			Help: "Total number of conflicts resolved, by table and winner (local, remote)",
		},
		[]string{"table", "winner"},
	)

	// Mutation queue metrics
	PendingMutations = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ripple_pending_mutations",
			Help: "Number of mutations currently pending upload, by table",
		},
		[]string{"table"},
	)

	MutationRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ripple_mutation_retries_total",
			Help: "Total number of mutation upload retries, by table",
		},
		[]string{"table"},
	)

	MutationUploadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ripple_mutation_upload_duration_seconds",
			Help:    "Time taken to upload one pending mutation",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Eviction metrics
	EvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ripple_evictions_total",
			Help: "Total number of rows evicted, by table",
		},
		[]string{"table"},
	)

	StorageUsedBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ripple_storage_used_bytes",
			Help: "Estimated durable storage usage in bytes",
		},
	)

	StorageQuotaBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ripple_storage_quota_bytes",
			Help: "Configured durable storage quota in bytes",
		},
	)
)

func init() {
	prometheus.MustRegister(RegisteredTablesTotal)
	prometheus.MustRegister(RowsCached)
	prometheus.MustRegister(SyncDuration)
	prometheus.MustRegister(RowsSyncedTotal)
	prometheus.MustRegister(SyncFailuresTotal)
	prometheus.MustRegister(FullSyncEscalationsTotal)
	prometheus.MustRegister(ConflictsResolvedTotal)
	prometheus.MustRegister(PendingMutations)
	prometheus.MustRegister(MutationRetriesTotal)
	prometheus.MustRegister(MutationUploadDuration)
	prometheus.MustRegister(EvictionsTotal)
	prometheus.MustRegister(StorageUsedBytes)
	prometheus.MustRegister(StorageQuotaBytes)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
