// Package metrics defines and registers Ripple's Prometheus metrics: sync
// duration, rows synced, conflicts resolved, queue depth, eviction counts,
// and storage usage. The passive health/readiness surface lives in
// pkg/monitor.
package metrics
