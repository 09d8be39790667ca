package metrics

import (
	"context"
	"time"

	"github.com/cuemby/ripple/pkg/manager"
)

// Collector periodically polls the replication manager and publishes the
// resulting snapshot to the registered gauges.
type Collector struct {
	manager *manager.Manager
	stopCh  chan struct{}
}

// NewCollector creates a new metrics collector.
func NewCollector(mgr *manager.Manager) *Collector {
	return &Collector{
		manager: mgr,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting metrics.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stats, err := c.manager.CacheStats(ctx)
	if err != nil {
		return
	}

	StorageUsedBytes.Set(float64(stats.UsedBytes))
	StorageQuotaBytes.Set(float64(stats.QuotaBytes))

	RegisteredTablesTotal.Set(float64(len(stats.RowsByTable)))
	for table, count := range stats.RowsByTable {
		RowsCached.WithLabelValues(table).Set(float64(count))
	}
}
