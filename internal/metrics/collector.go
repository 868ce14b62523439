package metrics

import (
	"context"
	"time"

	"media-extractor/internal/logging"
)

// StatsProvider supplies job counts for the periodic collector.
type StatsProvider interface {
	CountJobsByStatus(ctx context.Context) (map[string]int, error)
}

// DBSizer reports on-disk database size. Optional.
type DBSizer interface {
	UpdateDBMetrics()
}

// Collector periodically collects and updates gauge metrics
type Collector struct {
	statsProvider StatsProvider
	dbSizer       DBSizer
	interval      time.Duration
	stopChan      chan struct{}
	log           logging.Logger
}

// NewCollector creates a new metrics collector
func NewCollector(provider StatsProvider, interval time.Duration) *Collector {
	c := &Collector{
		statsProvider: provider,
		interval:      interval,
		stopChan:      make(chan struct{}),
		log:           logging.Named("metrics"),
	}
	if sizer, ok := provider.(DBSizer); ok {
		c.dbSizer = sizer
	}
	return c
}

// Start begins the metrics collection loop
func (c *Collector) Start() {
	go c.collectLoop()
}

// Stop stops the metrics collection
func (c *Collector) Stop() {
	close(c.stopChan)
}

func (c *Collector) collectLoop() {
	c.collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Collector) collect() {
	if c.statsProvider == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	counts, err := c.statsProvider.CountJobsByStatus(ctx)
	if err != nil {
		c.log.Warn("failed to collect job counts: %v", err)
		return
	}

	for _, status := range []string{"pending", "processing", "completed", "failed", "expired"} {
		JobsByStatus.WithLabelValues(status).Set(float64(counts[status]))
	}

	if c.dbSizer != nil {
		c.dbSizer.UpdateDBMetrics()
	}

	c.log.Debug("collected job counts: %v", counts)
}
