package metrics

import (
	"sync"
	"time"

	"media-gallery/internal/logging"
)

// StatsProvider interface for collecting stats
type StatsProvider interface {
	GetStats() Stats
}

// Stats holds the current gallery statistics
type Stats struct {
	TotalAssets    int
	TotalAlbums    int
	TotalFavorites int
	TotalTags      int
}

// Collector periodically collects and updates metrics
type Collector struct {
	statsProvider StatsProvider
	interval      time.Duration
	stopChan      chan struct{}
	stopOnce      sync.Once
}

// NewCollector creates a new metrics collector
func NewCollector(provider StatsProvider, interval time.Duration) *Collector {
	return &Collector{
		statsProvider: provider,
		interval:      interval,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the metrics collection loop
func (c *Collector) Start() {
	go c.collectLoop()
}

// Stop stops the metrics collection. Safe to call more than once.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
}

func (c *Collector) collectLoop() {
	// Collect immediately on start
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

	stats := c.statsProvider.GetStats()

	GalleryAssetsTotal.Set(float64(stats.TotalAssets))
	GalleryAlbumsTotal.Set(float64(stats.TotalAlbums))
	GalleryFavoritesTotal.Set(float64(stats.TotalFavorites))
	GalleryTagsTotal.Set(float64(stats.TotalTags))

	logging.Debug("Metrics collected: assets=%d, albums=%d, favorites=%d, tags=%d",
		stats.TotalAssets, stats.TotalAlbums, stats.TotalFavorites, stats.TotalTags)
}
