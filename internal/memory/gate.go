package memory

import (
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"media-gallery/internal/logging"
	"media-gallery/internal/metrics"
)

// GateConfig tunes a Gate.
type GateConfig struct {
	// LimitBytes is the heap budget; 0 uses the runtime soft limit.
	LimitBytes int64
	// Pause closes the gate when usage reaches this fraction of the limit.
	Pause float64
	// Resume reopens it once usage falls below this fraction.
	Resume   float64
	Interval time.Duration
}

// DefaultGateConfig returns the defaults used by the server.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		Pause:    0.85,
		Resume:   0.7,
		Interval: 5 * time.Second,
	}
}

// Gate holds image work back while the heap is close to its limit.
type Gate struct {
	cfg    GateConfig
	limit  int64
	sample func() uint64
	log    logging.Logger

	mu     sync.Mutex
	paused bool
	usage  float64
	// open is closed whenever the gate is open.
	open chan struct{}

	stop     chan struct{}
	stopOnce sync.Once
}

// NewGate returns an open Gate. Call Start to begin sampling.
func NewGate(cfg GateConfig) *Gate {
	def := DefaultGateConfig()
	if cfg.Pause <= 0 || cfg.Pause > 1 {
		cfg.Pause = def.Pause
	}
	if cfg.Resume <= 0 || cfg.Resume >= cfg.Pause {
		cfg.Resume = cfg.Pause * def.Resume / def.Pause
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}

	limit := cfg.LimitBytes
	if limit == 0 {
		if current := debug.SetMemoryLimit(-1); current > 0 && current < 1<<62 {
			limit = current
		}
	}

	open := make(chan struct{})
	close(open)
	return &Gate{
		cfg:    cfg,
		limit:  limit,
		sample: heapInUse,
		log:    logging.For("memory"),
		open:   open,
		stop:   make(chan struct{}),
	}
}

func heapInUse() uint64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return stats.HeapAlloc
}

// Start samples the heap every Interval. It is a no-op without a limit.
func (g *Gate) Start() {
	if g.limit == 0 {
		g.log.Info("no memory limit configured, backpressure disabled")
		return
	}
	g.log.Info("backpressure at %.0f%% of %s", g.cfg.Pause*100, formatBytes(g.limit))

	go func() {
		ticker := time.NewTicker(g.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				g.check()
			case <-g.stop:
				return
			}
		}
	}()
}

// Stop ends sampling and opens the gate for good.
func (g *Gate) Stop() {
	g.stopOnce.Do(func() {
		close(g.stop)
		g.mu.Lock()
		g.setPausedLocked(false)
		g.mu.Unlock()
	})
}

func (g *Gate) check() {
	if g.limit == 0 {
		return
	}
	usage := float64(g.sample()) / float64(g.limit)
	metrics.MemoryUsageRatio.Set(usage)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.usage = usage

	switch {
	case !g.paused && usage >= g.cfg.Pause:
		g.log.Warn("heap at %.1f%% of limit, pausing transform workers", usage*100)
		metrics.MemoryPausesTotal.Inc()
		g.setPausedLocked(true)
		go runtime.GC()
	case g.paused && usage < g.cfg.Resume:
		g.log.Info("heap at %.1f%% of limit, resuming transform workers", usage*100)
		g.setPausedLocked(false)
	}
}

func (g *Gate) setPausedLocked(paused bool) {
	if g.paused == paused {
		return
	}
	g.paused = paused
	if paused {
		g.open = make(chan struct{})
		metrics.MemoryPaused.Set(1)
	} else {
		close(g.open)
		metrics.MemoryPaused.Set(0)
	}
}

// Admit returns true once the gate is open, or false if stop closes first.
func (g *Gate) Admit(stop <-chan struct{}) bool {
	g.mu.Lock()
	open := g.open
	g.mu.Unlock()

	select {
	case <-open:
		return true
	default:
	}
	select {
	case <-open:
		return true
	case <-stop:
		return false
	}
}

// Paused reports whether the gate is closed.
func (g *Gate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// Usage returns the last sampled heap usage as a fraction of the limit.
func (g *Gate) Usage() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.usage
}
