package memory

import (
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"media-extractor/internal/logging"
	"media-extractor/internal/metrics"
)

// Config controls when the Monitor holds back new work.
type Config struct {
	// LimitBytes overrides the runtime soft limit. Zero reads GOMEMLIMIT.
	LimitBytes int64

	// Work is paused at CriticalWaterMark and resumes below HighWaterMark.
	HighWaterMark     float64
	CriticalWaterMark float64

	CheckInterval time.Duration

	// ReadAlloc defaults to runtime heap allocation.
	ReadAlloc func() uint64
}

// DefaultConfig returns the watermarks used by the server.
func DefaultConfig() Config {
	return Config{
		HighWaterMark:     0.7,
		CriticalWaterMark: 0.85,
		CheckInterval:     5 * time.Second,
	}
}

// Monitor samples heap usage and pauses job admission while it sits above
// the critical watermark.
type Monitor struct {
	cfg   Config
	limit int64
	log   logging.Logger

	mu      sync.RWMutex
	current uint64
	paused  bool
	resume  chan struct{}

	stopOnce sync.Once
	stop     chan struct{}
}

// NewMonitor creates a Monitor. Without a limit it never pauses.
func NewMonitor(cfg Config) *Monitor {
	def := DefaultConfig()
	if cfg.HighWaterMark <= 0 {
		cfg.HighWaterMark = def.HighWaterMark
	}
	if cfg.CriticalWaterMark <= 0 {
		cfg.CriticalWaterMark = def.CriticalWaterMark
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}
	if cfg.ReadAlloc == nil {
		cfg.ReadAlloc = heapAlloc
	}

	m := &Monitor{
		cfg:    cfg,
		limit:  cfg.LimitBytes,
		log:    logging.Named("memory"),
		resume: make(chan struct{}),
		stop:   make(chan struct{}),
	}

	if m.limit == 0 {
		if limit := debug.SetMemoryLimit(-1); limit > 0 && limit < 1<<62 {
			m.limit = limit
		}
	}
	if m.limit == 0 {
		m.log.Warn("no memory limit configured, job admission is never paused")
	} else {
		m.log.Info("pausing jobs above %.0f%% of %s", cfg.CriticalWaterMark*100, FormatBytes(m.limit))
	}
	return m
}

func heapAlloc() uint64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return stats.Alloc
}

// Start samples memory every CheckInterval until Stop.
func (m *Monitor) Start() {
	if m.limit == 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(m.cfg.CheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.check()
			case <-m.stop:
				return
			}
		}
	}()
}

// Stop ends sampling and releases anyone blocked in WaitIfPaused.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Monitor) check() {
	alloc := m.cfg.ReadAlloc()
	usage := float64(alloc) / float64(m.limit)
	metrics.MemoryUsageRatio.Set(usage)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = alloc

	switch {
	case !m.paused && usage >= m.cfg.CriticalWaterMark:
		m.log.Warn("heap at %.1f%% of limit, pausing job admission", usage*100)
		m.paused = true
		metrics.MemoryPaused.Set(1)
		metrics.MemoryGCPauses.Inc()
		go runtime.GC()
	case m.paused && usage < m.cfg.HighWaterMark:
		m.log.Info("heap back to %.1f%% of limit, resuming", usage*100)
		m.paused = false
		metrics.MemoryPaused.Set(0)
		close(m.resume)
		m.resume = make(chan struct{})
	}
}

// WaitIfPaused blocks while admission is paused. It returns false if the
// monitor was stopped while waiting.
func (m *Monitor) WaitIfPaused() bool {
	m.mu.RLock()
	if !m.paused {
		m.mu.RUnlock()
		return true
	}
	resume := m.resume
	m.mu.RUnlock()

	select {
	case <-resume:
		return true
	case <-m.stop:
		return false
	}
}

// IsPaused reports whether admission is paused.
func (m *Monitor) IsPaused() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paused
}

// Usage returns the last sampled heap as a fraction of the limit.
func (m *Monitor) Usage() float64 {
	if m.limit == 0 {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return float64(m.current) / float64(m.limit)
}

// Limit returns the limit the monitor compares against.
func (m *Monitor) Limit() int64 {
	return m.limit
}
