package pressure

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Status is the last host memory sample with derived fields.
type Status struct {
	TotalMB     uint64
	UsedMB      uint64
	AvailableMB uint64
	CacheMB     uint64
	ModelMB     uint64
	UsedPercent float64
	Pressure    Level
	Timestamp   time.Time
}

// Config configures a Monitor.
type Config struct {
	Reader Reader
	// Interval between polls in Run. Default 10s.
	Interval time.Duration
	// CleanupThresholdPct triggers cleanup when used% exceeds it. Default 80.
	CleanupThresholdPct float64
	// ModelMB reports memory held by resident models.
	ModelMB  func() uint64
	Pipeline *Pipeline
	// OnIdle runs after a poll that did not need cleanup.
	OnIdle func(ctx context.Context, st Status)
	Log    zerolog.Logger
}

// Monitor polls host memory on its own cadence. It never takes locks held by
// request paths except through the pipeline's model stage.
type Monitor struct {
	cfg Config

	mu          sync.RWMutex
	last        Status
	polled      bool
	lastCleanup *CleanupResult

	cleanupMu sync.Mutex
}

func NewMonitor(cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.CleanupThresholdPct <= 0 {
		cfg.CleanupThresholdPct = 80
	}
	return &Monitor{cfg: cfg}
}

// Threshold returns the cleanup threshold in percent.
func (m *Monitor) Threshold() float64 { return m.cfg.CleanupThresholdPct }

// Poll samples host memory and stores the result.
func (m *Monitor) Poll(ctx context.Context) (Status, error) {
	r, err := m.cfg.Reader.Read(ctx)
	if err != nil {
		return m.Status(), err
	}
	st := Status{
		TotalMB:     r.TotalMB,
		UsedMB:      r.UsedMB,
		AvailableMB: r.AvailableMB,
		CacheMB:     r.CacheMB,
		UsedPercent: UsedPercent(r.UsedMB, r.TotalMB),
		Timestamp:   time.Now(),
	}
	st.Pressure = Classify(st.UsedPercent)
	if m.cfg.ModelMB != nil {
		st.ModelMB = m.cfg.ModelMB()
	}
	m.mu.Lock()
	m.last, m.polled = st, true
	m.mu.Unlock()
	return st, nil
}

// Status returns the last sample.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Fresh returns the last sample, polling first if none exists yet.
func (m *Monitor) Fresh(ctx context.Context) (Status, error) {
	m.mu.RLock()
	polled := m.polled
	m.mu.RUnlock()
	if polled {
		return m.Status(), nil
	}
	return m.Poll(ctx)
}

// NeedsCleanup reports whether the last sample exceeds the cleanup threshold.
func (m *Monitor) NeedsCleanup() bool {
	return m.Status().UsedPercent > m.cfg.CleanupThresholdPct
}

// Cleanup runs the pipeline. Concurrent calls are serialized.
func (m *Monitor) Cleanup(ctx context.Context) CleanupResult {
	m.cleanupMu.Lock()
	defer m.cleanupMu.Unlock()
	if m.cfg.Pipeline == nil {
		return CleanupResult{Started: time.Now()}
	}
	res := m.cfg.Pipeline.Run(ctx)
	m.mu.Lock()
	m.lastCleanup = &res
	m.mu.Unlock()
	m.cfg.Log.Info().
		Uint64("freed_bytes", res.TotalFreed).
		Str("level", res.Level.String()).
		Strs("evicted", res.Evicted).
		Dur("took", res.Duration).
		Msg("memory cleanup")
	if _, err := m.Poll(ctx); err != nil {
		m.cfg.Log.Debug().Err(err).Msg("post-cleanup poll failed")
	}
	return res
}

// LastCleanup returns the most recent cleanup result.
func (m *Monitor) LastCleanup() (CleanupResult, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lastCleanup == nil {
		return CleanupResult{}, false
	}
	return *m.lastCleanup, true
}

// Tick performs one monitoring cycle.
func (m *Monitor) Tick(ctx context.Context) {
	st, err := m.Poll(ctx)
	if err != nil {
		m.cfg.Log.Warn().Err(err).Msg("memory poll failed")
		return
	}
	if m.NeedsCleanup() {
		m.cfg.Log.Warn().Float64("used_pct", st.UsedPercent).Str("level", st.Pressure.String()).Msg("memory pressure; running cleanup")
		m.Cleanup(ctx)
		return
	}
	if m.cfg.OnIdle != nil {
		m.cfg.OnIdle(ctx, st)
	}
}

// Run polls until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	t := time.NewTicker(m.cfg.Interval)
	defer t.Stop()
	m.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Tick(ctx)
		}
	}
}

// HeapStats describes Go heap fragmentation for diagnostics.
type HeapStats struct {
	Fragmentation float64
	IdleBytes     uint64
	InuseBytes    uint64
}

// ReadHeapStats estimates fragmentation as idle heap over idle plus in-use.
func ReadHeapStats() HeapStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	hs := HeapStats{IdleBytes: ms.HeapIdle - ms.HeapReleased, InuseBytes: ms.HeapInuse}
	if d := hs.IdleBytes + hs.InuseBytes; d > 0 {
		hs.Fragmentation = float64(hs.IdleBytes) / float64(d)
	}
	return hs
}
