package manager

import (
	"context"
	"errors"
	"fmt"

	"npud/internal/pressure"
	"npud/pkg/types"
)

var errNoMonitor = errors.New("memory monitor not attached")

// leakSuspectPct flags a possible leak when host use stays above it.
const leakSuspectPct = 95

// CleanupOptions configures the stages built by CleanupStages.
type CleanupOptions struct {
	Reader pressure.Reader
	// HostPurge also asks the OS to drop its file cache.
	HostPurge bool
	Estimator pressure.SavingsEstimator
}

// CleanupStages builds the cache, defrag, model and buffer stages over this
// manager's compile cache, registry and scratch pool.
func (m *Manager) CleanupStages(opts CleanupOptions) []pressure.Stage {
	var purgers []pressure.CachePurger
	if m.cache != nil {
		purgers = append(purgers, pressure.PurgerFunc(m.cache.Name(), func(context.Context) (uint64, error) {
			return m.cache.Purge(m.registry.InUse)
		}))
	}
	cache := &pressure.CacheStage{Purgers: purgers, Reader: opts.Reader}
	if opts.HostPurge {
		cache.HostPurge = pressure.PurgeHostCache
	}
	return []pressure.Stage{
		cache,
		pressure.DefragStage{},
		&pressure.ModelStage{Reclaimer: m, Reader: opts.Reader, Estimator: opts.Estimator, Log: m.log},
		&pressure.BufferStage{Buffers: m.scratch, Now: m.now},
	}
}

// AttachMonitor connects the host memory monitor used by MemoryStatus and
// Cleanup.
func (m *Manager) AttachMonitor(mon *pressure.Monitor) {
	m.mu.Lock()
	m.monitor = mon
	m.mu.Unlock()
}

func (m *Manager) monitorRef() *pressure.Monitor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.monitor
}

// MemoryStatus reports host memory, pressure and derived statistics.
func (m *Manager) MemoryStatus(ctx context.Context) (types.MemoryResponse, error) {
	mon := m.monitorRef()
	if mon == nil {
		return types.MemoryResponse{}, errNoMonitor
	}
	st, err := mon.Fresh(ctx)
	if err != nil {
		return types.MemoryResponse{}, fmt.Errorf("memory status: %w", err)
	}
	m.mu.RLock()
	strategy := m.strategy
	m.mu.RUnlock()
	resp := types.MemoryResponse{
		TotalMB:            st.TotalMB,
		UsedMB:             st.UsedMB,
		AvailableMB:        st.AvailableMB,
		CacheMB:            st.CacheMB,
		ModelMB:            m.registry.ResidentMB(),
		UsedPercent:        st.UsedPercent,
		Pressure:           st.Pressure.String(),
		Timestamp:          st.Timestamp.Unix(),
		NeedsCleanup:       mon.NeedsCleanup(),
		AllocationStrategy: string(strategy),
		Fragmentation:      pressure.ReadHeapStats().Fragmentation,
		CacheEfficiency:    m.cacheEfficiency(),
		LeakSuspected:      st.UsedPercent > leakSuspectPct,
		ScratchBytes:       m.scratch.Stats(),
	}
	if last, ok := mon.LastCleanup(); ok {
		cr := CleanupResponse(last)
		resp.LastCleanup = &cr
	}
	return resp, nil
}

// Cleanup forces one run of the cleanup pipeline.
func (m *Manager) Cleanup(ctx context.Context) (types.CleanupResponse, error) {
	mon := m.monitorRef()
	if mon == nil {
		return types.CleanupResponse{}, errNoMonitor
	}
	return CleanupResponse(mon.Cleanup(ctx)), nil
}

// cacheEfficiency is accesses served per resident MB.
func (m *Manager) cacheEfficiency() float64 {
	var accesses, mb uint64
	for _, v := range m.registry.Views() {
		accesses += v.Usage.AccessCount
		mb += v.FootprintMB
	}
	if mb == 0 {
		return 0
	}
	return float64(accesses) / float64(mb)
}

// CleanupResponse renders a pipeline result for the API.
func CleanupResponse(res pressure.CleanupResult) types.CleanupResponse {
	out := types.CleanupResponse{
		Stages:          make([]types.StageResult, 0, len(res.Stages)),
		TotalFreedBytes: res.TotalFreed,
		Pressure:        res.Level.String(),
		StartedUnix:     res.Started.Unix(),
		DurationMS:      res.Duration.Milliseconds(),
		Evicted:         res.Evicted,
	}
	for _, s := range res.Stages {
		sr := types.StageResult{Stage: s.Stage, FreedBytes: s.Freed, EstimatedBytes: s.Estimated, Clamped: s.Clamped}
		if s.Err != nil {
			sr.Error = s.Err.Error()
		}
		out.Stages = append(out.Stages, sr)
	}
	return out
}
