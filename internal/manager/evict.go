package manager

import (
	"context"
	"sort"
	"time"

	"npud/internal/pressure"
)

// Eviction defaults.
const (
	defaultInactivityThreshold = 300 * time.Second
	defaultLowFrequency        = 0.1
	defaultMinAge              = 600 * time.Second
)

// EvictionPolicy decides which resident models may be unloaded under host
// memory pressure. It never looks at pins; the registry skips pinned
// candidates when detaching.
type EvictionPolicy struct {
	// InactivityThreshold makes any model idle longer than it eligible.
	InactivityThreshold time.Duration
	// Models used less than LowFrequency times per minute and older than
	// MinAge are eligible regardless of recent use.
	LowFrequency float64
	MinAge       time.Duration
}

// DefaultEvictionPolicy returns 300s inactivity, 0.1/min and 600s age.
func DefaultEvictionPolicy() EvictionPolicy {
	return EvictionPolicy{
		InactivityThreshold: defaultInactivityThreshold,
		LowFrequency:        defaultLowFrequency,
		MinAge:              defaultMinAge,
	}
}

func (p EvictionPolicy) eligible(v ModelView, now time.Time) bool {
	idle := now.Sub(v.Usage.LastAccessed)
	age := now.Sub(v.Usage.CreatedAt)
	return idle > p.InactivityThreshold || (v.Usage.FrequencyPerMinute < p.LowFrequency && age > p.MinAge)
}

// SelectCandidates returns the eligible models ordered longest idle first,
// then least frequently used, then largest. At Normal pressure nothing is
// selected.
func (p EvictionPolicy) SelectCandidates(views []ModelView, level pressure.Level, now time.Time) []ModelView {
	if level == pressure.Normal {
		return nil
	}
	var out []ModelView
	for _, v := range views {
		if v.State == StateReady && p.eligible(v, now) {
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		ia, ib := now.Sub(a.Usage.LastAccessed), now.Sub(b.Usage.LastAccessed)
		if ia != ib {
			return ia > ib
		}
		if a.Usage.FrequencyPerMinute != b.Usage.FrequencyPerMinute {
			return a.Usage.FrequencyPerMinute < b.Usage.FrequencyPerMinute
		}
		return a.FootprintMB > b.FootprintMB
	})
	return out
}

// plan drains ordered candidates until the level's byte target is reached.
// Candidates pinned or held by a request are skipped.
func plan(cands []ModelView, level pressure.Level) []ModelView {
	target := pressure.TargetBytes(level)
	var out []ModelView
	var sum uint64
	for _, c := range cands {
		if sum >= target {
			break
		}
		if c.Refs > 0 {
			continue
		}
		out = append(out, c)
		sum += c.FootprintMB << 20
	}
	return out
}

// ReclaimForPressure evicts idle models for the cleanup pipeline. Selection
// and detachment happen under the admission lock so no request can be
// admitted against a model while it is being chosen; native frees run after.
func (m *Manager) ReclaimForPressure(ctx context.Context, level pressure.Level) ([]pressure.ModelInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var victims []*ModelEntry
	m.pool.WithAdmissionLock(func() {
		cands := plan(m.policy.SelectCandidates(m.registry.Views(), level, m.now()), level)
		ids := make([]string, len(cands))
		for i, c := range cands {
			ids[i] = c.ID
		}
		victims = m.registry.detachIdle(ids)
	})
	m.registry.free(victims, "pressure")
	out := make([]pressure.ModelInfo, len(victims))
	for i, e := range victims {
		out[i] = pressure.ModelInfo{ID: e.ID, Name: e.Model.Name, FootprintBytes: e.FootprintMB << 20}
	}
	if len(out) > 0 {
		m.log.Info().Str("level", level.String()).Int("evicted", len(out)).Msg("pressure eviction")
	}
	return out, nil
}

// ResidentModels lists resident models for savings estimates.
func (m *Manager) ResidentModels() []pressure.ModelInfo {
	views := m.registry.Views()
	out := make([]pressure.ModelInfo, len(views))
	for i, v := range views {
		out[i] = pressure.ModelInfo{ID: v.ID, Name: v.Name, FootprintBytes: v.FootprintMB << 20}
	}
	return out
}
