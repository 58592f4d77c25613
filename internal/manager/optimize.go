package manager

import (
	"context"

	"npud/internal/capability"
	"npud/internal/pressure"
)

// AllocationStrategy describes how eagerly new models may be brought in.
type AllocationStrategy string

const (
	StrategyAggressive   AllocationStrategy = "aggressive"
	StrategyBalanced     AllocationStrategy = "balanced"
	StrategyConservative AllocationStrategy = "conservative"
)

// slowLatencyMS is the mean latency above which int8 is recommended.
const slowLatencyMS = 100

// StrategyFor maps host memory use to a strategy: aggressive under 60%,
// balanced under 80%, conservative otherwise.
func StrategyFor(usedPct float64) AllocationStrategy {
	switch {
	case usedPct < 60:
		return StrategyAggressive
	case usedPct < 80:
		return StrategyBalanced
	}
	return StrategyConservative
}

// OptimizeReport summarizes one optimization pass.
type OptimizeReport struct {
	Strategy             AllocationStrategy
	SchemasRecovered     []string
	RecommendedPrecision string
}

// Optimize is the background pass run when memory is not under pressure. It
// retries schema discovery for resident models and recomputes the
// allocation strategy and precision recommendation. Schema queries count as
// uses of the model.
func (m *Manager) Optimize(ctx context.Context, st pressure.Status) OptimizeReport {
	rep := OptimizeReport{Strategy: StrategyFor(st.UsedPercent)}
	for _, v := range m.registry.Views() {
		if v.SchemaKnown || v.State != StateReady {
			continue
		}
		if !m.registry.RecordAccess(v.ID, AccessOther) {
			continue
		}
		if m.registry.RefreshSchema(ctx, v.ID) {
			rep.SchemasRecovered = append(rep.SchemasRecovered, v.ID)
		}
	}

	rec := capability.PrecisionFP16
	if lat, ok := m.perf.meanLatencyMS(); ok && lat > slowLatencyMS {
		rec = capability.PrecisionINT8
	}
	snap := m.caps.Current()
	if !snap.Supports(rec) {
		rec = snap.PreferredPrecision()
	}
	rep.RecommendedPrecision = string(rec)

	m.mu.Lock()
	m.strategy = rep.Strategy
	m.settings.RecommendedPrecision = rep.RecommendedPrecision
	m.mu.Unlock()

	m.log.Debug().
		Str("strategy", string(rep.Strategy)).
		Strs("schemas_recovered", rep.SchemasRecovered).
		Str("recommended_precision", rep.RecommendedPrecision).
		Msg("optimization pass")
	return rep
}
