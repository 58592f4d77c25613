package manager

import (
	"fmt"

	"npud/internal/bridge"
	"npud/internal/capability"
	"npud/pkg/types"
)

const maxThermalThresholdC = 110

// Power profiles select the compute units new loads are compiled for.
var powerProfiles = map[string]bridge.ComputeUnits{
	"power_saver": bridge.ComputeCPUAndNeural,
	"balanced":    bridge.ComputeAll,
	"performance": bridge.ComputeAll,
	"realtime":    bridge.ComputeCPUAndGPU,
}

func defaultSettings(snap capability.Snapshot) types.DeviceSettings {
	return types.DeviceSettings{
		Precision:     string(snap.PreferredPrecision()),
		MemoryLimitMB: snap.MaxMemoryMB,
		MaxConcurrent: snap.MaxConcurrentModels,
		PowerProfile:  "balanced",
		ComputeUnits:  string(bridge.ComputeAll),
	}
}

// Settings returns the effective device settings.
func (m *Manager) Settings() types.DeviceSettings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.settings
	if s.Thermal != nil {
		t := *s.Thermal
		s.Thermal = &t
	}
	return s
}

// Configure applies device overrides. Every field is validated against the
// current capability snapshot before anything changes; values above the
// detected maxima are rejected, not clamped.
func (m *Manager) Configure(cfg types.DeviceConfig) (types.DeviceSettings, error) {
	m.configMu.Lock()
	defer m.configMu.Unlock()

	snap := m.caps.Current()
	next := m.Settings()
	if cfg.Precision != nil {
		p, err := capability.ParsePrecision(*cfg.Precision)
		if err != nil {
			return next, invalidConfigError{field: "precision", msg: err.Error()}
		}
		if !snap.Supports(p) {
			return next, invalidConfigError{field: "precision", msg: fmt.Sprintf("%s not supported by device (supports %v)", p, snap.PrecisionStrings())}
		}
		next.Precision = string(p)
	}
	if cfg.MemoryLimitMB != nil {
		v := *cfg.MemoryLimitMB
		if v == 0 || v > snap.MaxMemoryMB {
			return next, invalidConfigError{field: "memory_limit_mb", msg: fmt.Sprintf("must be in [1, %d]", snap.MaxMemoryMB)}
		}
		next.MemoryLimitMB = v
	}
	if cfg.MaxConcurrent != nil {
		v := *cfg.MaxConcurrent
		if v == 0 || v > snap.MaxConcurrentModels {
			return next, invalidConfigError{field: "max_concurrent", msg: fmt.Sprintf("must be in [1, %d]", snap.MaxConcurrentModels)}
		}
		next.MaxConcurrent = v
	}
	if cfg.PowerProfile != nil {
		units, ok := powerProfiles[*cfg.PowerProfile]
		if !ok {
			return next, invalidConfigError{field: "power_profile", msg: fmt.Sprintf("unknown profile %q", *cfg.PowerProfile)}
		}
		next.PowerProfile = *cfg.PowerProfile
		next.ComputeUnits = string(units)
	}
	if cfg.Thermal != nil {
		t := *cfg.Thermal
		if t.MaxTemperatureC <= 0 || t.MaxTemperatureC > maxThermalThresholdC {
			return next, invalidConfigError{field: "thermal.max_temperature_c", msg: fmt.Sprintf("must be in (0, %d]", maxThermalThresholdC)}
		}
		next.Thermal = &t
	}

	if cfg.MemoryLimitMB != nil || cfg.MaxConcurrent != nil {
		if err := m.pool.SetLimits(next.MaxConcurrent, next.MemoryLimitMB); err != nil {
			return m.Settings(), err
		}
		m.registry.SetBudget(next.MemoryLimitMB)
	}

	m.mu.Lock()
	if cfg.MemoryLimitMB != nil {
		m.memOverride = next.MemoryLimitMB
	}
	if cfg.MaxConcurrent != nil {
		m.concOverride = next.MaxConcurrent
	}
	next.RecommendedPrecision = m.settings.RecommendedPrecision
	m.settings = next
	m.mu.Unlock()

	m.log.Info().
		Str("precision", next.Precision).
		Uint64("memory_limit_mb", next.MemoryLimitMB).
		Uint32("max_concurrent", next.MaxConcurrent).
		Str("power_profile", next.PowerProfile).
		Msg("device configured")
	m.publish(Event{Name: "configured", Fields: map[string]any{"precision": next.Precision, "memory_limit_mb": next.MemoryLimitMB, "max_concurrent": next.MaxConcurrent}})
	return m.Settings(), nil
}

// applySnapshot follows a capability refresh. Explicit overrides that are
// still within the new maxima are kept; pool limits never drop below what
// admitted requests already hold.
func (m *Manager) applySnapshot(snap capability.Snapshot) {
	m.configMu.Lock()
	defer m.configMu.Unlock()

	m.mu.Lock()
	mem, conc := snap.MaxMemoryMB, snap.MaxConcurrentModels
	if m.memOverride > 0 && m.memOverride < mem {
		mem = m.memOverride
	}
	if m.concOverride > 0 && m.concOverride < conc {
		conc = m.concOverride
	}
	m.settings.MemoryLimitMB, m.settings.MaxConcurrent = mem, conc
	if p, err := capability.ParsePrecision(m.settings.Precision); err != nil || !snap.Supports(p) {
		m.settings.Precision = string(snap.PreferredPrecision())
	}
	m.mu.Unlock()

	st := m.pool.setLimitsFloor(conc, mem)
	m.registry.SetBudget(mem)
	m.log.Info().Str("snapshot", snap.String()).Uint32("max_concurrent", st.MaxConcurrent).Uint64("max_memory_mb", st.MaxMemoryMB).Msg("capabilities applied")
	m.publish(Event{Name: "capabilities_refreshed", Fields: map[string]any{"source": snap.Source, "max_memory_mb": snap.MaxMemoryMB}})
}
