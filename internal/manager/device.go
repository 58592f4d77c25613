package manager

import (
	"context"

	"npud/internal/capability"
	"npud/pkg/types"
)

// Capabilities renders the active snapshot.
func (m *Manager) Capabilities() types.Capabilities {
	snap := m.caps.Current()
	c := types.Capabilities{
		MaxMemoryMB:         snap.MaxMemoryMB,
		MaxConcurrentModels: snap.MaxConcurrentModels,
		SupportedPrecisions: snap.PrecisionStrings(),
		ComputeUnits:        snap.ComputeUnits,
		Generation:          snap.Generation,
		Source:              snap.Source,
		Available:           m.caps.Available(),
	}
	if !snap.DetectedAt.IsZero() {
		c.DetectedAt = snap.DetectedAt.Unix()
	}
	return c
}

// RefreshCapabilities re-detects the device and applies the new limits.
func (m *Manager) RefreshCapabilities(ctx context.Context) types.Capabilities {
	m.caps.Refresh(ctx)
	return m.Capabilities()
}

// DeviceStatus reports accelerator occupancy with temperature and power
// estimates.
func (m *Manager) DeviceStatus(ctx context.Context) (types.DeviceStatus, error) {
	snap := m.caps.Current()
	st := m.pool.State()
	used := m.registry.ResidentMB()
	temp := 45.0
	if m.probe != nil {
		temp = capability.Temperature(ctx, m.probe)
	}
	ds := types.DeviceStatus{
		Available:           m.caps.Available(),
		MemoryUsedMB:        used,
		MemoryTotalMB:       st.MaxMemoryMB,
		ActiveModels:        st.ActiveModels,
		MaxConcurrentModels: st.MaxConcurrent,
		TemperatureC:        temp,
		PowerWatts:          capability.EstimatePower(used, snap),
		Settings:            m.Settings(),
	}
	if !ds.Available && !m.simulated {
		return ds, ErrDeviceUnavailable("no accelerator detected")
	}
	return ds, nil
}
