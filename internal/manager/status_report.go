package manager

import (
	"npud/pkg/types"
)

// Status builds the resource status served at /status.
func (m *Manager) Status() types.ResourceStatus {
	st := m.pool.State()
	views := m.registry.Views()
	now := m.now()
	resp := types.ResourceStatus{
		ActiveModels:        st.ActiveModels,
		MaxConcurrentModels: st.MaxConcurrent,
		UsedMemoryMB:        st.UsedMemoryMB,
		MaxMemoryMB:         st.MaxMemoryMB,
		ResidentMB:          m.registry.ResidentMB(),
		Rejections:          m.pool.Rejections(),
		Instances:           make([]types.InstanceStatus, 0, len(views)),
		EvictionsTotal:      m.registry.Evictions(),
		LoadsTotal:          m.registry.Loads(),
		UptimeSeconds:       int64(now.Sub(m.startTime).Seconds()),
		ServerTimeUnix:      now.Unix(),
		Simulated:           m.simulated,
	}
	for _, v := range views {
		resp.Instances = append(resp.Instances, types.InstanceStatus{
			ModelID:      v.ID,
			State:        string(v.State),
			Architecture: v.Architecture,
			FootprintMB:  v.FootprintMB,
			Inflight:     v.Refs,
			SchemaKnown:  v.SchemaKnown,
			Usage: types.UsageStats{
				AccessCount:              v.Usage.AccessCount,
				InferenceCount:           v.Usage.InferenceCount,
				CreatedAt:                v.Usage.CreatedAt.Unix(),
				LastAccessed:             v.Usage.LastAccessed.Unix(),
				AccessFrequencyPerMinute: v.Usage.FrequencyPerMinute,
			},
		})
	}
	return resp
}

// ModelMetrics returns rolling performance for a catalog model. Models that
// never served a request report zeros.
func (m *Manager) ModelMetrics(modelID string) (types.ModelMetrics, error) {
	if _, ok := m.resolve(modelID); !ok {
		return types.ModelMetrics{}, ErrModelNotFound(modelID)
	}
	mm, _ := m.perf.get(modelID)
	return mm, nil
}
