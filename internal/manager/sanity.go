package manager

import (
	"os"

	"npud/internal/bridge"
)

// SanityReport describes readiness of the accelerator and model catalog.
type SanityReport struct {
	DeviceAvailable bool     `json:"device_available"`
	Simulated       bool     `json:"simulated"`
	Bridge          string   `json:"bridge"`
	Models          int      `json:"models"`
	MissingModels   []string `json:"missing_models,omitempty"`
	Error           string   `json:"error,omitempty"`
}

// SanityCheck verifies that catalog artifacts still exist on disk. It does
// not mutate state and is safe to call at any time.
func (m *Manager) SanityCheck() SanityReport {
	r := SanityReport{
		DeviceAvailable: m.caps.Available(),
		Simulated:       m.simulated,
		Bridge:          bridge.NameOf(m.bridge),
	}
	for _, mdl := range m.ListModels() {
		r.Models++
		if _, err := os.Stat(mdl.Path); err != nil {
			r.MissingModels = append(r.MissingModels, mdl.ID)
		}
	}
	switch {
	case r.Models == 0:
		r.Error = "model catalog is empty"
	case !r.DeviceAvailable && !r.Simulated:
		r.Error = "no accelerator detected"
	}
	return r
}
