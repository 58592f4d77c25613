package manager

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"npud/internal/bridge"
	"npud/internal/capability"
	"npud/internal/compilecache"
	"npud/internal/pressure"
	"npud/internal/scratch"
	"npud/pkg/types"
)

type Manager struct {
	log        zerolog.Logger
	caps       *capability.Store
	probe      capability.HostProbe
	bridge     bridge.NativeBridge
	simulated  bool
	dispatcher *bridge.Dispatcher
	pool       *ResourcePool
	registry   *ModelRegistry
	policy     EvictionPolicy
	perf       *perfTracker
	scratch    *scratch.Pool
	cache      *compilecache.Cache
	cfg        ManagerConfig

	mu           sync.RWMutex
	catalog      []types.Model
	defaultModel string
	publisher    EventPublisher
	monitor      *pressure.Monitor
	settings     types.DeviceSettings
	// explicit configure overrides survive capability refreshes
	memOverride  uint64
	concOverride uint32
	strategy     AllocationStrategy

	configMu  sync.Mutex
	closeOnce sync.Once
	now       func() time.Time
	startTime time.Time
}

// New builds a manager over a catalog with a simulated bridge and baseline
// capabilities.
func New(catalog []types.Model, defaultModel string) *Manager {
	return NewWithConfig(ManagerConfig{Catalog: catalog, DefaultModel: defaultModel})
}

// Ready reports whether requests can be served: the catalog is non-empty and
// either the device is available or the simulated bridge is in use.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	n := len(m.catalog)
	m.mu.RUnlock()
	if n == 0 {
		return false
	}
	return m.simulated || m.caps.Available()
}

func (m *Manager) ListModels() []types.Model {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Model, len(m.catalog))
	copy(out, m.catalog)
	return out
}

// SetCatalog replaces the model catalog. Resident models stay loaded.
func (m *Manager) SetCatalog(models []types.Model, defaultModel string) {
	m.mu.Lock()
	m.catalog = append([]types.Model(nil), models...)
	if defaultModel != "" {
		m.defaultModel = defaultModel
	}
	m.mu.Unlock()
}

// SetEventPublisher swaps the event sink; nil restores the no-op sink.
func (m *Manager) SetEventPublisher(p EventPublisher) {
	if p == nil {
		p = noopPublisher{}
	}
	m.mu.Lock()
	m.publisher = p
	m.mu.Unlock()
}

func (m *Manager) publish(e Event) {
	if e.At.IsZero() {
		e.At = m.now()
	}
	m.mu.RLock()
	p := m.publisher
	m.mu.RUnlock()
	p.Publish(e)
}

func (m *Manager) resolve(id string) (types.Model, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, mdl := range m.catalog {
		if mdl.ID == id {
			return mdl, true
		}
	}
	return types.Model{}, false
}

// resolveID maps an empty id to the default model.
func (m *Manager) resolveID(id string) (string, error) {
	if id == "" {
		m.mu.RLock()
		id = m.defaultModel
		m.mu.RUnlock()
		if id == "" {
			return "", ErrValidation("no model specified and no default model configured")
		}
	}
	if _, ok := m.resolve(id); !ok {
		return "", ErrModelNotFound(id)
	}
	return id, nil
}

func (m *Manager) computeUnits() bridge.ComputeUnits {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return bridge.ComputeUnits(m.settings.ComputeUnits)
}

// Registry exposes the model registry for read-only inspection.
func (m *Manager) Registry() *ModelRegistry { return m.registry }

// Pool exposes the admission pool.
func (m *Manager) Pool() *ResourcePool { return m.pool }

// Scratch returns the marshalling buffer pool reclaimed by the buffer stage.
func (m *Manager) Scratch() *scratch.Pool { return m.scratch }

// CapabilityStore returns the snapshot store.
func (m *Manager) CapabilityStore() *capability.Store { return m.caps }

// Simulated reports whether the simulated bridge is in use.
func (m *Manager) Simulated() bool { return m.simulated }

// Close persists residency, waits for dispatched native calls and frees
// every resident model. It is safe to call more than once.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		err = m.SaveResidency()
		m.dispatcher.Close()
		n := m.registry.closeAll()
		m.log.Info().Int("freed", n).Msg("manager closed")
	})
	return err
}
