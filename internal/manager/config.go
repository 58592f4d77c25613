package manager

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"npud/internal/bridge"
	"npud/internal/capability"
	"npud/internal/compilecache"
	"npud/internal/scratch"
	"npud/pkg/types"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultFootprintMB  = 256
	defaultTimeout      = 5 * time.Second
	defaultMaxAttempts  = 3
	defaultBaseBackoff  = 100 * time.Millisecond
	defaultDrainTimeout = 5 * time.Second
	defaultWorkers      = 4
	defaultQueueDepth   = 64
)

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	Catalog      []types.Model
	DefaultModel string

	// Capabilities defaults to a static baseline store marked unavailable.
	Capabilities *capability.Store
	// Probe is used for temperature readings; nil reports the nominal value.
	Probe capability.HostProbe
	// Bridge defaults to a SimBridge; Simulated is then forced on.
	Bridge    bridge.NativeBridge
	Simulated bool

	CompileCache *compilecache.Cache
	Scratch      *scratch.Pool

	DefaultFootprintMB uint64
	DefaultTimeout     time.Duration
	MaxAttempts        int
	BaseBackoff        time.Duration
	DrainTimeout       time.Duration
	Workers            int
	QueueDepth         int
	Eviction           EvictionPolicy

	// ResidencyPath is where resident model ids are saved on Close.
	ResidencyPath string

	Publisher EventPublisher
	Log       zerolog.Logger
	Now       func() time.Time
	// Sleep waits between predict retries; tests replace it to observe
	// backoff without waiting.
	Sleep func(ctx context.Context, d time.Duration) error
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *ManagerConfig) applyDefaults() {
	if c.Capabilities == nil {
		c.Capabilities = capability.NewStaticStore(capability.Baseline(), false)
	}
	if c.Bridge == nil {
		c.Bridge = bridge.NewSimBridge()
		c.Simulated = true
	}
	if c.Scratch == nil {
		c.Scratch = scratch.New()
	}
	if c.DefaultFootprintMB == 0 {
		c.DefaultFootprintMB = defaultFootprintMB
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = defaultTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = defaultBaseBackoff
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = defaultDrainTimeout
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = defaultQueueDepth
	}
	if c.Eviction == (EvictionPolicy{}) {
		c.Eviction = DefaultEvictionPolicy()
	}
	if c.Publisher == nil {
		c.Publisher = noopPublisher{}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Sleep == nil {
		c.Sleep = sleepCtx
	}
}

// NewWithConfig constructs a Manager from ManagerConfig.
func NewWithConfig(cfg ManagerConfig) *Manager {
	cfg.applyDefaults()
	snap := cfg.Capabilities.Current()
	m := &Manager{
		log:          cfg.Log,
		caps:         cfg.Capabilities,
		probe:        cfg.Probe,
		bridge:       cfg.Bridge,
		simulated:    cfg.Simulated,
		dispatcher:   bridge.NewDispatcher(cfg.Workers, cfg.QueueDepth),
		pool:         NewResourcePool(snap.MaxConcurrentModels, snap.MaxMemoryMB),
		policy:       cfg.Eviction,
		perf:         newPerfTracker(),
		scratch:      cfg.Scratch,
		cache:        cfg.CompileCache,
		catalog:      append([]types.Model(nil), cfg.Catalog...),
		defaultModel: cfg.DefaultModel,
		publisher:    cfg.Publisher,
		settings:     defaultSettings(snap),
		strategy:     StrategyBalanced,
		cfg:          cfg,
		now:          cfg.Now,
		startTime:    cfg.Now(),
	}
	m.registry = newModelRegistry(registryConfig{
		Bridge:             cfg.Bridge,
		Dispatcher:         m.dispatcher,
		Cache:              cfg.CompileCache,
		Resolve:            m.resolve,
		Units:              m.computeUnits,
		BudgetMB:           snap.MaxMemoryMB,
		DefaultFootprintMB: cfg.DefaultFootprintMB,
		Log:                cfg.Log.With().Str("component", "registry").Logger(),
		Publish:            m.publish,
		Now:                cfg.Now,
	})
	cfg.Capabilities.OnChange(m.applySnapshot)
	return m
}
