package manager

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"npud/internal/bridge"
	"npud/internal/compilecache"
	"npud/pkg/types"
)

type registryConfig struct {
	Bridge             bridge.NativeBridge
	Dispatcher         *bridge.Dispatcher
	Cache              *compilecache.Cache
	Resolve            func(id string) (types.Model, bool)
	Units              func() bridge.ComputeUnits
	BudgetMB           uint64
	DefaultFootprintMB uint64
	Log                zerolog.Logger
	Publish            func(Event)
	Now                func() time.Time
}

// ModelRegistry owns resident models and their native handles. Entries are
// pinned while a request or a dispatched native call uses them, and held by
// id from admission until the request finishes; only entries that are
// neither pinned nor held are ever detached.
type ModelRegistry struct {
	cfg registryConfig

	mu         sync.RWMutex
	entries    map[string]*ModelEntry
	loading    map[string]time.Time
	holds      map[string]int
	residentMB uint64
	reservedMB uint64
	budgetMB   uint64

	sf        singleflight.Group
	loads     atomic.Uint64
	evictions atomic.Uint64
}

func newModelRegistry(cfg registryConfig) *ModelRegistry {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Units == nil {
		cfg.Units = func() bridge.ComputeUnits { return bridge.ComputeAll }
	}
	if cfg.Publish == nil {
		cfg.Publish = func(Event) {}
	}
	return &ModelRegistry{
		cfg:      cfg,
		entries:  make(map[string]*ModelEntry),
		loading:  make(map[string]time.Time),
		holds:    make(map[string]int),
		budgetMB: cfg.BudgetMB,
	}
}

// Lease keeps an entry pinned until Release.
type Lease struct {
	r     *ModelRegistry
	entry *ModelEntry
	once  sync.Once
}

func (l *Lease) ID() string            { return l.entry.ID }
func (l *Lease) Handle() bridge.Handle { return l.entry.handle }
func (l *Lease) FootprintMB() uint64   { return l.entry.FootprintMB }

// Schema returns the entry's current schema.
func (l *Lease) Schema() types.Schema {
	l.r.mu.RLock()
	defer l.r.mu.RUnlock()
	return l.entry.Schema
}

// Pin takes an extra reference for a dispatched native call. The returned
// func drops it and is safe to call more than once.
func (l *Lease) Pin() func() {
	l.r.mu.Lock()
	l.entry.refs++
	l.r.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { l.r.unpin(l.entry) }) }
}

// Release drops the lease's reference.
func (l *Lease) Release() {
	l.once.Do(func() { l.r.unpin(l.entry) })
}

// hold marks id as wanted by an admitted request. A held id is never
// detached, whether or not it is resident yet. Callers that admit through
// the pool take the hold inside the admission critical section.
func (r *ModelRegistry) hold(id string) {
	r.mu.Lock()
	r.holds[id]++
	r.mu.Unlock()
}

func (r *ModelRegistry) unhold(id string) {
	r.mu.Lock()
	if r.holds[id] <= 1 {
		delete(r.holds, id)
	} else {
		r.holds[id]--
	}
	r.mu.Unlock()
}

// idleLocked reports whether e may be detached.
func (r *ModelRegistry) idleLocked(e *ModelEntry) bool {
	return e.refs == 0 && r.holds[e.ID] == 0
}

func (r *ModelRegistry) viewLocked(e *ModelEntry) ModelView {
	v := e.view()
	v.Refs += r.holds[e.ID]
	return v
}

func (r *ModelRegistry) unpin(e *ModelEntry) {
	r.mu.Lock()
	if e.refs > 0 {
		e.refs--
	}
	r.mu.Unlock()
}

// Get returns a copy of the entry for id.
func (r *ModelRegistry) Get(id string) (ModelView, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return ModelView{}, false
	}
	return r.viewLocked(e), true
}

// FootprintMB returns the accounted footprint of a resident model, or the
// default estimate when id is not resident.
func (r *ModelRegistry) FootprintMB(id string) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[id]; ok {
		return e.FootprintMB
	}
	return r.cfg.DefaultFootprintMB
}

// EnsureLoaded returns a pinned lease on id, compiling and loading it first
// when absent. Concurrent callers for the same id share one load. A caller
// that gives up waiting does not cancel the shared load. id is held for the
// whole call, so a finished load cannot be evicted before it is pinned.
func (r *ModelRegistry) EnsureLoaded(ctx context.Context, id string) (*Lease, error) {
	r.hold(id)
	defer r.unhold(id)

	l, err := r.pin(id)
	if err != nil || l != nil {
		return l, err
	}
	ch := r.sf.DoChan(id, func() (any, error) { return nil, r.load(id) })
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	l, err = r.pin(id)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, loadFailedError{modelID: id, err: errNotResident}
	}
	return l, nil
}

func (r *ModelRegistry) pin(id string) (*Lease, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, nil
	}
	if e.State == StateDraining {
		return nil, tooBusyError{modelID: id, reason: "unloading"}
	}
	e.refs++
	return &Lease{r: r, entry: e}, nil
}

func (r *ModelRegistry) load(id string) error {
	start := r.cfg.Now()
	r.mu.RLock()
	_, resident := r.entries[id]
	r.mu.RUnlock()
	if resident {
		return nil
	}
	mdl, ok := r.cfg.Resolve(id)
	if !ok {
		r.cfg.Publish(Event{Name: "ensure_model_not_found", ModelID: id, Fields: map[string]any{}})
		return ErrModelNotFound(id)
	}
	log := r.cfg.Log.With().Str("model", id).Logger()
	log.Info().Str("path", mdl.Path).Msg("ensure start")
	r.cfg.Publish(Event{Name: "ensure_start", ModelID: id, Fields: map[string]any{}})

	est := r.cfg.DefaultFootprintMB
	if err := r.reserve(id, est); err != nil {
		log.Warn().Err(err).Msg("ensure budget fail")
		r.cfg.Publish(Event{Name: "ensure_budget_fail", ModelID: id, Fields: map[string]any{"error": err.Error()}})
		return err
	}
	committed := false
	defer func() {
		if !committed {
			r.mu.Lock()
			r.reservedMB = subSat(r.reservedMB, est)
			delete(r.loading, id)
			r.mu.Unlock()
		}
	}()

	// The load is shared by every waiter, so it runs to completion even if
	// they all give up.
	ctx := context.Background()
	units := r.cfg.Units()
	compiled, hit := "", false
	if r.cfg.Cache != nil {
		compiled, hit = r.cfg.Cache.Lookup(mdl.Path, string(units))
	}
	if !hit {
		var err error
		compiled, err = bridge.Call(ctx, r.cfg.Dispatcher, func() (string, error) {
			return r.cfg.Bridge.Compile(mdl.Path, units)
		}, nil)
		if err != nil {
			log.Error().Err(err).Msg("compile failed")
			r.cfg.Publish(Event{Name: "ensure_compile_error", ModelID: id, Fields: map[string]any{"error": err.Error()}})
			return compilationFailedError{modelID: id, err: err}
		}
		if r.cfg.Cache != nil {
			if err := r.cfg.Cache.Store(mdl.Path, string(units), compiled); err != nil {
				log.Debug().Err(err).Msg("compile cache store failed")
			}
		}
	}
	h, err := bridge.Call(ctx, r.cfg.Dispatcher, func() (bridge.Handle, error) {
		return r.cfg.Bridge.Load(compiled, units)
	}, nil)
	if err != nil {
		log.Error().Err(err).Msg("load failed")
		r.cfg.Publish(Event{Name: "ensure_load_error", ModelID: id, Fields: map[string]any{"error": err.Error()}})
		return loadFailedError{modelID: id, err: err}
	}
	schema := r.querySchema(ctx, h, log)

	fp, exact := est, false
	if fr, ok := r.cfg.Bridge.(bridge.FootprintReporter); ok {
		if mb, ok := fr.FootprintMB(h); ok && mb > 0 {
			fp, exact = mb, true
		}
	}

	now := r.cfg.Now()
	r.mu.Lock()
	r.reservedMB = subSat(r.reservedMB, est)
	delete(r.loading, id)
	r.residentMB += fp
	r.entries[id] = &ModelEntry{
		ID:           id,
		Model:        mdl,
		CompiledPath: compiled,
		FootprintMB:  fp,
		Exact:        exact,
		Schema:       schema,
		Usage:        UsageStats{CreatedAt: now, LastAccessed: now},
		State:        StateReady,
		handle:       h,
	}
	r.mu.Unlock()
	committed = true
	r.loads.Add(1)
	residentModels.Inc()
	loadsTotal.WithLabelValues(boolLabel(hit)).Inc()

	dur := r.cfg.Now().Sub(start)
	log.Info().Uint64("footprint_mb", fp).Bool("compile_cache_hit", hit).Bool("schema_known", schema.Known).Dur("took", dur).Msg("ensure ready")
	r.cfg.Publish(Event{Name: "ensure_ready", ModelID: id, Fields: map[string]any{"dur_ms": int(dur / time.Millisecond), "footprint_mb": fp}})
	return nil
}

// querySchema is advisory: any failure degrades to an unknown schema.
func (r *ModelRegistry) querySchema(ctx context.Context, h bridge.Handle, log zerolog.Logger) types.Schema {
	doc, err := bridge.Call(ctx, r.cfg.Dispatcher, func() (string, error) { return r.cfg.Bridge.Schema(h) }, nil)
	if err != nil {
		log.Debug().Err(err).Msg("schema unavailable")
		return types.Schema{}
	}
	s, err := bridge.ParseSchema(doc)
	if err != nil {
		log.Debug().Err(err).Msg("schema unparsable")
		return types.Schema{}
	}
	return s
}

// RefreshSchema retries schema discovery for a resident model with an
// unknown schema. It reports whether the schema became known.
func (r *ModelRegistry) RefreshSchema(ctx context.Context, id string) bool {
	l, err := r.pin(id)
	if err != nil || l == nil {
		return false
	}
	defer l.Release()
	if l.Schema().Known {
		return true
	}
	unpin := l.Pin()
	doc, err := bridge.Call(ctx, r.cfg.Dispatcher, func() (string, error) { return r.cfg.Bridge.Schema(l.Handle()) }, unpin)
	if err != nil {
		return false
	}
	s, err := bridge.ParseSchema(doc)
	if err != nil {
		return false
	}
	r.mu.Lock()
	l.entry.Schema = s
	r.mu.Unlock()
	return true
}

// reserve sets aside mb of the residency budget, evicting least recently
// used unpinned models until it fits.
func (r *ModelRegistry) reserve(id string, mb uint64) error {
	var victims []*ModelEntry
	r.mu.Lock()
	r.loading[id] = r.cfg.Now()
	for r.budgetMB > 0 && r.residentMB+r.reservedMB+mb > r.budgetMB {
		v := r.lruIdleLocked()
		if v == nil {
			break
		}
		r.detachLocked(v)
		victims = append(victims, v)
	}
	fits := r.budgetMB == 0 || r.residentMB+r.reservedMB+mb <= r.budgetMB
	var err error
	if fits {
		r.reservedMB += mb
	} else {
		delete(r.loading, id)
		err = resourceExhaustedError{kind: ExhaustedMemory, requestedMB: mb, usedMB: r.residentMB + r.reservedMB, limitMB: r.budgetMB}
	}
	r.mu.Unlock()
	r.free(victims, "budget")
	return err
}

func (r *ModelRegistry) lruIdleLocked() *ModelEntry {
	var lru *ModelEntry
	for _, e := range r.entries {
		if !r.idleLocked(e) || e.State != StateReady {
			continue
		}
		if lru == nil || e.Usage.LastAccessed.Before(lru.Usage.LastAccessed) {
			lru = e
		}
	}
	return lru
}

func (r *ModelRegistry) detachLocked(e *ModelEntry) {
	delete(r.entries, e.ID)
	r.residentMB = subSat(r.residentMB, e.FootprintMB)
}

// free releases native handles of detached entries. Each entry reaches free
// exactly once because only the goroutine that detached it holds it.
func (r *ModelRegistry) free(victims []*ModelEntry, reason string) {
	for _, e := range victims {
		h := e.handle
		err := r.cfg.Dispatcher.Do(context.Background(), func() error {
			r.cfg.Bridge.Free(h)
			return nil
		}, nil)
		if errors.Is(err, bridge.ErrDispatcherClosed) {
			r.cfg.Bridge.Free(h)
		}
		r.evictions.Add(1)
		residentModels.Dec()
		evictionsTotal.WithLabelValues(reason).Inc()
		r.cfg.Log.Info().Str("model", e.ID).Str("reason", reason).Uint64("footprint_mb", e.FootprintMB).Msg("model freed")
		r.cfg.Publish(Event{Name: "evicted", ModelID: e.ID, Fields: map[string]any{"reason": reason}})
	}
}

// RecordAccess updates usage stats. It must be called on every use of a
// model, background passes included. It reports whether id is resident.
func (r *ModelRegistry) RecordAccess(id string, kind AccessKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	e.Usage.touch(r.cfg.Now(), kind == AccessInference)
	return true
}

// Remove detaches id and frees its handle. It fails with a busy error while
// the entry is pinned and reports false when id is not resident.
func (r *ModelRegistry) Remove(id string) (bool, error) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return false, nil
	}
	if !r.idleLocked(e) {
		r.mu.Unlock()
		return false, tooBusyError{modelID: id, reason: "in use"}
	}
	r.detachLocked(e)
	r.mu.Unlock()
	r.free([]*ModelEntry{e}, "unload")
	return true, nil
}

// detachIdle detaches the ready entries among ids that are neither pinned
// nor held. The caller frees them.
func (r *ModelRegistry) detachIdle(ids []string) []*ModelEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*ModelEntry
	for _, id := range ids {
		e, ok := r.entries[id]
		if !ok || !r.idleLocked(e) || e.State != StateReady {
			continue
		}
		r.detachLocked(e)
		out = append(out, e)
	}
	return out
}

// setState flips the lifecycle state of a resident entry.
func (r *ModelRegistry) setState(id string, s State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if ok {
		e.State = s
	}
	return ok
}

func (r *ModelRegistry) refs(id string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return 0, false
	}
	return e.refs + r.holds[id], true
}

// Views returns copies of all entries sorted by id.
func (r *ModelRegistry) Views() []ModelView {
	r.mu.RLock()
	out := make([]ModelView, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, r.viewLocked(e))
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Loading returns ids with a load in progress.
func (r *ModelRegistry) Loading() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.loading))
	for id := range r.loading {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ResidentMB is the accounted footprint of all resident models.
func (r *ModelRegistry) ResidentMB() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.residentMB
}

// SetBudget changes the residency budget; 0 disables it.
func (r *ModelRegistry) SetBudget(mb uint64) {
	r.mu.Lock()
	r.budgetMB = mb
	r.mu.Unlock()
}

// InUse reports whether a resident model was loaded from compiledPath.
func (r *ModelRegistry) InUse(compiledPath string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.CompiledPath == compiledPath {
			return true
		}
	}
	return false
}

func (r *ModelRegistry) Loads() uint64     { return r.loads.Load() }
func (r *ModelRegistry) Evictions() uint64 { return r.evictions.Load() }

func subSat(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// closeAll frees every entry regardless of pins. Only valid after the
// dispatcher has drained.
func (r *ModelRegistry) closeAll() int {
	r.mu.Lock()
	victims := make([]*ModelEntry, 0, len(r.entries))
	for _, e := range r.entries {
		r.detachLocked(e)
		victims = append(victims, e)
	}
	r.mu.Unlock()
	r.free(victims, "shutdown")
	return len(victims)
}
