package pressure

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// CachePurger is an internal cache the cache stage can drop.
type CachePurger interface {
	Name() string
	Purge(ctx context.Context) (uint64, error)
}

type purgerFunc struct {
	name string
	fn   func(ctx context.Context) (uint64, error)
}

func (p purgerFunc) Name() string                              { return p.name }
func (p purgerFunc) Purge(ctx context.Context) (uint64, error) { return p.fn(ctx) }

// PurgerFunc adapts fn into a named CachePurger.
func PurgerFunc(name string, fn func(ctx context.Context) (uint64, error)) CachePurger {
	return purgerFunc{name: name, fn: fn}
}

// CacheStage drops internal caches and, when HostPurge is set, asks the OS to
// purge its file cache. Host savings are measured as the drop in cached
// memory between two readings.
type CacheStage struct {
	Purgers   []CachePurger
	HostPurge func(ctx context.Context) error
	Reader    Reader
}

func (s *CacheStage) Name() string { return "cache" }

func (s *CacheStage) Run(ctx context.Context) Outcome {
	var out Outcome
	var errs []error
	for _, p := range s.Purgers {
		n, err := p.Purge(ctx)
		out.Freed += n
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	if s.HostPurge != nil && s.Reader != nil {
		before, errB := s.Reader.Read(ctx)
		if err := s.HostPurge(ctx); err != nil {
			errs = append(errs, fmt.Errorf("host purge: %w", err))
		} else if after, errA := s.Reader.Read(ctx); errA == nil && errB == nil && before.CacheMB > after.CacheMB {
			out.Freed += (before.CacheMB - after.CacheMB) << 20
		}
	}
	out.Err = errors.Join(errs...)
	return out
}

// DefragStage returns freed Go heap spans to the OS. It frees nothing when the
// heap has no idle spans.
type DefragStage struct{}

func (DefragStage) Name() string { return "defrag" }

func (DefragStage) Run(context.Context) Outcome {
	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	debug.FreeOSMemory()
	runtime.ReadMemStats(&after)
	if after.HeapReleased > before.HeapReleased {
		return Outcome{Freed: after.HeapReleased - before.HeapReleased}
	}
	return Outcome{}
}

// ModelInfo describes a resident model for the model stage.
type ModelInfo struct {
	ID             string
	Name           string
	FootprintBytes uint64
}

// ModelReclaimer evicts models for the model stage. Implementations select
// candidates themselves and must not evict models in use.
type ModelReclaimer interface {
	ReclaimForPressure(ctx context.Context, level Level) ([]ModelInfo, error)
	ResidentModels() []ModelInfo
}

// ModelStage re-reads host pressure, evicts models through the reclaimer and
// reports estimated compression savings for the models that remain.
type ModelStage struct {
	Reclaimer ModelReclaimer
	Reader    Reader
	Estimator SavingsEstimator
	Log       zerolog.Logger
}

func (s *ModelStage) Name() string { return "model" }

func (s *ModelStage) Run(ctx context.Context) Outcome {
	r, err := s.Reader.Read(ctx)
	if err != nil {
		return Outcome{Err: fmt.Errorf("read pressure: %w", err)}
	}
	level := Classify(UsedPercent(r.UsedMB, r.TotalMB))
	var out Outcome
	if level != Normal {
		evicted, err := s.Reclaimer.ReclaimForPressure(ctx, level)
		out.Err = err
		for _, m := range evicted {
			out.Freed += m.FootprintBytes
			out.Evicted = append(out.Evicted, m.ID)
		}
	}
	if s.Estimator != nil {
		for _, m := range s.Reclaimer.ResidentModels() {
			out.Estimated += s.Estimator.EstimateSavings(m)
		}
	}
	s.Log.Debug().Str("level", level.String()).Strs("evicted", out.Evicted).Msg("model stage")
	return out
}

// BufferReclaimer drops buffers idle beyond their staleness window.
type BufferReclaimer interface {
	Reclaim(now time.Time) uint64
}

// BufferStage reclaims stale accelerator-side and host-side scratch buffers.
type BufferStage struct {
	Buffers BufferReclaimer
	Now     func() time.Time
}

func (s *BufferStage) Name() string { return "buffer" }

func (s *BufferStage) Run(context.Context) Outcome {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return Outcome{Freed: s.Buffers.Reclaim(now())}
}
