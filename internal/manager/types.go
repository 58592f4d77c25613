package manager

import (
	"time"

	"npud/internal/bridge"
	"npud/pkg/types"
)

// State represents lifecycle state of a resident model.
type State string

const (
	StateLoading  State = "loading"
	StateReady    State = "ready"
	StateDraining State = "draining"
)

// UsageStats is mutated only through ModelRegistry.RecordAccess.
type UsageStats struct {
	AccessCount        uint64
	InferenceCount     uint64
	CreatedAt          time.Time
	LastAccessed       time.Time
	FrequencyPerMinute float64
}

// touch records one use. Frequency is only recomputed once time has passed
// since creation.
func (u *UsageStats) touch(now time.Time, inference bool) {
	u.AccessCount++
	if inference {
		u.InferenceCount++
	}
	u.LastAccessed = now
	if el := now.Sub(u.CreatedAt).Seconds(); el > 0 {
		u.FrequencyPerMinute = float64(u.AccessCount) / el * 60
	}
}

// ModelEntry is a resident model. The handle is released exactly once, by
// whoever detaches the entry from the registry.
type ModelEntry struct {
	ID           string
	Model        types.Model
	CompiledPath string
	// FootprintMB is exact when the bridge reports it, else the default
	// estimate.
	FootprintMB uint64
	Exact       bool
	Schema      types.Schema
	Usage       UsageStats
	State       State

	handle bridge.Handle
	refs   int
}

// ModelView is a copy of an entry safe to hand out.
type ModelView struct {
	ID           string
	Name         string
	Path         string
	Architecture string
	FootprintMB  uint64
	Exact        bool
	SchemaKnown  bool
	Schema       types.Schema
	Usage        UsageStats
	State        State
	Refs         int
}

func (e *ModelEntry) view() ModelView {
	return ModelView{
		ID:           e.ID,
		Name:         e.Model.Name,
		Path:         e.Model.Path,
		Architecture: e.Model.Architecture,
		FootprintMB:  e.FootprintMB,
		Exact:        e.Exact,
		SchemaKnown:  e.Schema.Known,
		Schema:       e.Schema,
		Usage:        e.Usage,
		State:        e.State,
		Refs:         e.refs,
	}
}

// AccessKind distinguishes inference uses from other uses in usage stats.
type AccessKind int

const (
	AccessOther AccessKind = iota
	AccessInference
)
