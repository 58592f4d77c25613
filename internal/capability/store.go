package capability

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

type state struct {
	snapshot     Snapshot
	availability Availability
}

// Store holds the current snapshot and swaps it atomically on re-detection.
// Readers never block.
type Store struct {
	probe HostProbe
	log   zerolog.Logger

	current atomic.Pointer[state]

	mu        sync.Mutex // serializes Refresh and guards listeners
	listeners []func(Snapshot)
}

// NewStore detects once and returns a store holding the result.
func NewStore(ctx context.Context, p HostProbe, log zerolog.Logger) *Store {
	s := &Store{probe: p, log: log}
	s.current.Store(s.detect(ctx))
	return s
}

// NewStaticStore wraps a fixed snapshot. Refresh on a static store keeps the
// snapshot unchanged.
func NewStaticStore(snap Snapshot, available bool) *Store {
	s := &Store{log: zerolog.Nop()}
	s.current.Store(&state{snapshot: snap, availability: Availability{Available: available}})
	return s
}

func (s *Store) detect(ctx context.Context) *state {
	return &state{
		snapshot:     Detect(ctx, s.probe, s.log),
		availability: CheckAvailability(ctx, s.probe),
	}
}

// Current returns the active snapshot.
func (s *Store) Current() Snapshot { return s.current.Load().snapshot }

// Available reports the availability verdict taken with the active snapshot.
func (s *Store) Available() bool { return s.current.Load().availability.Available }

// Availability returns the detailed availability verdict.
func (s *Store) Availability() Availability { return s.current.Load().availability }

// OnChange registers fn to run after every successful swap.
func (s *Store) OnChange(fn func(Snapshot)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Refresh re-detects, swaps the new snapshot in and notifies listeners.
func (s *Store) Refresh(ctx context.Context) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.probe == nil {
		return s.Current()
	}
	next := s.detect(ctx)
	s.current.Store(next)
	for _, fn := range s.listeners {
		fn(next.snapshot)
	}
	return next.snapshot
}
