package manager

import (
	"context"
	"fmt"
	"time"

	"npud/pkg/types"
)

// Load makes a model resident without running inference.
func (m *Manager) Load(ctx context.Context, modelID string) (types.LoadResponse, error) {
	id, err := m.resolveID(modelID)
	if err != nil {
		return types.LoadResponse{}, err
	}
	lease, err := m.registry.EnsureLoaded(ctx, id)
	if err != nil {
		return types.LoadResponse{}, err
	}
	defer lease.Release()
	m.registry.RecordAccess(id, AccessOther)
	return types.LoadResponse{
		ModelID:     id,
		State:       string(StateReady),
		FootprintMB: lease.FootprintMB(),
		Schema:      lease.Schema(),
	}, nil
}

// Unload drains a resident model and frees it.
// - Marks it draining so new requests are refused with a busy error.
// - Waits up to the drain timeout for requests and native calls to let go.
// - Removes it from the registry, which frees the native handle once.
// Unloading a model that is not resident is a no-op.
func (m *Manager) Unload(ctx context.Context, modelID string) error {
	if modelID == "" {
		return ErrModelNotFound("(unspecified)")
	}
	if _, ok := m.resolve(modelID); !ok {
		if _, resident := m.registry.Get(modelID); !resident {
			return ErrModelNotFound(modelID)
		}
	}
	if !m.registry.setState(modelID, StateDraining) {
		return nil
	}
	m.publish(Event{Name: "unload_start", ModelID: modelID, Fields: map[string]any{}})

	deadline := time.Now().Add(m.cfg.DrainTimeout)
	for {
		refs, ok := m.registry.refs(modelID)
		if !ok {
			return nil
		}
		if refs == 0 {
			break
		}
		if time.Now().After(deadline) {
			m.registry.setState(modelID, StateReady)
			m.publish(Event{Name: "unload_timeout", ModelID: modelID, Fields: map[string]any{"inflight": refs}})
			return tooBusyError{modelID: modelID, reason: fmt.Sprintf("%d call(s) still in flight", refs)}
		}
		select {
		case <-ctx.Done():
			m.registry.setState(modelID, StateReady)
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}

	removed, err := m.registry.Remove(modelID)
	if err != nil {
		m.registry.setState(modelID, StateReady)
		return err
	}
	if removed {
		m.publish(Event{Name: "unload_done", ModelID: modelID, Fields: map[string]any{}})
	}
	return nil
}
