package manager

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"npud/internal/scratch"
)

// ResidencyRecord is what is remembered about a resident model across
// restarts.
type ResidencyRecord struct {
	LastAccessedUnix int64  `json:"last_accessed_unix"`
	AccessCount      uint64 `json:"access_count"`
	FootprintMB      uint64 `json:"footprint_mb"`
}

// SaveResidency writes the resident set to the configured path. It is a
// no-op without a path.
func (m *Manager) SaveResidency() error {
	path := m.cfg.ResidencyPath
	if path == "" {
		return nil
	}
	views := m.registry.Views()
	snap := make(map[string]ResidencyRecord, len(views))
	for _, v := range views {
		snap[v.ID] = ResidencyRecord{
			LastAccessedUnix: v.Usage.LastAccessed.Unix(),
			AccessCount:      v.Usage.AccessCount,
			FootprintMB:      v.FootprintMB,
		}
	}
	buf := bytes.NewBuffer(m.scratch.Get(scratch.KindStaging, 64+96*len(snap)))
	defer func() { m.scratch.Put(scratch.KindStaging, buf.Bytes()) }()
	enc := json.NewEncoder(buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("encode residency: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("save residency: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("save residency: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("save residency: %w", err)
	}
	m.log.Debug().Str("path", path).Int("models", len(snap)).Msg("residency saved")
	return nil
}

// LoadResidency reads a residency file. A missing file yields an empty map.
func LoadResidency(path string) (map[string]ResidencyRecord, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]ResidencyRecord{}, nil
	}
	if err != nil {
		return nil, err
	}
	var data map[string]ResidencyRecord
	if err := json.Unmarshal(b, &data); err != nil {
		return nil, fmt.Errorf("decode residency %s: %w", path, err)
	}
	return data, nil
}

// Warm reloads the models that were resident at the last shutdown, most
// recently used first. Unknown ids are skipped; it stops at the first
// memory exhaustion.
func (m *Manager) Warm(ctx context.Context) ([]string, error) {
	if m.cfg.ResidencyPath == "" {
		return nil, nil
	}
	recs, err := LoadResidency(m.cfg.ResidencyPath)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(recs))
	for id := range recs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := recs[ids[i]], recs[ids[j]]
		if a.LastAccessedUnix != b.LastAccessedUnix {
			return a.LastAccessedUnix > b.LastAccessedUnix
		}
		return ids[i] < ids[j]
	})
	var loaded []string
	for _, id := range ids {
		if ctx.Err() != nil {
			return loaded, ctx.Err()
		}
		if _, ok := m.resolve(id); !ok {
			m.log.Debug().Str("model", id).Msg("warm: not in catalog")
			continue
		}
		if _, err := m.Load(ctx, id); err != nil {
			if IsResourceExhausted(err) {
				m.log.Info().Str("model", id).Msg("warm: budget reached")
				break
			}
			m.log.Warn().Err(err).Str("model", id).Msg("warm: load failed")
			continue
		}
		loaded = append(loaded, id)
	}
	m.publish(Event{Name: "warm_done", Fields: map[string]any{"loaded": len(loaded)}})
	return loaded, nil
}
