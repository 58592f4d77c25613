// Package compilecache indexes compiled model artifacts so a reload of an
// unchanged model skips compilation. The index lives in LevelDB; an empty
// directory selects an in-memory store.
package compilecache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"npud/internal/common/fsutil"
)

// Entry is one compiled artifact.
type Entry struct {
	ModelPath    string `json:"model_path"`
	Units        string `json:"units"`
	CompiledPath string `json:"compiled_path"`
	ModelModTime int64  `json:"model_mtime"`
	CreatedUnix  int64  `json:"created_unix"`
}

// Cache is safe for concurrent use.
type Cache struct {
	db *leveldb.DB

	mu    sync.RWMutex
	front map[string]Entry
}

// Open opens (or creates) the index under dir/compile-index.
func Open(dir string) (*Cache, error) {
	var (
		db  *leveldb.DB
		err error
	)
	if dir == "" {
		db, err = leveldb.Open(storage.NewMemStorage(), nil)
	} else {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("compile cache dir: %w", err)
		}
		db, err = leveldb.OpenFile(filepath.Join(dir, "compile-index"), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open compile cache: %w", err)
	}
	return &Cache{db: db, front: make(map[string]Entry)}, nil
}

func key(modelPath, units string) []byte {
	return []byte(modelPath + "\x00" + units)
}

// Lookup returns the compiled path for modelPath if the artifact still exists
// and the model has not changed since it was compiled. Stale entries are
// dropped.
func (c *Cache) Lookup(modelPath, units string) (string, bool) {
	k := key(modelPath, units)
	c.mu.RLock()
	e, ok := c.front[string(k)]
	c.mu.RUnlock()
	if !ok {
		raw, err := c.db.Get(k, nil)
		if err != nil {
			return "", false
		}
		if err := json.Unmarshal(raw, &e); err != nil {
			_ = c.db.Delete(k, nil)
			return "", false
		}
	}
	mt, err := fsutil.ModTimeUnix(modelPath)
	if err != nil || mt != e.ModelModTime || !fsutil.PathExists(e.CompiledPath) {
		_ = c.forgetKey(k)
		return "", false
	}
	if !ok {
		c.mu.Lock()
		c.front[string(k)] = e
		c.mu.Unlock()
	}
	return e.CompiledPath, true
}

// Store records a compiled artifact.
func (c *Cache) Store(modelPath, units, compiledPath string) error {
	mt, err := fsutil.ModTimeUnix(modelPath)
	if err != nil {
		return fmt.Errorf("stat model: %w", err)
	}
	e := Entry{
		ModelPath:    modelPath,
		Units:        units,
		CompiledPath: compiledPath,
		ModelModTime: mt,
		CreatedUnix:  time.Now().Unix(),
	}
	raw, _ := json.Marshal(e)
	k := key(modelPath, units)
	if err := c.db.Put(k, raw, nil); err != nil {
		return fmt.Errorf("writing compile entry %q: %w", modelPath, err)
	}
	c.mu.Lock()
	c.front[string(k)] = e
	c.mu.Unlock()
	return nil
}

func (c *Cache) forgetKey(k []byte) error {
	c.mu.Lock()
	delete(c.front, string(k))
	c.mu.Unlock()
	if err := c.db.Delete(k, nil); err != nil && !errors.Is(err, leveldb.ErrNotFound) {
		return err
	}
	return nil
}

// Forget drops every entry for modelPath.
func (c *Cache) Forget(modelPath string) error {
	iter := c.db.NewIterator(util.BytesPrefix([]byte(modelPath+"\x00")), nil)
	var keys [][]byte
	for iter.Next() {
		keys = append(keys, append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return err
	}
	for _, k := range keys {
		if err := c.forgetKey(k); err != nil {
			return fmt.Errorf("deleting compile entry %q: %w", modelPath, err)
		}
	}
	return nil
}

// Entries lists the index.
func (c *Cache) Entries() ([]Entry, error) {
	iter := c.db.NewIterator(nil, nil)
	defer iter.Release()
	var out []Entry
	for iter.Next() {
		var e Entry
		if err := json.Unmarshal(iter.Value(), &e); err == nil {
			out = append(out, e)
		}
	}
	return out, iter.Error()
}

// Purge clears the index and deletes compiled artifacts that are separate
// from their source model and not reported in use. It returns the bytes
// removed from disk.
func (c *Cache) Purge(inUse func(compiledPath string) bool) (uint64, error) {
	entries, err := c.Entries()
	if err != nil {
		return 0, err
	}
	var freed uint64
	var errs []error
	for _, e := range entries {
		if inUse != nil && inUse(e.CompiledPath) {
			continue
		}
		if e.CompiledPath != e.ModelPath && fsutil.PathExists(e.CompiledPath) {
			n, _ := fsutil.Size(e.CompiledPath)
			if err := os.RemoveAll(e.CompiledPath); err != nil {
				errs = append(errs, err)
				continue
			}
			freed += n
		}
		if err := c.forgetKey(key(e.ModelPath, e.Units)); err != nil {
			errs = append(errs, err)
		}
	}
	return freed, errors.Join(errs...)
}

// Name identifies the cache in cleanup reports.
func (c *Cache) Name() string { return "compile-cache" }

func (c *Cache) Close() error { return c.db.Close() }
