package compilecache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixture(t *testing.T) (model, compiled string) {
	t.Helper()
	dir := t.TempDir()
	model = filepath.Join(dir, "m.mlmodel")
	compiled = filepath.Join(dir, "m.mlmodelc")
	require.NoError(t, os.WriteFile(model, []byte("spec"), 0o644))
	require.NoError(t, os.MkdirAll(compiled, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(compiled, "weights.bin"), make([]byte, 4096), 0o644))
	return model, compiled
}

func TestCache_StoreLookup(t *testing.T) {
	c, err := Open("")
	require.NoError(t, err)
	defer c.Close()
	model, compiled := fixture(t)

	_, ok := c.Lookup(model, "all")
	assert.False(t, ok)

	require.NoError(t, c.Store(model, "all", compiled))
	got, ok := c.Lookup(model, "all")
	require.True(t, ok)
	assert.Equal(t, compiled, got)

	_, ok = c.Lookup(model, "cpu_and_ne")
	assert.False(t, ok, "entries are per compute-unit selection")
}

func TestCache_StaleWhenModelChanges(t *testing.T) {
	c, err := Open("")
	require.NoError(t, err)
	defer c.Close()
	model, compiled := fixture(t)
	require.NoError(t, c.Store(model, "all", compiled))

	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(model, later, later))
	_, ok := c.Lookup(model, "all")
	assert.False(t, ok)

	entries, err := c.Entries()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCache_PersistsAcrossOpen(t *testing.T) {
	dir := t.TempDir()
	model, compiled := fixture(t)
	c, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, c.Store(model, "all", compiled))
	require.NoError(t, c.Close())

	c, err = Open(dir)
	require.NoError(t, err)
	defer c.Close()
	got, ok := c.Lookup(model, "all")
	require.True(t, ok)
	assert.Equal(t, compiled, got)
}

func TestCache_PurgeSkipsInUseAndSources(t *testing.T) {
	c, err := Open("")
	require.NoError(t, err)
	defer c.Close()
	model, compiled := fixture(t)
	other, _ := fixture(t)

	require.NoError(t, c.Store(model, "all", compiled))
	require.NoError(t, c.Store(other, "all", other))

	freed, err := c.Purge(func(string) bool { return false })
	require.NoError(t, err)
	assert.Equal(t, uint64(4096), freed)
	assert.NoDirExists(t, compiled)
	assert.FileExists(t, other, "a model that is its own artifact is never deleted")

	require.NoError(t, c.Store(model, "all", model))
	freed, err = c.Purge(func(string) bool { return true })
	require.NoError(t, err)
	assert.Zero(t, freed)
	_, ok := c.Lookup(model, "all")
	assert.True(t, ok)
}

func TestCache_Forget(t *testing.T) {
	c, err := Open("")
	require.NoError(t, err)
	defer c.Close()
	model, compiled := fixture(t)
	require.NoError(t, c.Store(model, "all", compiled))
	require.NoError(t, c.Store(model, "cpu_and_ne", compiled))
	require.NoError(t, c.Forget(model))
	entries, err := c.Entries()
	require.NoError(t, err)
	assert.Empty(t, entries)
}
