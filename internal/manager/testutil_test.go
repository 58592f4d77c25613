package manager

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"npud/internal/bridge"
	"npud/internal/capability"
	"npud/pkg/types"
)

const testSchema = `{"inputs":[{"name":"x","shape":[1,10]}],"outputs":[{"name":"y","shape":[1,10]}]}`

// fakeBridge is a scripted NativeBridge. Predict echoes inputs unless
// predictFn is set.
type fakeBridge struct {
	mu    sync.Mutex
	next  bridge.Handle
	live  map[bridge.Handle]string
	freed map[bridge.Handle]int

	compileDelay time.Duration
	compileErr   error
	loadErr      error
	schema       string
	schemaErr    error
	footprintMB  uint64
	predictFn    func(call int, input string) (string, error)

	compiles atomic.Int64
	loads    atomic.Int64
	predicts atomic.Int64
	resets   atomic.Int64
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{live: make(map[bridge.Handle]string), freed: make(map[bridge.Handle]int)}
}

func (f *fakeBridge) Compile(modelPath string, _ bridge.ComputeUnits) (string, error) {
	f.compiles.Add(1)
	if f.compileDelay > 0 {
		time.Sleep(f.compileDelay)
	}
	if f.compileErr != nil {
		return "", f.compileErr
	}
	return modelPath + ".compiled", nil
}

func (f *fakeBridge) Load(compiledPath string, _ bridge.ComputeUnits) (bridge.Handle, error) {
	f.loads.Add(1)
	if f.loadErr != nil {
		return 0, f.loadErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.live[f.next] = compiledPath
	return f.next, nil
}

func (f *fakeBridge) Free(h bridge.Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.freed[h]++
	delete(f.live, h)
}

func (f *fakeBridge) Schema(bridge.Handle) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.schemaErr != nil {
		return "", f.schemaErr
	}
	if f.schema == "" {
		return "", bridge.Errorf("schema", bridge.CodeUnsupported, "no schema")
	}
	return f.schema, nil
}

func (f *fakeBridge) setSchema(doc string, err error) {
	f.mu.Lock()
	f.schema, f.schemaErr = doc, err
	f.mu.Unlock()
}

func (f *fakeBridge) Predict(_ bridge.Handle, input string, _ int) (string, error) {
	n := f.predicts.Add(1)
	if f.predictFn != nil {
		return f.predictFn(int(n), input)
	}
	in, err := bridge.DecodeInputs([]byte(input))
	if err != nil {
		return "", err
	}
	out, err := bridge.EncodeOutputs(nil, in)
	return string(out), err
}

func (f *fakeBridge) FootprintMB(bridge.Handle) (uint64, bool) {
	if f.footprintMB > 0 {
		return f.footprintMB, true
	}
	return 0, false
}

func (f *fakeBridge) Reset() error {
	f.resets.Add(1)
	return nil
}

// totalFrees counts Free calls and reports whether any handle was freed
// more than once.
func (f *fakeBridge) totalFrees() (n int, double bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.freed {
		n += c
		if c > 1 {
			double = true
		}
	}
	return n, double
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// sleepRecorder replaces the retry sleep and records requested delays.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return nil
}

func (s *sleepRecorder) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func testCatalog(ids ...string) []types.Model {
	out := make([]types.Model, 0, len(ids))
	for _, id := range ids {
		out = append(out, types.Model{ID: id, Name: id, Path: "/models/" + id + ".mlpackage", Format: "mlpackage", Architecture: "cnn"})
	}
	return out
}

// testConfig describes an M2 host (2048 MB, 8 concurrent) with models a, b
// and c.
func testConfig(fb *fakeBridge) ManagerConfig {
	return ManagerConfig{
		Catalog:      testCatalog("a", "b", "c"),
		DefaultModel: "a",
		Capabilities: capability.NewStore(context.Background(), capability.AppleSiliconProbe("M2"), zerolog.Nop()),
		Bridge:       fb,
		DrainTimeout: 200 * time.Millisecond,
		Sleep:        (&sleepRecorder{}).Sleep,
		Log:          zerolog.Nop(),
	}
}

func newTestManager(t *testing.T, cfg ManagerConfig) *Manager {
	t.Helper()
	m := NewWithConfig(cfg)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func zeros(name string, shape ...int) types.Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return types.Tensor{Name: name, Shape: shape, Data: make([]float32, n)}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
