package bridge

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"npud/internal/common/fsutil"
	"npud/pkg/types"
)

// SchemaSuffix names the sidecar file SimBridge reads a model schema from.
const SchemaSuffix = ".schema.json"

type simModel struct {
	path        string
	schema      string
	footprintMB uint64
}

// SimBridge simulates the accelerator runtime in-process. Models must exist
// on disk; outputs are zero tensors shaped by the schema sidecar, or the
// inputs echoed back when no sidecar is present.
type SimBridge struct {
	mu      sync.Mutex
	next    Handle
	models  map[Handle]*simModel
	latency time.Duration
	fault   func(op string) error

	compiles atomic.Int64
	loads    atomic.Int64
	frees    atomic.Int64
	predicts atomic.Int64
}

type SimOption func(*SimBridge)

// WithSimLatency makes every Predict take d.
func WithSimLatency(d time.Duration) SimOption {
	return func(b *SimBridge) { b.latency = d }
}

// WithSimFault injects failures; fn is called with the operation name
// ("compile", "load", "predict") and a non-nil result is returned as-is.
func WithSimFault(fn func(op string) error) SimOption {
	return func(b *SimBridge) { b.fault = fn }
}

func NewSimBridge(opts ...SimOption) *SimBridge {
	b := &SimBridge{models: make(map[Handle]*simModel)}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *SimBridge) Name() string { return "sim" }

func (b *SimBridge) injected(op string) error {
	if b.fault == nil {
		return nil
	}
	return b.fault(op)
}

func (b *SimBridge) Compile(modelPath string, _ ComputeUnits) (string, error) {
	b.compiles.Add(1)
	if err := b.injected("compile"); err != nil {
		return "", err
	}
	if _, err := os.Stat(modelPath); err != nil {
		return "", Errorf("compile", CodeInvalidModel, "%v", err)
	}
	return modelPath, nil
}

func (b *SimBridge) Load(compiledPath string, _ ComputeUnits) (Handle, error) {
	b.loads.Add(1)
	if err := b.injected("load"); err != nil {
		return 0, err
	}
	size, err := fsutil.Size(compiledPath)
	if err != nil {
		return 0, Errorf("load", CodeInvalidModel, "%v", err)
	}
	m := &simModel{path: compiledPath, footprintMB: max(1, size>>20)}
	if raw, err := os.ReadFile(compiledPath + SchemaSuffix); err == nil {
		m.schema = string(raw)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	b.models[b.next] = m
	return b.next, nil
}

func (b *SimBridge) Free(h Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.models[h]; ok {
		delete(b.models, h)
		b.frees.Add(1)
	}
}

func (b *SimBridge) lookup(h Handle) (*simModel, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.models[h]
	return m, ok
}

func (b *SimBridge) Schema(h Handle) (string, error) {
	m, ok := b.lookup(h)
	if !ok {
		return "", Errorf("schema", CodeInvalidModel, "unknown handle %d", h)
	}
	if m.schema == "" {
		return "", Errorf("schema", CodeUnsupported, "no schema for %s", filepath.Base(m.path))
	}
	return m.schema, nil
}

func (b *SimBridge) Predict(h Handle, inputJSON string, timeoutMS int) (string, error) {
	b.predicts.Add(1)
	m, ok := b.lookup(h)
	if !ok {
		return "", Errorf("predict", CodeInvalidModel, "unknown handle %d", h)
	}
	if err := b.injected("predict"); err != nil {
		return "", err
	}
	if b.latency > 0 {
		limit := time.Duration(timeoutMS) * time.Millisecond
		if timeoutMS > 0 && b.latency > limit {
			time.Sleep(limit)
			return "", Errorf("predict", CodeTimeout, "exceeded %dms", timeoutMS)
		}
		time.Sleep(b.latency)
	}
	inputs, err := DecodeInputs([]byte(inputJSON))
	if err != nil {
		return "", err
	}
	outputs := inputs
	if m.schema != "" {
		if s, err := ParseSchema(m.schema); err == nil && len(s.Outputs) > 0 {
			outputs = zeroTensors(s.Outputs)
		}
	}
	out, err := EncodeOutputs(nil, outputs)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// FootprintMB reports the on-disk size of the loaded model.
func (b *SimBridge) FootprintMB(h Handle) (uint64, bool) {
	m, ok := b.lookup(h)
	if !ok {
		return 0, false
	}
	return m.footprintMB, true
}

func (b *SimBridge) Reset() error { return nil }

// Loaded returns the number of live handles.
func (b *SimBridge) Loaded() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.models)
}

func (b *SimBridge) Compiles() int64 { return b.compiles.Load() }
func (b *SimBridge) Loads() int64    { return b.loads.Load() }
func (b *SimBridge) Frees() int64    { return b.frees.Load() }
func (b *SimBridge) Predicts() int64 { return b.predicts.Load() }

func zeroTensors(specs []types.TensorSpec) []types.Tensor {
	out := make([]types.Tensor, 0, len(specs))
	for _, s := range specs {
		n := 1
		for _, d := range s.Shape {
			if d > 0 {
				n *= d
			}
		}
		out = append(out, types.Tensor{Name: s.Name, Shape: s.Shape, Data: make([]float32, n)})
	}
	return out
}
