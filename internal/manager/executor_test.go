package manager

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"npud/internal/bridge"
	"npud/pkg/types"
)

func TestSubmit_RoundTripZeros(t *testing.T) {
	fb := newFakeBridge()
	fb.schema = testSchema
	fb.predictFn = func(_ int, _ string) (string, error) {
		out, err := bridge.EncodeOutputs(nil, []types.Tensor{zeros("y", 1, 10)})
		return string(out), err
	}
	m := newTestManager(t, testConfig(fb))

	resp, err := m.Submit(context.Background(), types.InferRequest{Model: "a", Inputs: []types.Tensor{zeros("x", 1, 10)}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !resp.Schema.Known {
		t.Fatalf("schema should be known")
	}
	if len(resp.Outputs) != 1 {
		t.Fatalf("outputs = %d", len(resp.Outputs))
	}
	if diff := cmp.Diff(resp.Schema.Outputs[0].Shape, resp.Outputs[0].Shape); diff != "" {
		t.Fatalf("output shape differs from schema (-schema +got):\n%s", diff)
	}
	if resp.Attempts != 1 || resp.ID == "" || len(resp.Warnings) != 0 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if st := m.pool.State(); st.ActiveModels != 0 || st.UsedMemoryMB != 0 {
		t.Fatalf("slot not released: %+v", st)
	}
}

func TestSubmit_ReusesScratchBuffers(t *testing.T) {
	fb := newFakeBridge()
	fb.predictFn = func(_ int, _ string) (string, error) {
		out, err := bridge.EncodeOutputs(nil, []types.Tensor{zeros("y", 1, 64)})
		return string(out), err
	}
	m := newTestManager(t, testConfig(fb))
	req := types.InferRequest{Model: "a", Inputs: []types.Tensor{zeros("x", 1, 64)}}

	if _, err := m.Submit(context.Background(), req); err != nil {
		t.Fatalf("submit: %v", err)
	}
	first := m.Scratch().Stats()
	if first["input"] == 0 || first["output"] == 0 {
		t.Fatalf("buffers not returned: %v", first)
	}
	if _, err := m.Submit(context.Background(), req); err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if diff := cmp.Diff(first, m.Scratch().Stats()); diff != "" {
		t.Fatalf("retained bytes grew on reuse (-first +second):\n%s", diff)
	}
}

func TestSubmit_UnknownSchemaEchoes(t *testing.T) {
	fb := newFakeBridge()
	fb.schemaErr = bridge.Errorf("schema", bridge.CodeInternal, "boom")
	m := newTestManager(t, testConfig(fb))

	resp, err := m.Submit(context.Background(), types.InferRequest{Inputs: []types.Tensor{zeros("x", 1, 10)}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if resp.Schema.Known {
		t.Fatalf("schema should be unknown")
	}
	if resp.Model != "a" || len(resp.Outputs) != 1 || len(resp.Outputs[0].Data) != 10 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestSubmit_RetryBound(t *testing.T) {
	fb := newFakeBridge()
	fb.predictFn = func(int, string) (string, error) {
		return "", bridge.Errorf("predict", bridge.CodeBusy, "device busy")
	}
	rec := &sleepRecorder{}
	cfg := testConfig(fb)
	cfg.Sleep = rec.Sleep
	m := newTestManager(t, cfg)

	_, err := m.Submit(context.Background(), types.InferRequest{Inputs: []types.Tensor{zeros("x", 10)}})
	if !IsPredictionFailed(err) || !Recoverable(err) {
		t.Fatalf("want recoverable prediction failure, got %v", err)
	}
	if Attempts(err) != 3 || fb.predicts.Load() != 3 {
		t.Fatalf("attempts=%d predicts=%d, want 3", Attempts(err), fb.predicts.Load())
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if diff := cmp.Diff(want, rec.Delays()); diff != "" {
		t.Fatalf("backoff (-want +got):\n%s", diff)
	}
	if fb.resets.Load() != 2 {
		t.Fatalf("resets = %d, want 2", fb.resets.Load())
	}
}

func TestSubmit_RecoversOnRetry(t *testing.T) {
	fb := newFakeBridge()
	fb.predictFn = func(call int, input string) (string, error) {
		if call == 1 {
			return "", bridge.Errorf("predict", bridge.CodeTransient, "hiccup")
		}
		return `{"outputs":[{"name":"y","shape":[1],"data":[1]}]}`, nil
	}
	m := newTestManager(t, testConfig(fb))
	resp, err := m.Submit(context.Background(), types.InferRequest{Inputs: []types.Tensor{zeros("x", 10)}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if resp.Attempts != 2 {
		t.Fatalf("attempts = %d", resp.Attempts)
	}
}

func TestSubmit_FatalErrorNotRetried(t *testing.T) {
	fb := newFakeBridge()
	fb.predictFn = func(int, string) (string, error) {
		return "", bridge.Errorf("predict", bridge.CodeInvalidInput, "bad rank")
	}
	m := newTestManager(t, testConfig(fb))
	_, err := m.Submit(context.Background(), types.InferRequest{Inputs: []types.Tensor{zeros("x", 10)}})
	if !IsPredictionFailed(err) || Recoverable(err) || Attempts(err) != 1 {
		t.Fatalf("want one fatal attempt, got %v (attempts %d)", err, Attempts(err))
	}
	mm, _ := m.ModelMetrics("a")
	if mm.TotalInferences != 1 || mm.ErrorCount != 1 {
		t.Fatalf("metrics not recorded on failure: %+v", mm)
	}
}

func TestSubmit_Validation(t *testing.T) {
	fb := newFakeBridge()
	m := newTestManager(t, testConfig(fb))
	nan := zeros("x", 4)
	nan.Data[2] = float32(math.NaN())
	inf := zeros("x", 4)
	inf.Data[0] = float32(math.Inf(-1))
	cases := map[string][]types.Tensor{
		"none":     nil,
		"empty":    {{Name: "x", Shape: []int{0}}},
		"nan":      {nan},
		"inf":      {inf},
		"mismatch": {{Name: "x", Shape: []int{2, 3}, Data: make([]float32, 5)}},
	}
	for name, inputs := range cases {
		_, err := m.Submit(context.Background(), types.InferRequest{Inputs: inputs})
		if !IsValidationFailed(err) {
			t.Fatalf("%s: want validation error, got %v", name, err)
		}
	}
	if fb.predicts.Load() != 0 {
		t.Fatalf("bridge called for invalid input")
	}
	if st := m.pool.State(); st.ActiveModels != 0 {
		t.Fatalf("slots leaked: %+v", st)
	}
}

func TestSubmit_UnknownModel(t *testing.T) {
	m := newTestManager(t, testConfig(newFakeBridge()))
	_, err := m.Submit(context.Background(), types.InferRequest{Model: "nope", Inputs: []types.Tensor{zeros("x", 1)}})
	if !IsModelNotFound(err) {
		t.Fatalf("want not found, got %v", err)
	}
}

func TestSubmit_OutputWarnings(t *testing.T) {
	fb := newFakeBridge()
	fb.predictFn = func(int, string) (string, error) {
		return `{"outputs":[{"name":"y","shape":[3],"data":[1,"NaN",null]}]}`, nil
	}
	m := newTestManager(t, testConfig(fb))
	resp, err := m.Submit(context.Background(), types.InferRequest{Inputs: []types.Tensor{zeros("x", 3)}})
	if err != nil {
		t.Fatalf("non-finite outputs must not fail: %v", err)
	}
	if len(resp.Warnings) != 1 {
		t.Fatalf("warnings = %v", resp.Warnings)
	}
}

func TestSubmit_NoOutputsFails(t *testing.T) {
	fb := newFakeBridge()
	fb.predictFn = func(int, string) (string, error) { return `{"outputs":[]}`, nil }
	m := newTestManager(t, testConfig(fb))
	_, err := m.Submit(context.Background(), types.InferRequest{Inputs: []types.Tensor{zeros("x", 3)}})
	if !IsPredictionFailed(err) || Recoverable(err) {
		t.Fatalf("want fatal prediction failure, got %v", err)
	}
}

func TestSubmit_TimeoutKeepsHandlePinned(t *testing.T) {
	fb := newFakeBridge()
	release := make(chan struct{})
	fb.predictFn = func(int, string) (string, error) {
		<-release
		return `{"outputs":[{"name":"y","shape":[1],"data":[0]}]}`, nil
	}
	cfg := testConfig(fb)
	cfg.DrainTimeout = 50 * time.Millisecond
	m := newTestManager(t, cfg)
	ctx := context.Background()

	_, err := m.Submit(ctx, types.InferRequest{Inputs: []types.Tensor{zeros("x", 1)}, TimeoutMS: 20})
	if !IsTimeout(err) {
		t.Fatalf("want timeout, got %v", err)
	}
	if st := m.pool.State(); st.ActiveModels != 0 {
		t.Fatalf("slot held after timeout: %+v", st)
	}
	if refs, _ := m.registry.refs("a"); refs != 1 {
		t.Fatalf("abandoned call should keep one pin, refs=%d", refs)
	}
	if err := m.Unload(ctx, "a"); !IsTooBusy(err) {
		t.Fatalf("unload during abandoned call: want busy, got %v", err)
	}
	if n, _ := fb.totalFrees(); n != 0 {
		t.Fatalf("handle freed while native call in flight")
	}

	close(release)
	waitFor(t, "pin release", func() bool {
		refs, _ := m.registry.refs("a")
		return refs == 0
	})
	if err := m.Unload(ctx, "a"); err != nil {
		t.Fatalf("unload: %v", err)
	}
	if n, double := fb.totalFrees(); n != 1 || double {
		t.Fatalf("frees=%d double=%v", n, double)
	}
}

func TestSubmit_ConcurrencyExhausted(t *testing.T) {
	fb := newFakeBridge()
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	fb.predictFn = func(int, string) (string, error) {
		started <- struct{}{}
		<-release
		return `{"outputs":[{"name":"y","shape":[1],"data":[0]}]}`, nil
	}
	m := newTestManager(t, testConfig(fb))
	one := uint32(1)
	if _, err := m.Configure(types.DeviceConfig{MaxConcurrent: &one}); err != nil {
		t.Fatalf("configure: %v", err)
	}
	done := make(chan error, 1)
	go func() {
		_, err := m.Submit(context.Background(), types.InferRequest{Inputs: []types.Tensor{zeros("x", 1)}})
		done <- err
	}()
	<-started

	_, err := m.Submit(context.Background(), types.InferRequest{Inputs: []types.Tensor{zeros("x", 1)}})
	if k, ok := ExhaustedKindOf(err); !ok || k != ExhaustedConcurrency {
		t.Fatalf("want concurrency exhaustion, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if st := m.pool.State(); st.ActiveModels != 0 {
		t.Fatalf("slot leaked: %+v", st)
	}
}
