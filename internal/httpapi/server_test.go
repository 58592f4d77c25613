package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"npud/internal/manager"
	"npud/pkg/types"
)

type mockService struct {
	models    []types.Model
	status    types.ResourceStatus
	ready     bool
	submitErr error
	lastReq   types.InferRequest
	loadErr   error
	unloadErr error
	unloaded  []string
	configErr error
	lastCfg   types.DeviceConfig
	memErr    error
}

func (m *mockService) ListModels() []types.Model    { return append([]types.Model(nil), m.models...) }
func (m *mockService) Status() types.ResourceStatus { return m.status }
func (m *mockService) Ready() bool                  { return m.ready }

func (m *mockService) Submit(ctx context.Context, req types.InferRequest) (types.InferResponse, error) {
	m.lastReq = req
	if m.submitErr != nil {
		return types.InferResponse{}, m.submitErr
	}
	return types.InferResponse{ID: req.ID, Model: "m1", Outputs: req.Inputs, Attempts: 1}, nil
}

func (m *mockService) Load(ctx context.Context, id string) (types.LoadResponse, error) {
	if m.loadErr != nil {
		return types.LoadResponse{}, m.loadErr
	}
	return types.LoadResponse{ModelID: id, State: "ready", FootprintMB: 256}, nil
}

func (m *mockService) Unload(ctx context.Context, id string) error {
	m.unloaded = append(m.unloaded, id)
	return m.unloadErr
}

func (m *mockService) ModelMetrics(id string) (types.ModelMetrics, error) {
	if id != "m1" {
		return types.ModelMetrics{}, manager.ErrModelNotFound(id)
	}
	return types.ModelMetrics{ModelID: id, TotalInferences: 3}, nil
}

func (m *mockService) MemoryStatus(ctx context.Context) (types.MemoryResponse, error) {
	if m.memErr != nil {
		return types.MemoryResponse{}, m.memErr
	}
	return types.MemoryResponse{TotalMB: 16384, Pressure: "normal"}, nil
}

func (m *mockService) Cleanup(ctx context.Context) (types.CleanupResponse, error) {
	return types.CleanupResponse{Pressure: "high", TotalFreedBytes: 42}, nil
}

func (m *mockService) DeviceStatus(ctx context.Context) (types.DeviceStatus, error) {
	return types.DeviceStatus{Available: true, MemoryTotalMB: 2048}, nil
}

func (m *mockService) Capabilities() types.Capabilities {
	return types.Capabilities{MaxMemoryMB: 2048, Generation: "M2"}
}

func (m *mockService) RefreshCapabilities(ctx context.Context) types.Capabilities {
	return types.Capabilities{MaxMemoryMB: 1024, Generation: "M1"}
}

func (m *mockService) Settings() types.DeviceSettings { return types.DeviceSettings{Precision: "fp16"} }

func (m *mockService) Configure(cfg types.DeviceConfig) (types.DeviceSettings, error) {
	m.lastCfg = cfg
	if m.configErr != nil {
		return types.DeviceSettings{}, m.configErr
	}
	return types.DeviceSettings{Precision: *cfg.Precision}, nil
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestModelsHandler(t *testing.T) {
	svc := &mockService{models: []types.Model{{ID: "m1"}, {ID: "m2"}}}
	w := do(t, NewMux(svc), http.MethodGet, "/models", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content-type=%s", ct)
	}
	var body types.ModelsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(body.Models) != 2 {
		t.Fatalf("models len=%d", len(body.Models))
	}
}

func TestStatusHandler(t *testing.T) {
	svc := &mockService{status: types.ResourceStatus{MaxMemoryMB: 10}}
	w := do(t, NewMux(svc), http.MethodGet, "/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var body types.ResourceStatus
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body.MaxMemoryMB != 10 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestReadyz(t *testing.T) {
	w := do(t, NewMux(&mockService{ready: true}), http.MethodGet, "/readyz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestReadyz_NotReady(t *testing.T) {
	w := do(t, NewMux(&mockService{}), http.MethodGet, "/readyz", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestHealthz(t *testing.T) {
	w := do(t, NewMux(&mockService{}), http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("status=%d body=%q", w.Code, w.Body.String())
	}
}

func TestInfer_Success(t *testing.T) {
	svc := &mockService{}
	w := do(t, NewMux(svc), http.MethodPost, "/infer", `{"model":"m1","inputs":[{"name":"x","shape":[2],"data":[1,2]}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var resp types.InferResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(resp.Outputs) != 1 || resp.Outputs[0].Data[1] != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	// the chi request id is used when the client sends none
	if svc.lastReq.ID == "" || resp.ID != svc.lastReq.ID {
		t.Fatalf("request id not propagated: %+v", svc.lastReq)
	}
}

func TestInfer_RequiresJSONContentType(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/infer", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	NewMux(&mockService{}).ServeHTTP(w, req)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestInfer_BadJSON(t *testing.T) {
	for _, body := range []string{`{"inputs":`, `{"prompt":"unknown field"}`} {
		w := do(t, NewMux(&mockService{}), http.MethodPost, "/infer", body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %s: status=%d", body, w.Code)
		}
	}
}

func TestInfer_BodyTooLarge(t *testing.T) {
	SetMaxBodyBytes(16)
	defer SetMaxBodyBytes(0)
	w := do(t, NewMux(&mockService{}), http.MethodPost, "/infer", `{"inputs":[{"name":"x","shape":[1],"data":[1]}]}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestLoadUnloadAndMetrics(t *testing.T) {
	svc := &mockService{}
	h := NewMux(svc)

	w := do(t, h, http.MethodPost, "/models/m1/load", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"footprint_mb":256`) {
		t.Fatalf("load status=%d body=%s", w.Code, w.Body.String())
	}
	w = do(t, h, http.MethodDelete, "/models/m1", "")
	if w.Code != http.StatusNoContent || len(svc.unloaded) != 1 || svc.unloaded[0] != "m1" {
		t.Fatalf("unload status=%d unloaded=%v", w.Code, svc.unloaded)
	}
	w = do(t, h, http.MethodGet, "/models/m1/metrics", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"total_inferences":3`) {
		t.Fatalf("metrics status=%d body=%s", w.Code, w.Body.String())
	}
	w = do(t, h, http.MethodGet, "/models/zzz/metrics", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing metrics status=%d", w.Code)
	}
}

func TestDeviceEndpoints(t *testing.T) {
	h := NewMux(&mockService{})
	cases := map[string]string{
		"GET /device":                `"memory_total_mb":2048`,
		"GET /capabilities":          `"generation":"M2"`,
		"POST /capabilities/refresh": `"generation":"M1"`,
		"GET /config":                `"precision":"fp16"`,
		"GET /memory":                `"pressure":"normal"`,
		"POST /memory/cleanup":       `"total_freed_bytes":42`,
	}
	for route, want := range cases {
		parts := strings.SplitN(route, " ", 2)
		w := do(t, h, parts[0], parts[1], "")
		if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), want) {
			t.Fatalf("%s: status=%d body=%s", route, w.Code, w.Body.String())
		}
	}
}

func TestConfigure(t *testing.T) {
	svc := &mockService{}
	h := NewMux(svc)
	w := do(t, h, http.MethodPut, "/config", `{"precision":"int8","max_concurrent":2}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if svc.lastCfg.MaxConcurrent == nil || *svc.lastCfg.MaxConcurrent != 2 || svc.lastCfg.MemoryLimitMB != nil {
		t.Fatalf("config not decoded: %+v", svc.lastCfg)
	}
}
