package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"npud/internal/bridge"
	"npud/internal/capability"
	"npud/internal/httpapi"
	"npud/internal/manager"
	"npud/internal/registry"
)

// createTempModelsDir writes small model files and returns the directory.
func createTempModelsDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		p := filepath.Join(dir, n)
		if err := os.WriteFile(p, bytes.Repeat([]byte{1}, 1024), 0o644); err != nil {
			t.Fatalf("write temp model %s: %v", p, err)
		}
	}
	return dir
}

// newServerForDir wires the scanner, a simulated M2 device and the HTTP API
// the way the serve command does.
func newServerForDir(t *testing.T, dir string, mutate func(*manager.ManagerConfig)) (*httptest.Server, *manager.Manager, *bridge.SimBridge) {
	t.Helper()
	catalog, err := registry.LoadDir(dir)
	if err != nil {
		t.Fatalf("scan models: %v", err)
	}
	sim := bridge.NewSimBridge()
	cfg := manager.ManagerConfig{
		Catalog:      catalog,
		Capabilities: capability.NewStore(context.Background(), capability.AppleSiliconProbe("M2"), zerolog.Nop()),
		Bridge:       sim,
		Simulated:    true,
		Log:          zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	mgr := manager.NewWithConfig(cfg)
	srv := httptest.NewServer(httpapi.NewMux(mgr))
	t.Cleanup(func() {
		srv.Close()
		_ = mgr.Close()
	})
	return srv, mgr, sim
}

// call sends a JSON request and decodes a JSON response into out when out is
// non-nil. It returns the status code.
func call(t *testing.T, srv *httptest.Server, method, path string, body any, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, srv.URL+path, rd)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode
}
