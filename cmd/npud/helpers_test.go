package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"npud/internal/config"
	"npud/internal/pressure"
	"npud/pkg/types"
)

func TestBaseURL(t *testing.T) {
	cases := map[string]string{
		":8080":          "http://localhost:8080",
		"0.0.0.0:9000":   "http://localhost:9000",
		"127.0.0.1:8080": "http://127.0.0.1:8080",
		"example:80":     "http://example:80",
		"noport":         "http://noport",
	}
	for in, want := range cases {
		if got := baseURL(in); got != want {
			t.Errorf("baseURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDeviceConfigSkipsZeroFields(t *testing.T) {
	if _, ok := deviceConfig(config.DeviceConfig{}); ok {
		t.Fatal("empty device section should produce no request")
	}
	dc, ok := deviceConfig(config.DeviceConfig{
		Precision:    "int8",
		PowerProfile: "realtime",
		Thermal:      config.ThermalConfig{MaxTemperatureC: 80, ThrottlingEnabled: true},
	})
	if !ok {
		t.Fatal("expected a request")
	}
	if dc.Precision == nil || *dc.Precision != "int8" {
		t.Fatalf("precision: %v", dc.Precision)
	}
	if dc.MemoryLimitMB != nil || dc.MaxConcurrent != nil {
		t.Fatal("zero limits must stay unset")
	}
	if dc.Thermal == nil || dc.Thermal.MaxTemperatureC != 80 || !dc.Thermal.Throttling {
		t.Fatalf("thermal: %+v", dc.Thermal)
	}
}

func TestEstimatorOverridesRatios(t *testing.T) {
	est := estimator([]float64{0.5, 0.5, 0.25})
	small := est.EstimateSavings(pressure.ModelInfo{FootprintBytes: 20 << 20})
	if small != 10<<20 {
		t.Fatalf("small model estimate = %d, want %d", small, 10<<20)
	}
	large := est.EstimateSavings(pressure.ModelInfo{FootprintBytes: 1000 << 20})
	if large != 250<<20 {
		t.Fatalf("large model estimate = %d, want %d", large, 250<<20)
	}
	if def := pressure.DefaultRatioEstimator(); def.Tiers[0].Ratio != 0.15 {
		t.Fatal("override leaked into the defaults")
	}
}

func TestFetchAndPrintStatus(t *testing.T) {
	st := types.ResourceStatus{
		ActiveModels:        1,
		MaxConcurrentModels: 4,
		UsedMemoryMB:        256,
		MaxMemoryMB:         1024,
		ResidentMB:          256,
		LoadsTotal:          1,
		Instances: []types.InstanceStatus{{
			ModelID:      "resnet",
			State:        "ready",
			Architecture: "cnn",
			FootprintMB:  256,
			Usage:        types.UsageStats{InferenceCount: 3},
		}},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(st)
	}))
	defer srv.Close()

	got, err := fetchStatus(context.Background(), srv.Client(), srv.URL+"/")
	if err != nil {
		t.Fatalf("fetchStatus: %v", err)
	}
	if len(got.Instances) != 1 || got.Instances[0].ModelID != "resnet" {
		t.Fatalf("unexpected status: %+v", got)
	}

	var buf bytes.Buffer
	printStatus(&buf, got)
	out := buf.String()
	for _, want := range []string{"resnet", "ready", "cnn", "1/4 active"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestFetchStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: "draining"})
	}))
	defer srv.Close()

	_, err := fetchStatus(context.Background(), srv.Client(), srv.URL)
	if err == nil || !strings.Contains(err.Error(), "draining") {
		t.Fatalf("expected draining error, got %v", err)
	}
}
