package manager

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"npud/internal/pressure"
)

func attachStaticMonitor(t *testing.T, m *Manager, usedMB uint64) *pressure.StaticReader {
	t.Helper()
	reader := pressure.NewStaticReader(pressure.Reading{TotalMB: 16384, UsedMB: usedMB, AvailableMB: 16384 - usedMB, CacheMB: 1024})
	pipe := pressure.NewPipeline(reader, zerolog.Nop(), m.CleanupStages(CleanupOptions{Reader: reader, Estimator: pressure.DefaultRatioEstimator()})...)
	mon := pressure.NewMonitor(pressure.Config{Reader: reader, Pipeline: pipe, ModelMB: m.registry.ResidentMB, Log: zerolog.Nop()})
	m.AttachMonitor(mon)
	return reader
}

func TestMemoryStatus_NoMonitor(t *testing.T) {
	m := newTestManager(t, testConfig(newFakeBridge()))
	if _, err := m.MemoryStatus(context.Background()); err == nil {
		t.Fatalf("expected error without monitor")
	}
	if _, err := m.Cleanup(context.Background()); err == nil {
		t.Fatalf("expected error without monitor")
	}
}

func TestCleanup_EvictsIdleModelsUnderPressure(t *testing.T) {
	clk := newFakeClock()
	fb := newFakeBridge()
	cfg := testConfig(fb)
	cfg.Now = clk.Now
	m := newTestManager(t, cfg)
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		if _, err := m.Load(ctx, id); err != nil {
			t.Fatalf("load %s: %v", id, err)
		}
	}
	attachStaticMonitor(t, m, 15000)
	clk.Advance(11 * time.Minute)

	st, err := m.MemoryStatus(ctx)
	if err != nil {
		t.Fatalf("memory status: %v", err)
	}
	if st.Pressure != "critical" || !st.NeedsCleanup || st.LeakSuspected || st.ModelMB != 512 {
		t.Fatalf("status = %+v", st)
	}

	res, err := m.Cleanup(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if len(res.Stages) != 4 {
		t.Fatalf("stages = %+v", res.Stages)
	}
	var model *struct{ freed, est uint64 }
	for _, s := range res.Stages {
		if s.Stage == "model" {
			model = &struct{ freed, est uint64 }{s.FreedBytes, s.EstimatedBytes}
		}
	}
	if model == nil || model.freed != 256<<20 {
		t.Fatalf("model stage = %+v", model)
	}
	// the remaining 256 MB model is estimated at the 35% tier
	ratio := 0.35
	if want := uint64(float64(256<<20) * ratio); model.est != want {
		t.Fatalf("estimated = %d, want %d", model.est, want)
	}
	if len(res.Evicted) != 1 || res.Evicted[0] != "a" {
		t.Fatalf("evicted = %v", res.Evicted)
	}
	if n, _ := fb.totalFrees(); n != 1 {
		t.Fatalf("frees = %d", n)
	}

	st, _ = m.MemoryStatus(ctx)
	if st.LastCleanup == nil || st.LastCleanup.Pressure != "critical" {
		t.Fatalf("last cleanup not reported: %+v", st.LastCleanup)
	}
}

func TestCleanup_NormalPressureKeepsModels(t *testing.T) {
	clk := newFakeClock()
	cfg := testConfig(newFakeBridge())
	cfg.Now = clk.Now
	m := newTestManager(t, cfg)
	if _, err := m.Load(context.Background(), "a"); err != nil {
		t.Fatalf("load: %v", err)
	}
	attachStaticMonitor(t, m, 4000)
	clk.Advance(time.Hour)
	res, err := m.Cleanup(context.Background())
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if len(res.Evicted) != 0 {
		t.Fatalf("evicted at normal pressure: %v", res.Evicted)
	}
}
