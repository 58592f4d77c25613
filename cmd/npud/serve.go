package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"npud/internal/bridge"
	"npud/internal/capability"
	"npud/internal/common/fsutil"
	"npud/internal/compilecache"
	"npud/internal/config"
	"npud/internal/httpapi"
	"npud/internal/manager"
	"npud/internal/pressure"
	"npud/internal/registry"
	"npud/pkg/types"
)

type serveOptions struct {
	addr         string
	modelsDir    string
	defaultModel string
	bridge       string
	simulate     bool
	warm         bool
	cors         string
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the resource manager and HTTP API",
		Example: "  npud serve --models-dir ~/models/npu --warm",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			opts.apply(cmd, &cfg)
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.addr, "addr", "", "HTTP listen address, e.g. :8080 (overrides config)")
	f.StringVar(&opts.modelsDir, "models-dir", "", "Directory to scan for models (overrides config)")
	f.StringVar(&opts.defaultModel, "default-model", "", "Default model id when a request omits model")
	f.StringVar(&opts.bridge, "bridge", "auto", "Native bridge: auto|sim|llama")
	f.BoolVar(&opts.simulate, "simulate", false, "Force the simulated bridge")
	f.BoolVar(&opts.warm, "warm", false, "Reload the models resident at last shutdown")
	f.StringVar(&opts.cors, "cors-origins", "", "Comma-separated allowed CORS origins; enables CORS")
	return cmd
}

// apply lets explicitly set flags win over file and environment.
func (o *serveOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("addr") {
		cfg.Server.Addr = o.addr
	}
	if f.Changed("models-dir") {
		cfg.Models.Dir = o.modelsDir
	}
	if f.Changed("default-model") {
		cfg.Models.Default = o.defaultModel
	}
	if f.Changed("simulate") {
		cfg.Device.Simulate = o.simulate
	}
	if f.Changed("cors-origins") {
		cfg.Server.CORSEnabled = true
		cfg.Server.CORSOrigins = splitCSV(o.cors)
	}
}

func runServe(ctx context.Context, cfg config.Config, opts *serveOptions) error {
	log := newLogger(cfg.Log)

	catalog, err := registry.LoadDir(cfg.Models.Dir)
	if err != nil {
		return fmt.Errorf("load models from %s: %w", cfg.Models.Dir, err)
	}
	log.Info().Str("dir", cfg.Models.Dir).Int("models", len(catalog)).Msg("model catalog loaded")

	probe := capability.NewExecProbe()
	caps := capability.NewStore(ctx, probe, log.With().Str("component", "capability").Logger())
	snap := caps.Current()
	log.Info().
		Str("generation", snap.Generation).
		Str("source", snap.Source).
		Uint64("max_memory_mb", snap.MaxMemoryMB).
		Uint32("max_concurrent", snap.MaxConcurrentModels).
		Bool("available", caps.Available()).
		Msg("accelerator detected")

	nb, simulated := chooseBridge(opts.bridge, cfg.Device.Simulate, log)

	cacheDir, err := fsutil.ExpandHome(cfg.State.CompileCacheDir)
	if err != nil {
		return err
	}
	cache, err := compilecache.Open(cacheDir)
	if err != nil {
		return err
	}
	defer cache.Close()

	residency, err := fsutil.ExpandHome(cfg.State.ResidencyFile)
	if err != nil {
		return err
	}
	policy := manager.DefaultEvictionPolicy()
	if cfg.Pressure.InactivitySec > 0 {
		policy.InactivityThreshold = time.Duration(cfg.Pressure.InactivitySec) * time.Second
	}
	mgr := manager.NewWithConfig(manager.ManagerConfig{
		Catalog:            catalog,
		DefaultModel:       cfg.Models.Default,
		Capabilities:       caps,
		Probe:              probe,
		Bridge:             nb,
		Simulated:          simulated,
		CompileCache:       cache,
		DefaultFootprintMB: cfg.Models.DefaultFootprintMB,
		DefaultTimeout:     time.Duration(cfg.Executor.DefaultTimeoutMS) * time.Millisecond,
		MaxAttempts:        cfg.Executor.MaxAttempts,
		BaseBackoff:        time.Duration(cfg.Executor.BaseBackoffMS) * time.Millisecond,
		Workers:            cfg.Executor.Workers,
		QueueDepth:         cfg.Executor.QueueDepth,
		Eviction:           policy,
		ResidencyPath:      residency,
		Publisher:          logPublisher{log: log.With().Str("component", "events").Logger()},
		Log:                log.With().Str("component", "manager").Logger(),
	})
	defer func() {
		if err := mgr.Close(); err != nil {
			log.Warn().Err(err).Msg("manager close")
		}
	}()

	if dc, ok := deviceConfig(cfg.Device); ok {
		if _, err := mgr.Configure(dc); err != nil {
			return fmt.Errorf("device config: %w", err)
		}
	}
	if rep := mgr.SanityCheck(); rep.Error != "" || len(rep.MissingModels) > 0 {
		log.Warn().Str("problem", rep.Error).Strs("missing", rep.MissingModels).Msg("sanity check")
	}

	reader := pressure.NewHostReader()
	pipeline := pressure.NewPipeline(reader, log.With().Str("component", "cleanup").Logger(), mgr.CleanupStages(manager.CleanupOptions{
		Reader:    reader,
		HostPurge: cfg.Pressure.HostCachePurge,
		Estimator: estimator(cfg.Pressure.CompressionRatios),
	})...)
	mon := pressure.NewMonitor(pressure.Config{
		Reader:              reader,
		Interval:            time.Duration(cfg.Pressure.PollIntervalSec) * time.Second,
		CleanupThresholdPct: cfg.Pressure.CleanupThresholdPct,
		ModelMB:             mgr.Registry().ResidentMB,
		Pipeline:            pipeline,
		OnIdle: func(ctx context.Context, st pressure.Status) {
			mgr.Optimize(ctx, st)
		},
		Log: log.With().Str("component", "pressure").Logger(),
	})
	mgr.AttachMonitor(mon)
	go mon.Run(ctx)

	if opts.warm {
		go func() {
			loaded, err := mgr.Warm(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Warn().Err(err).Msg("warm start")
				return
			}
			log.Info().Strs("models", loaded).Msg("warm start done")
		}()
	}

	httpapi.SetLogger(log.With().Str("component", "http").Logger())
	httpapi.SetRequestLogLevel(cfg.Log.Level)
	httpapi.SetMaxBodyBytes(cfg.Server.MaxBodyBytes)
	httpapi.SetRequestTimeoutSeconds(cfg.Server.RequestTimeoutSec)
	httpapi.SetCORSOptions(cfg.Server.CORSEnabled, cfg.Server.CORSOrigins, nil, nil)
	httpapi.SetBaseContext(ctx)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           httpapi.NewMux(mgr),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Str("bridge", bridge.NameOf(nb)).Bool("simulated", simulated).Msg("npud listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown")
	}
	log.Info().Msg("npud stopped")
	return nil
}

// chooseBridge returns the native bridge and whether it is simulated. auto
// uses go-llama.cpp when the binary was built with it.
func chooseBridge(kind string, forceSim bool, log zerolog.Logger) (bridge.NativeBridge, bool) {
	if forceSim || kind == "sim" {
		return bridge.NewSimBridge(), true
	}
	nb, err := bridge.NewLlamaBridge(2048, runtime.NumCPU())
	if err != nil {
		if kind == "llama" {
			log.Warn().Err(err).Msg("llama bridge unavailable; using simulation")
		} else {
			log.Info().Msg("no native bridge built in; using simulation")
		}
		return bridge.NewSimBridge(), true
	}
	return nb, false
}

// deviceConfig converts the file/env device section into a Configure
// request; zero values are left out.
func deviceConfig(d config.DeviceConfig) (types.DeviceConfig, bool) {
	var dc types.DeviceConfig
	set := false
	if d.Precision != "" {
		dc.Precision, set = &d.Precision, true
	}
	if d.MemoryLimitMB > 0 {
		dc.MemoryLimitMB, set = &d.MemoryLimitMB, true
	}
	if d.MaxConcurrent > 0 {
		dc.MaxConcurrent, set = &d.MaxConcurrent, true
	}
	if d.PowerProfile != "" {
		dc.PowerProfile, set = &d.PowerProfile, true
	}
	if d.Thermal.MaxTemperatureC > 0 {
		dc.Thermal, set = &types.ThermalConfig{MaxTemperatureC: d.Thermal.MaxTemperatureC, Throttling: d.Thermal.ThrottlingEnabled}, true
	}
	return dc, set
}

// estimator builds the savings estimator from up to three configured ratios
// for models under 50 MB, under 200 MB and larger.
func estimator(ratios []float64) pressure.SavingsEstimator {
	est := pressure.DefaultRatioEstimator()
	for i, r := range ratios {
		if i < len(est.Tiers) {
			est.Tiers[i].Ratio = r
		}
	}
	return est
}

// logPublisher writes lifecycle events to the log.
type logPublisher struct {
	log zerolog.Logger
}

func (p logPublisher) Publish(e manager.Event) {
	p.log.Debug().Str("event", e.Name).Str("model", e.ModelID).Fields(e.Fields).Time("at", e.At).Msg("event")
}
