// Package config loads npud settings from a file and the environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the daemon. Zero numeric values in a
// file mean "unspecified"; Default supplies the baseline they overlay.
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server" toml:"server"`
	Models   ModelsConfig   `json:"models" yaml:"models" toml:"models"`
	Device   DeviceConfig   `json:"device" yaml:"device" toml:"device"`
	Pressure PressureConfig `json:"pressure" yaml:"pressure" toml:"pressure"`
	Executor ExecutorConfig `json:"executor" yaml:"executor" toml:"executor"`
	State    StateConfig    `json:"state" yaml:"state" toml:"state"`
	Log      LogConfig      `json:"log" yaml:"log" toml:"log"`
}

type ServerConfig struct {
	Addr              string   `json:"addr" yaml:"addr" toml:"addr" env:"NPUD_ADDR"`
	CORSEnabled       bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled" env:"NPUD_CORS_ENABLED"`
	CORSOrigins       []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins" env:"NPUD_CORS_ORIGINS" env-separator:","`
	MaxBodyBytes      int64    `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes" env:"NPUD_MAX_BODY_BYTES"`
	RequestTimeoutSec int      `json:"request_timeout_sec" yaml:"request_timeout_sec" toml:"request_timeout_sec" env:"NPUD_REQUEST_TIMEOUT_SEC"`
}

type ModelsConfig struct {
	Dir                string `json:"dir" yaml:"dir" toml:"dir" env:"NPUD_MODELS_DIR"`
	Default            string `json:"default" yaml:"default" toml:"default" env:"NPUD_DEFAULT_MODEL"`
	DefaultFootprintMB uint64 `json:"default_footprint_mb" yaml:"default_footprint_mb" toml:"default_footprint_mb" env:"NPUD_DEFAULT_FOOTPRINT_MB"`
}

type DeviceConfig struct {
	// Precision is one of fp16, int8, fp32; empty keeps the detected preference.
	Precision     string `json:"precision" yaml:"precision" toml:"precision" env:"NPUD_PRECISION"`
	MemoryLimitMB uint64 `json:"memory_limit_mb" yaml:"memory_limit_mb" toml:"memory_limit_mb" env:"NPUD_MEMORY_LIMIT_MB"`
	MaxConcurrent uint32 `json:"max_concurrent" yaml:"max_concurrent" toml:"max_concurrent" env:"NPUD_MAX_CONCURRENT"`
	PowerProfile  string `json:"power_profile" yaml:"power_profile" toml:"power_profile" env:"NPUD_POWER_PROFILE"`

	// Simulate forces the in-process bridge even when an accelerator exists.
	Simulate bool          `json:"simulate" yaml:"simulate" toml:"simulate" env:"NPUD_SIMULATE"`
	Thermal  ThermalConfig `json:"thermal" yaml:"thermal" toml:"thermal"`
}

type ThermalConfig struct {
	MaxTemperatureC   float64 `json:"max_temperature_c" yaml:"max_temperature_c" toml:"max_temperature_c" env:"NPUD_MAX_TEMPERATURE_C"`
	ThrottlingEnabled bool    `json:"throttling_enabled" yaml:"throttling_enabled" toml:"throttling_enabled" env:"NPUD_THROTTLING"`
}

type PressureConfig struct {
	PollIntervalSec     int     `json:"poll_interval_sec" yaml:"poll_interval_sec" toml:"poll_interval_sec" env:"NPUD_POLL_INTERVAL_SEC"`
	CleanupThresholdPct float64 `json:"cleanup_threshold_pct" yaml:"cleanup_threshold_pct" toml:"cleanup_threshold_pct" env:"NPUD_CLEANUP_THRESHOLD_PCT"`
	InactivitySec       int     `json:"inactivity_sec" yaml:"inactivity_sec" toml:"inactivity_sec" env:"NPUD_INACTIVITY_SEC"`
	HostCachePurge      bool    `json:"host_cache_purge" yaml:"host_cache_purge" toml:"host_cache_purge" env:"NPUD_HOST_CACHE_PURGE"`

	// CompressionRatios overrides the savings estimate tiers (small, medium,
	// large); empty keeps the defaults.
	CompressionRatios []float64 `json:"compression_ratios" yaml:"compression_ratios" toml:"compression_ratios"`
}

type ExecutorConfig struct {
	DefaultTimeoutMS int `json:"default_timeout_ms" yaml:"default_timeout_ms" toml:"default_timeout_ms" env:"NPUD_DEFAULT_TIMEOUT_MS"`
	MaxAttempts      int `json:"max_attempts" yaml:"max_attempts" toml:"max_attempts" env:"NPUD_MAX_ATTEMPTS"`
	BaseBackoffMS    int `json:"base_backoff_ms" yaml:"base_backoff_ms" toml:"base_backoff_ms" env:"NPUD_BASE_BACKOFF_MS"`
	Workers          int `json:"workers" yaml:"workers" toml:"workers" env:"NPUD_WORKERS"`
	QueueDepth       int `json:"queue_depth" yaml:"queue_depth" toml:"queue_depth" env:"NPUD_QUEUE_DEPTH"`
}

type StateConfig struct {
	ResidencyFile   string `json:"residency_file" yaml:"residency_file" toml:"residency_file" env:"NPUD_RESIDENCY_FILE"`
	CompileCacheDir string `json:"compile_cache_dir" yaml:"compile_cache_dir" toml:"compile_cache_dir" env:"NPUD_COMPILE_CACHE_DIR"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level" toml:"level" env:"NPUD_LOG_LEVEL"`
	Format string `json:"format" yaml:"format" toml:"format" env:"NPUD_LOG_FORMAT"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080", MaxBodyBytes: 1 << 20, RequestTimeoutSec: 30},
		Models: ModelsConfig{Dir: "~/models/npu", DefaultFootprintMB: 256},
		Pressure: PressureConfig{
			PollIntervalSec:     10,
			CleanupThresholdPct: 80,
			InactivitySec:       300,
		},
		Executor: ExecutorConfig{DefaultTimeoutMS: 5000, MaxAttempts: 3, BaseBackoffMS: 100, Workers: 4, QueueDepth: 64},
		State:    StateConfig{ResidencyFile: "~/.npud/residency.json", CompileCacheDir: "~/.npud/compiled"},
		Log:      LogConfig{Level: "info", Format: "auto"},
	}
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	if err := decodeFile(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return yaml.Unmarshal(b, cfg)
	case ".json":
		return json.Unmarshal(b, cfg)
	case ".toml":
		return toml.Unmarshal(b, cfg)
	default:
		return fmt.Errorf("unsupported config extension: %s", ext)
	}
}

// Resolve builds the effective configuration: defaults, then the file at
// path (optional), then NPUD_* environment variables. The result is
// validated.
func Resolve(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("config %s: %w", path, err)
		}
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return cfg, fmt.Errorf("config env: %w", err)
	}
	return cfg, cfg.Validate()
}

var (
	precisions    = map[string]bool{"": true, "fp16": true, "int8": true, "fp32": true}
	powerProfiles = map[string]bool{"": true, "power_saver": true, "balanced": true, "performance": true, "realtime": true}
	logLevels     = map[string]bool{"": true, "trace": true, "debug": true, "info": true, "warn": true, "error": true}
	logFormats    = map[string]bool{"": true, "auto": true, "json": true, "console": true}
)

// Validate rejects negative values and unknown enum strings.
func (c Config) Validate() error {
	var errs []error
	neg := func(name string, v int64) {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	neg("server.max_body_bytes", c.Server.MaxBodyBytes)
	neg("server.request_timeout_sec", int64(c.Server.RequestTimeoutSec))
	neg("pressure.poll_interval_sec", int64(c.Pressure.PollIntervalSec))
	neg("pressure.inactivity_sec", int64(c.Pressure.InactivitySec))
	neg("executor.default_timeout_ms", int64(c.Executor.DefaultTimeoutMS))
	neg("executor.max_attempts", int64(c.Executor.MaxAttempts))
	neg("executor.base_backoff_ms", int64(c.Executor.BaseBackoffMS))
	neg("executor.workers", int64(c.Executor.Workers))
	neg("executor.queue_depth", int64(c.Executor.QueueDepth))

	if p := c.Pressure.CleanupThresholdPct; p < 0 || p > 100 {
		errs = append(errs, fmt.Errorf("pressure.cleanup_threshold_pct %v out of range [0,100]", p))
	}
	if len(c.Pressure.CompressionRatios) > 3 {
		errs = append(errs, errors.New("pressure.compression_ratios takes at most 3 tiers"))
	}
	for _, r := range c.Pressure.CompressionRatios {
		if r < 0 || r > 1 {
			errs = append(errs, fmt.Errorf("pressure.compression_ratios: %v out of range [0,1]", r))
		}
	}
	if t := c.Device.Thermal.MaxTemperatureC; t < 0 || t > 110 {
		errs = append(errs, fmt.Errorf("device.thermal.max_temperature_c %v out of range (0,110]", t))
	}
	if !precisions[strings.ToLower(c.Device.Precision)] {
		errs = append(errs, fmt.Errorf("device.precision %q unknown", c.Device.Precision))
	}
	if !powerProfiles[strings.ToLower(c.Device.PowerProfile)] {
		errs = append(errs, fmt.Errorf("device.power_profile %q unknown", c.Device.PowerProfile))
	}
	if !logLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Errorf("log.level %q unknown", c.Log.Level))
	}
	if !logFormats[strings.ToLower(c.Log.Format)] {
		errs = append(errs, fmt.Errorf("log.format %q unknown", c.Log.Format))
	}
	return errors.Join(errs...)
}
