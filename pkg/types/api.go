package types

// InferRequest represents an inference request payload.
type InferRequest struct {
	// Optional request identifier; generated by the server when empty.
	// example: 5b0f1f2e-2d4c-4a53-9d59-7f5c3a1f7c10
	ID string `json:"id,omitempty" example:"5b0f1f2e-2d4c-4a53-9d59-7f5c3a1f7c10"`
	// Optional model identifier. If empty, the server default is used.
	// example: mobilenet-v3
	Model string `json:"model,omitempty" example:"mobilenet-v3"`
	// Input tensors. Each must be non-empty and contain only finite values.
	Inputs []Tensor `json:"inputs"`
	// Per-call bridge timeout in milliseconds; 0 uses the server default.
	// example: 5000
	TimeoutMS int `json:"timeout_ms,omitempty" example:"5000"`
}

// InferResponse is returned by POST /infer.
type InferResponse struct {
	// example: 5b0f1f2e-2d4c-4a53-9d59-7f5c3a1f7c10
	ID string `json:"id" example:"5b0f1f2e-2d4c-4a53-9d59-7f5c3a1f7c10"`
	// example: mobilenet-v3
	Model   string   `json:"model" example:"mobilenet-v3"`
	Outputs []Tensor `json:"outputs"`
	// Schema reported by the bridge for the model (known=false when unavailable).
	Schema Schema `json:"schema"`
	// Number of bridge predict attempts made.
	// example: 1
	Attempts int `json:"attempts" example:"1"`
	// Wall time spent in the executor in milliseconds.
	// example: 12.5
	LatencyMS float64 `json:"latency_ms" example:"12.5"`
	// Non-fatal findings such as non-finite output values.
	Warnings []string `json:"warnings,omitempty"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	// List of available models.
	Models []Model `json:"models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
	// Machine-readable error kind when known.
	// example: resource_exhausted
	Kind string `json:"kind,omitempty" example:"resource_exhausted"`
}

// UsageStats mirrors the registry usage counters of a resident model.
type UsageStats struct {
	// example: 42
	AccessCount uint64 `json:"access_count" example:"42"`
	// example: 40
	InferenceCount uint64 `json:"inference_count" example:"40"`
	// example: 1700000000
	CreatedAt int64 `json:"created_at_unix" example:"1700000000"`
	// example: 1700000300
	LastAccessed int64 `json:"last_accessed_unix" example:"1700000300"`
	// example: 8.4
	AccessFrequencyPerMinute float64 `json:"access_frequency_per_minute" example:"8.4"`
}

// InstanceStatus summarizes a resident model for /status.
type InstanceStatus struct {
	// ID of the resident model.
	// example: mobilenet-v3
	ModelID string `json:"model_id" example:"mobilenet-v3"`
	// Lifecycle state (loading, ready, draining).
	// example: ready
	State string `json:"state" example:"ready"`
	// example: cnn
	Architecture string `json:"architecture" example:"cnn"`
	// Accounted accelerator memory in MB.
	// example: 256
	FootprintMB uint64 `json:"footprint_mb" example:"256"`
	// Requests and bridge calls currently holding the model.
	// example: 1
	Inflight int `json:"inflight" example:"1"`
	// example: true
	SchemaKnown bool       `json:"schema_known" example:"true"`
	Usage       UsageStats `json:"usage"`
}

// ResourceStatus is returned by GET /status.
type ResourceStatus struct {
	// Requests currently holding an admission slot.
	// example: 2
	ActiveModels uint32 `json:"active_models" example:"2"`
	// example: 8
	MaxConcurrentModels uint32 `json:"max_concurrent_models" example:"8"`
	// Memory held by admission slots in MB.
	// example: 512
	UsedMemoryMB uint64 `json:"used_memory_mb" example:"512"`
	// example: 2048
	MaxMemoryMB uint64 `json:"max_memory_mb" example:"2048"`
	// Accelerator memory accounted to resident models in MB.
	// example: 768
	ResidentMB uint64 `json:"resident_mb" example:"768"`
	// Admission rejections by kind since start.
	Rejections map[string]uint64 `json:"rejections"`
	// Resident models.
	Instances []InstanceStatus `json:"instances"`
	// example: 5
	EvictionsTotal uint64 `json:"evictions_total" example:"5"`
	// example: 12
	LoadsTotal uint64 `json:"loads_total" example:"12"`
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// True when no accelerator was detected and the simulated bridge is in use.
	// example: false
	Simulated bool `json:"simulated" example:"false"`
}

// StageResult reports one cleanup stage.
type StageResult struct {
	// example: cache
	Stage string `json:"stage" example:"cache"`
	// example: 10485760
	FreedBytes uint64 `json:"freed_bytes" example:"10485760"`
	// Speculative savings reported by the estimator; not included in totals.
	// example: 0
	EstimatedBytes uint64 `json:"estimated_bytes,omitempty" example:"0"`
	// True when the stage estimate exceeded host memory and was clamped.
	Clamped bool   `json:"clamped,omitempty"`
	Error   string `json:"error,omitempty"`
}

// CleanupResponse describes one cleanup pipeline run.
type CleanupResponse struct {
	Stages []StageResult `json:"stages"`
	// example: 52428800
	TotalFreedBytes uint64 `json:"total_freed_bytes" example:"52428800"`
	// example: high
	Pressure string `json:"pressure" example:"high"`
	// example: 1700000000
	StartedUnix int64 `json:"started_unix" example:"1700000000"`
	// example: 35
	DurationMS int64 `json:"duration_ms" example:"35"`
	// Models removed by the model stage.
	Evicted []string `json:"evicted,omitempty"`
}

// MemoryResponse is returned by GET /memory.
type MemoryResponse struct {
	// example: 16384
	TotalMB uint64 `json:"total_mb" example:"16384"`
	// example: 12000
	UsedMB uint64 `json:"used_mb" example:"12000"`
	// example: 4384
	AvailableMB uint64 `json:"available_mb" example:"4384"`
	// example: 2048
	CacheMB uint64 `json:"cache_mb" example:"2048"`
	// example: 768
	ModelMB uint64 `json:"model_mb" example:"768"`
	// example: 73.2
	UsedPercent float64 `json:"used_percent" example:"73.2"`
	// example: warning
	Pressure string `json:"pressure" example:"warning"`
	// example: 1700000000
	Timestamp int64 `json:"timestamp_unix" example:"1700000000"`
	// example: true
	NeedsCleanup bool `json:"needs_cleanup" example:"true"`
	// aggressive, balanced or conservative.
	// example: balanced
	AllocationStrategy string `json:"allocation_strategy" example:"balanced"`
	// Fraction of Go heap spans that are idle (0..1).
	// example: 0.12
	Fragmentation float64 `json:"fragmentation" example:"0.12"`
	// Accesses served per resident MB.
	// example: 1.7
	CacheEfficiency float64 `json:"cache_efficiency" example:"1.7"`
	// example: false
	LeakSuspected bool `json:"leak_suspected" example:"false"`
	// Pooled scratch buffer bytes by kind.
	ScratchBytes map[string]uint64 `json:"scratch_bytes,omitempty"`
	LastCleanup  *CleanupResponse  `json:"last_cleanup,omitempty"`
}

// ThermalConfig carries thermal management overrides.
type ThermalConfig struct {
	// example: 85
	MaxTemperatureC float64 `json:"max_temperature_c" example:"85"`
	// example: true
	Throttling bool `json:"throttling" example:"true"`
}

// DeviceConfig is accepted by PUT /config. Nil fields are left unchanged.
type DeviceConfig struct {
	// fp16, int8 or fp32; must be supported by the detected device.
	// example: fp16
	Precision *string `json:"precision,omitempty" example:"fp16"`
	// Must not exceed the detected device memory.
	// example: 1024
	MemoryLimitMB *uint64 `json:"memory_limit_mb,omitempty" example:"1024"`
	// Must not exceed the detected concurrency limit.
	// example: 4
	MaxConcurrent *uint32 `json:"max_concurrent,omitempty" example:"4"`
	// power_saver, balanced, performance or realtime.
	// example: balanced
	PowerProfile *string       `json:"power_profile,omitempty" example:"balanced"`
	Thermal      *ThermalConfig `json:"thermal,omitempty"`
}

// DeviceSettings is the effective device configuration.
type DeviceSettings struct {
	// example: fp16
	Precision string `json:"precision" example:"fp16"`
	// example: 1024
	MemoryLimitMB uint64 `json:"memory_limit_mb" example:"1024"`
	// example: 4
	MaxConcurrent uint32 `json:"max_concurrent" example:"4"`
	// example: balanced
	PowerProfile string `json:"power_profile" example:"balanced"`
	// example: all
	ComputeUnits string         `json:"compute_units" example:"all"`
	Thermal      *ThermalConfig `json:"thermal,omitempty"`
	// Precision suggested by the last optimization pass.
	// example: fp16
	RecommendedPrecision string `json:"recommended_precision,omitempty" example:"fp16"`
}

// Capabilities is returned by GET /capabilities.
type Capabilities struct {
	// example: 2048
	MaxMemoryMB uint64 `json:"max_memory_mb" example:"2048"`
	// example: 8
	MaxConcurrentModels uint32 `json:"max_concurrent_models" example:"8"`
	// example: ["fp16","int8","fp32"]
	SupportedPrecisions []string `json:"supported_precisions" example:"fp16,int8,fp32"`
	// example: 16
	ComputeUnits uint32 `json:"compute_units" example:"16"`
	// example: M2
	Generation string `json:"generation,omitempty" example:"M2"`
	// Probe that produced the snapshot.
	// example: cpu-brand
	Source string `json:"source" example:"cpu-brand"`
	// example: true
	Available bool `json:"available" example:"true"`
	// example: 1700000000
	DetectedAt int64 `json:"detected_at_unix" example:"1700000000"`
}

// DeviceStatus is returned by GET /device.
type DeviceStatus struct {
	// example: true
	Available bool `json:"available" example:"true"`
	// example: 768
	MemoryUsedMB uint64 `json:"memory_used_mb" example:"768"`
	// example: 2048
	MemoryTotalMB uint64 `json:"memory_total_mb" example:"2048"`
	// example: 1
	ActiveModels uint32 `json:"active_models" example:"1"`
	// example: 8
	MaxConcurrentModels uint32 `json:"max_concurrent_models" example:"8"`
	// example: 45
	TemperatureC float64 `json:"temperature_c" example:"45"`
	// example: 2.6
	PowerWatts float64        `json:"power_watts" example:"2.6"`
	Settings   DeviceSettings `json:"settings"`
}

// ModelMetrics is returned by GET /models/{id}/metrics.
type ModelMetrics struct {
	// example: mobilenet-v3
	ModelID string `json:"model_id" example:"mobilenet-v3"`
	// example: 120
	TotalInferences uint64 `json:"total_inferences" example:"120"`
	// example: 2
	ErrorCount uint64 `json:"error_count" example:"2"`
	// example: 9.3
	AverageLatencyMS float64 `json:"average_latency_ms" example:"9.3"`
	// example: 104.2
	ThroughputPerSec float64 `json:"throughput_per_sec" example:"104.2"`
	// example: 256
	PeakMemoryMB uint64 `json:"peak_memory_mb" example:"256"`
	// example: 1700000300
	LastInference int64 `json:"last_inference_unix,omitempty" example:"1700000300"`
}

// LoadResponse is returned by POST /models/{id}/load.
type LoadResponse struct {
	// example: mobilenet-v3
	ModelID string `json:"model_id" example:"mobilenet-v3"`
	// example: ready
	State string `json:"state" example:"ready"`
	// example: 256
	FootprintMB uint64 `json:"footprint_mb" example:"256"`
	Schema      Schema `json:"schema"`
}
