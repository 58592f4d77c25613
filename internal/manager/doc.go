// Package manager coordinates access to the accelerator: which models are
// resident, who may run on it right now, and how a request crosses the native
// bridge. It is structured into small files by concern:
//
//   - manager.go: Manager type, constructor, simple getters, Close.
//   - config.go: ManagerConfig and package defaults; NewWithConfig applies defaults.
//   - types.go: State, UsageStats, ModelEntry and the read-only ModelView.
//   - errors.go: error taxonomy with IsX helpers and HTTP status codes.
//   - pool.go: ResourcePool, the admission gate over concurrency and memory.
//   - registry.go: ModelRegistry, resident entries, pins and coalesced loads.
//   - evict.go: EvictionPolicy and pressure-driven reclaim.
//   - executor.go: Submit, the per-request state machine with retry.
//   - perf.go, metrics.go: per-model EWMA stats and Prometheus collectors.
//   - configure.go, device.go: device overrides, capability refresh, status.
//   - memory.go, optimize.go: host memory view and the idle optimization pass.
//   - unload.go, residency.go: explicit load/unload and warm-start persistence.
//   - status_report.go, sanity.go: /status and readiness reporting.
//
// Lock order is ResourcePool before ModelRegistry. Native calls never run
// under either lock; they go through a bridge.Dispatcher.
package manager
