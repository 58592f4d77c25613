package manager

import (
	"sync"
)

// PoolState is a consistent snapshot of the admission counters.
type PoolState struct {
	ActiveModels  uint32
	UsedMemoryMB  uint64
	MaxConcurrent uint32
	MaxMemoryMB   uint64
}

// ResourcePool is the single admission gate. Each admitted request holds one
// concurrency slot and its model's memory estimate until it finishes.
type ResourcePool struct {
	mu            sync.Mutex
	active        uint32
	usedMB        uint64
	maxConcurrent uint32
	maxMemoryMB   uint64
	rejections    map[ExhaustedKind]uint64
}

func NewResourcePool(maxConcurrent uint32, maxMemoryMB uint64) *ResourcePool {
	return &ResourcePool{
		maxConcurrent: maxConcurrent,
		maxMemoryMB:   maxMemoryMB,
		rejections:    make(map[ExhaustedKind]uint64),
	}
}

// TryAcquire admits a request needing memoryMB or reports which limit failed.
// Concurrency is checked first.
func (p *ResourcePool) TryAcquire(memoryMB uint64) error {
	return p.TryAcquireFunc(memoryMB, nil)
}

// TryAcquireFunc is TryAcquire that runs onAdmit, if non-nil, inside the
// same critical section as the admission. Cleanup that runs under
// WithAdmissionLock therefore sees the slot and whatever onAdmit recorded
// together, or neither.
func (p *ResourcePool) TryAcquireFunc(memoryMB uint64, onAdmit func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active >= p.maxConcurrent {
		p.rejections[ExhaustedConcurrency]++
		return resourceExhaustedError{kind: ExhaustedConcurrency, active: p.active, maxActive: p.maxConcurrent}
	}
	if p.usedMB+memoryMB > p.maxMemoryMB {
		p.rejections[ExhaustedMemory]++
		return resourceExhaustedError{kind: ExhaustedMemory, requestedMB: memoryMB, usedMB: p.usedMB, limitMB: p.maxMemoryMB}
	}
	p.active++
	p.usedMB += memoryMB
	if onAdmit != nil {
		onAdmit()
	}
	return nil
}

// Release returns a slot. Counters saturate at zero.
func (p *ResourcePool) Release(memoryMB uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active > 0 {
		p.active--
	}
	if memoryMB > p.usedMB {
		p.usedMB = 0
	} else {
		p.usedMB -= memoryMB
	}
}

func (p *ResourcePool) State() PoolState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolState{ActiveModels: p.active, UsedMemoryMB: p.usedMB, MaxConcurrent: p.maxConcurrent, MaxMemoryMB: p.maxMemoryMB}
}

// SetLimits changes the limits. It refuses limits below current usage so the
// invariant holds at every observable point.
func (p *ResourcePool) SetLimits(maxConcurrent uint32, maxMemoryMB uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if maxConcurrent < p.active {
		return invalidConfigError{field: "max_concurrent", msg: "below the number of active requests"}
	}
	if maxMemoryMB < p.usedMB {
		return invalidConfigError{field: "memory_limit_mb", msg: "below memory held by active requests"}
	}
	p.maxConcurrent, p.maxMemoryMB = maxConcurrent, maxMemoryMB
	return nil
}

// setLimitsFloor is SetLimits that raises limits to current usage instead of
// failing. Used when re-detection shrinks the device.
func (p *ResourcePool) setLimitsFloor(maxConcurrent uint32, maxMemoryMB uint64) PoolState {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maxConcurrent = max(maxConcurrent, p.active)
	p.maxMemoryMB = max(maxMemoryMB, p.usedMB)
	return PoolState{ActiveModels: p.active, UsedMemoryMB: p.usedMB, MaxConcurrent: p.maxConcurrent, MaxMemoryMB: p.maxMemoryMB}
}

// WithAdmissionLock runs fn while no request can be admitted. fn must not
// call back into the pool.
func (p *ResourcePool) WithAdmissionLock(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn()
}

// Rejections returns admission denials by kind since start.
func (p *ResourcePool) Rejections() map[string]uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := map[string]uint64{
		string(ExhaustedConcurrency): p.rejections[ExhaustedConcurrency],
		string(ExhaustedMemory):      p.rejections[ExhaustedMemory],
	}
	return out
}
