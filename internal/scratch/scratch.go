// Package scratch keeps reusable request buffers and reclaims the ones that
// have gone stale.
package scratch

import (
	"sort"
	"sync"
	"time"
)

// Kind separates buffers by the side of the transfer they serve.
type Kind int

const (
	KindInput   Kind = iota // accelerator-side input staging
	KindOutput              // accelerator-side output staging
	KindStaging             // host-side transfer buffers
)

var kindNames = [...]string{"input", "output", "staging"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Staleness returns how long an idle buffer of kind k is retained.
func (k Kind) Staleness() time.Duration {
	if k == KindStaging {
		return 10 * time.Minute
	}
	return 2 * time.Minute
}

type idle struct {
	buf   []byte
	since time.Time
}

// Pool hands out byte buffers and keeps returned ones for reuse.
type Pool struct {
	mu   sync.Mutex
	free [len(kindNames)][]idle
	now  func() time.Time
}

func New() *Pool { return &Pool{now: time.Now} }

// NewWithClock is New with an injectable clock.
func NewWithClock(now func() time.Time) *Pool { return &Pool{now: now} }

// Get returns a zero-length buffer with capacity of at least size, reusing the
// smallest idle buffer that fits.
func (p *Pool) Get(k Kind, size int) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := p.free[k]
	best := -1
	for i, e := range list {
		if cap(e.buf) >= size && (best < 0 || cap(e.buf) < cap(list[best].buf)) {
			best = i
		}
	}
	if best < 0 {
		return make([]byte, 0, size)
	}
	buf := list[best].buf
	p.free[k] = append(list[:best], list[best+1:]...)
	return buf[:0]
}

// Put returns buf to the pool.
func (p *Pool) Put(k Kind, buf []byte) {
	if cap(buf) == 0 {
		return
	}
	p.mu.Lock()
	p.free[k] = append(p.free[k], idle{buf: buf[:0], since: p.now()})
	p.mu.Unlock()
}

// Reclaim drops buffers idle longer than their kind's staleness window and
// returns the bytes released.
func (p *Pool) Reclaim(now time.Time) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var freed uint64
	for k := range p.free {
		window := Kind(k).Staleness()
		kept := p.free[k][:0]
		for _, e := range p.free[k] {
			if now.Sub(e.since) > window {
				freed += uint64(cap(e.buf))
				continue
			}
			kept = append(kept, e)
		}
		// clear the tail so dropped buffers can be collected
		for i := len(kept); i < len(p.free[k]); i++ {
			p.free[k][i] = idle{}
		}
		p.free[k] = kept
	}
	return freed
}

// Stats reports retained bytes per kind name.
func (p *Pool) Stats() map[string]uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]uint64, len(kindNames))
	for k, list := range p.free {
		var n uint64
		for _, e := range list {
			n += uint64(cap(e.buf))
		}
		out[Kind(k).String()] = n
	}
	return out
}

// Oldest returns the idle time of the oldest retained buffer per kind, for
// leak diagnostics.
func (p *Pool) Oldest(now time.Time) map[string]time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := map[string]time.Duration{}
	for k, list := range p.free {
		if len(list) == 0 {
			continue
		}
		ages := make([]time.Duration, len(list))
		for i, e := range list {
			ages[i] = now.Sub(e.since)
		}
		sort.Slice(ages, func(i, j int) bool { return ages[i] > ages[j] })
		out[Kind(k).String()] = ages[0]
	}
	return out
}
