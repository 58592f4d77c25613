package manager

import (
	"sync"
	"time"

	"npud/pkg/types"
)

// perfAlpha is the EWMA smoothing factor for latency and throughput.
const perfAlpha = 0.1

type perfStats struct {
	total      uint64
	errors     uint64
	latencyMS  float64
	throughput float64
	peakMB     uint64
	last       time.Time
	seeded     bool
}

// perfTracker keeps per-model rolling performance. Every request outcome is
// recorded, failures included.
type perfTracker struct {
	mu    sync.Mutex
	stats map[string]*perfStats
}

func newPerfTracker() *perfTracker {
	return &perfTracker{stats: make(map[string]*perfStats)}
}

func ewma(prev, sample float64) float64 {
	return perfAlpha*sample + (1-perfAlpha)*prev
}

func (t *perfTracker) record(id string, took time.Duration, ok bool, footprintMB uint64, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.stats[id]
	if s == nil {
		s = &perfStats{}
		t.stats[id] = s
	}
	s.total++
	if !ok {
		s.errors++
	}
	ms := float64(took) / float64(time.Millisecond)
	var tput float64
	if ms > 0 {
		tput = 1000 / ms
	}
	if !s.seeded {
		s.latencyMS, s.throughput, s.seeded = ms, tput, true
	} else {
		s.latencyMS = ewma(s.latencyMS, ms)
		s.throughput = ewma(s.throughput, tput)
	}
	s.peakMB = max(s.peakMB, footprintMB)
	s.last = now
}

func (t *perfTracker) get(id string) (types.ModelMetrics, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.stats[id]
	if !ok {
		return types.ModelMetrics{ModelID: id}, false
	}
	mm := types.ModelMetrics{
		ModelID:          id,
		TotalInferences:  s.total,
		ErrorCount:       s.errors,
		AverageLatencyMS: s.latencyMS,
		ThroughputPerSec: s.throughput,
		PeakMemoryMB:     s.peakMB,
	}
	if !s.last.IsZero() {
		mm.LastInference = s.last.Unix()
	}
	return mm, true
}

// meanLatencyMS averages the per-model EWMA latencies.
func (t *perfTracker) meanLatencyMS() (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var sum float64
	var n int
	for _, s := range t.stats {
		if s.seeded {
			sum += s.latencyMS
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}
