package capability

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// candidateProbe turns host output into a candidate snapshot. The current
// best candidate is passed in for probes that refine rather than replace.
type candidateProbe struct {
	name string
	run  func(ctx context.Context, p HostProbe, best Snapshot) (Snapshot, bool)
}

// probeOrder is fixed: every successful probe overwrites the running best,
// so the CPU brand re-check has the final word.
var probeOrder = []candidateProbe{
	{name: SourceHardwareSummary, run: fromHardwareSummary},
	{name: SourceHardwareRegistry, run: fromHardwareRegistry},
	{name: SourceCPUBrand, run: fromCPUBrand},
}

// Detect probes the host and returns the best capability snapshot. It never
// fails; with no successful probe the Baseline is returned.
func Detect(ctx context.Context, p HostProbe, log zerolog.Logger) Snapshot {
	best := Baseline()
	for _, pr := range probeOrder {
		if ctx.Err() != nil {
			break
		}
		cand, ok := pr.run(ctx, p, best)
		if !ok {
			log.Debug().Str("probe", pr.name).Msg("capability probe produced no candidate")
			continue
		}
		log.Debug().Str("probe", pr.name).Stringer("candidate", cand).Msg("capability probe candidate")
		best = cand
	}
	best.DetectedAt = time.Now()
	log.Info().Stringer("snapshot", best).Msg("capabilities detected")
	return best
}

func fromHardwareSummary(ctx context.Context, p HostProbe, _ Snapshot) (Snapshot, bool) {
	out, err := p.HardwareSummary(ctx)
	if err != nil {
		return Snapshot{}, false
	}
	if !strings.Contains(out, "Apple M") && !strings.Contains(out, "Apple Silicon") {
		return Snapshot{}, false
	}
	if g, ok := matchGeneration(out, "Apple "); ok {
		return g.snapshot(SourceHardwareSummary), true
	}
	return genericApple.snapshot(SourceHardwareSummary), true
}

func fromHardwareRegistry(ctx context.Context, p HostProbe, best Snapshot) (Snapshot, bool) {
	out, err := p.HardwareRegistry(ctx)
	if err != nil {
		return Snapshot{}, false
	}
	if !strings.Contains(out, "ANE") && !strings.Contains(out, "Neural") {
		return Snapshot{}, false
	}
	cand := best.withPrecisions(best.precisions...)
	cand.Source = SourceHardwareRegistry
	// Only accelerator lines count; GPU and CPU core counts share the dump.
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, "ANE") && !strings.Contains(line, "Neural Engine") {
			continue
		}
		switch {
		case hasCoreCount(line, "16"):
			cand.ComputeUnits = 16
			cand.MaxConcurrentModels = 8
		case hasCoreCount(line, "8"):
			cand.ComputeUnits = 8
			cand.MaxConcurrentModels = 4
		}
	}
	return cand, true
}

// hasCoreCount reports whether line contains "<n>-core" or "<n> core" not
// preceded by another digit, so "38-core" does not count as 8.
func hasCoreCount(line, n string) bool {
	for _, pat := range []string{n + "-core", n + " core"} {
		for rest, off := line, 0; ; {
			i := strings.Index(rest, pat)
			if i < 0 {
				break
			}
			at := off + i
			if at == 0 || line[at-1] < '0' || line[at-1] > '9' {
				return true
			}
			rest, off = rest[i+1:], at+1
		}
	}
	return false
}

func fromCPUBrand(ctx context.Context, p HostProbe, _ Snapshot) (Snapshot, bool) {
	out, err := p.CPUBrand(ctx)
	if err != nil {
		return Snapshot{}, false
	}
	brand := strings.TrimSpace(out)
	if !strings.Contains(brand, "Apple") {
		return Snapshot{}, false
	}
	g, ok := matchGeneration(brand, "")
	if !ok {
		return Snapshot{}, false
	}
	return g.snapshot(SourceCPUBrand), true
}
