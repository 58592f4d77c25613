package pressure

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Outcome is what a stage reports.
type Outcome struct {
	Freed     uint64
	Estimated uint64
	Evicted   []string
	Err       error
}

// Stage is one step of the cleanup pipeline.
type Stage interface {
	Name() string
	Run(ctx context.Context) Outcome
}

// StageResult is a stage outcome after clamping.
type StageResult struct {
	Stage     string
	Freed     uint64
	Estimated uint64
	Clamped   bool
	Err       error
}

// CleanupResult is produced fresh per cleanup invocation.
type CleanupResult struct {
	Stages     []StageResult
	TotalFreed uint64
	Level      Level
	Evicted    []string
	Started    time.Time
	Duration   time.Duration
}

// ByStage maps stage name to bytes freed.
func (r CleanupResult) ByStage() map[string]uint64 {
	out := make(map[string]uint64, len(r.Stages))
	for _, s := range r.Stages {
		out[s.Stage] = s.Freed
	}
	return out
}

// Pipeline runs its stages in order. A stage that frees nothing or fails does
// not stop the ones after it.
type Pipeline struct {
	stages []Stage
	reader Reader
	log    zerolog.Logger
}

// NewPipeline builds a pipeline; reader supplies the host total used to clamp
// per-stage figures.
func NewPipeline(reader Reader, log zerolog.Logger, stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages, reader: reader, log: log}
}

// Stages returns the stage names in run order.
func (p *Pipeline) Stages() []string {
	out := make([]string, len(p.stages))
	for i, s := range p.stages {
		out[i] = s.Name()
	}
	return out
}

func (p *Pipeline) Run(ctx context.Context) CleanupResult {
	res := CleanupResult{Started: time.Now()}
	var ceiling uint64
	if r, err := p.reader.Read(ctx); err == nil {
		ceiling = r.TotalMB << 20
		res.Level = Classify(UsedPercent(r.UsedMB, r.TotalMB))
	} else {
		p.log.Warn().Err(err).Msg("cleanup: host memory unreadable; stage figures unclamped")
	}

	for _, st := range p.stages {
		if ctx.Err() != nil {
			res.Stages = append(res.Stages, StageResult{Stage: st.Name(), Err: ctx.Err()})
			continue
		}
		out := st.Run(ctx)
		sr := StageResult{Stage: st.Name(), Freed: out.Freed, Estimated: out.Estimated, Err: out.Err}
		if ceiling > 0 {
			if sr.Freed > ceiling {
				sr.Freed, sr.Clamped = ceiling, true
			}
			if sr.Estimated > ceiling {
				sr.Estimated, sr.Clamped = ceiling, true
			}
		}
		ev := p.log.Debug()
		if out.Err != nil {
			ev = p.log.Warn().Err(out.Err)
		}
		ev.Str("stage", sr.Stage).Uint64("freed_bytes", sr.Freed).Uint64("estimated_bytes", sr.Estimated).Bool("clamped", sr.Clamped).Msg("cleanup stage")
		res.Stages = append(res.Stages, sr)
		res.TotalFreed += sr.Freed
		res.Evicted = append(res.Evicted, out.Evicted...)
	}
	res.Duration = time.Since(res.Started)
	return res
}
