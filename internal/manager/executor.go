package manager

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"npud/internal/bridge"
	"npud/internal/scratch"
	"npud/pkg/types"
)

// Submit runs one inference request: admit, ensure the model is resident,
// validate, predict with bounded retry, validate outputs. The admission slot
// is held until the outcome is known.
func (m *Manager) Submit(ctx context.Context, req types.InferRequest) (types.InferResponse, error) {
	id, err := m.resolveID(req.Model)
	if err != nil {
		return types.InferResponse{}, err
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	log := m.log.With().Str("request_id", req.ID).Str("model", id).Logger()

	memMB := m.registry.FootprintMB(id)
	if err := m.pool.TryAcquireFunc(memMB, func() { m.registry.hold(id) }); err != nil {
		if k, ok := ExhaustedKindOf(err); ok {
			admissionRejectionsTotal.WithLabelValues(string(k)).Inc()
		}
		log.Debug().Err(err).Msg("admission denied")
		return types.InferResponse{}, err
	}
	poolActive.Inc()
	defer func() {
		m.registry.unhold(id)
		m.pool.Release(memMB)
		poolActive.Dec()
	}()

	start := time.Now()
	outcome := "error"
	var footprint uint64
	defer func() {
		took := time.Since(start)
		m.perf.record(id, took, outcome == "ok", footprint, m.now())
		inferenceDuration.WithLabelValues(id, outcome).Observe(took.Seconds())
	}()

	lease, err := m.registry.EnsureLoaded(ctx, id)
	if err != nil {
		return types.InferResponse{}, err
	}
	defer lease.Release()
	footprint = lease.FootprintMB()
	m.registry.RecordAccess(id, AccessInference)

	if err := validateInputs(req.Inputs); err != nil {
		outcome = "invalid"
		return types.InferResponse{}, err
	}
	if req.TimeoutMS < 0 {
		outcome = "invalid"
		return types.InferResponse{}, ErrValidation("timeout_ms must not be negative")
	}
	timeout := m.cfg.DefaultTimeout
	if req.TimeoutMS > 0 {
		timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}

	buf := m.scratch.Get(scratch.KindInput, encodedSizeHint(req.Inputs))
	payload, err := bridge.EncodeInputs(buf, req.Inputs)
	if err != nil {
		m.scratch.Put(scratch.KindInput, buf)
		outcome = "invalid"
		return types.InferResponse{}, ErrValidation("%v", err)
	}
	input := string(payload)
	m.scratch.Put(scratch.KindInput, payload)

	out, attempts, err := m.predictWithRetry(ctx, lease, input, timeout, log)
	if err != nil {
		if IsTimeout(err) {
			outcome = "timeout"
		}
		return types.InferResponse{}, err
	}

	obuf := append(m.scratch.Get(scratch.KindOutput, len(out)), out...)
	outputs, err := bridge.DecodeOutputs(obuf)
	m.scratch.Put(scratch.KindOutput, obuf)
	if err != nil {
		return types.InferResponse{}, predictionFailedError{modelID: id, attempts: attempts, err: err}
	}
	if len(outputs) == 0 {
		return types.InferResponse{}, predictionFailedError{modelID: id, attempts: attempts, err: errors.New("bridge returned no outputs")}
	}
	warnings := outputWarnings(outputs)
	if len(warnings) > 0 {
		log.Warn().Strs("warnings", warnings).Msg("output validation")
	}
	outcome = "ok"
	return types.InferResponse{
		ID:        req.ID,
		Model:     id,
		Outputs:   outputs,
		Schema:    lease.Schema(),
		Attempts:  attempts,
		LatencyMS: float64(time.Since(start)) / float64(time.Millisecond),
		Warnings:  warnings,
	}, nil
}

// predictWithRetry retries recoverable bridge failures with exponential
// backoff. A timeout or a cancelled caller ends the loop at once.
func (m *Manager) predictWithRetry(ctx context.Context, l *Lease, input string, timeout time.Duration, log zerolog.Logger) (string, int, error) {
	attempts := 0
	for {
		attempts++
		out, err := m.predictOnce(ctx, l, input, timeout)
		predictAttemptsTotal.WithLabelValues(codeLabel(err)).Inc()
		if err == nil {
			return out, attempts, nil
		}
		if IsTimeout(err) || ctx.Err() != nil {
			return "", attempts, err
		}
		recoverable := bridge.IsRecoverable(err)
		if !recoverable || attempts >= m.cfg.MaxAttempts {
			log.Warn().Err(err).Int("attempts", attempts).Bool("recoverable", recoverable).Msg("prediction failed")
			return "", attempts, predictionFailedError{modelID: l.ID(), attempts: attempts, recoverable: recoverable, err: err}
		}
		delay := m.cfg.BaseBackoff << (attempts - 1)
		log.Debug().Err(err).Int("attempt", attempts).Dur("backoff", delay).Msg("retrying prediction")
		if err := m.cfg.Sleep(ctx, delay); err != nil {
			return "", attempts, err
		}
		m.resetDevice(ctx)
	}
}

func (m *Manager) predictOnce(ctx context.Context, l *Lease, input string, timeout time.Duration) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	h := l.Handle()
	ms := int(timeout / time.Millisecond)
	// The call keeps its own pin: if we stop waiting the native call still
	// owns the handle until it returns.
	out, err := bridge.Call(cctx, m.dispatcher, func() (string, error) {
		return m.bridge.Predict(h, input, ms)
	}, l.Pin())
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return "", timeoutError{modelID: l.ID(), after: timeout}
		}
	}
	return out, err
}

// resetDevice asks the bridge to reset device state. Failures are ignored.
func (m *Manager) resetDevice(ctx context.Context) {
	r, ok := m.bridge.(bridge.Resetter)
	if !ok {
		return
	}
	if err := m.dispatcher.Do(ctx, r.Reset, nil); err != nil {
		m.log.Debug().Err(err).Msg("device reset failed")
	}
}

func validateInputs(inputs []types.Tensor) error {
	if len(inputs) == 0 {
		return ErrValidation("no input tensors")
	}
	for i, t := range inputs {
		name := t.Name
		if name == "" {
			name = fmt.Sprintf("#%d", i)
		}
		if len(t.Data) == 0 {
			return ErrValidation("input %s is empty", name)
		}
		for _, d := range t.Shape {
			if d <= 0 {
				return ErrValidation("input %s has non-positive dimension %d", name, d)
			}
		}
		if len(t.Shape) > 0 && t.Elements() != len(t.Data) {
			return ErrValidation("input %s has %d values for shape %v", name, len(t.Data), t.Shape)
		}
		for j, v := range t.Data {
			f := float64(v)
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return ErrValidation("input %s has non-finite value at index %d", name, j)
			}
		}
	}
	return nil
}

// outputWarnings reports empty outputs and non-finite values.
func outputWarnings(outputs []types.Tensor) []string {
	var out []string
	for _, t := range outputs {
		if len(t.Data) == 0 {
			out = append(out, fmt.Sprintf("output %s is empty", t.Name))
			continue
		}
		bad := 0
		for _, v := range t.Data {
			f := float64(v)
			if math.IsNaN(f) || math.IsInf(f, 0) {
				bad++
			}
		}
		if bad > 0 {
			out = append(out, fmt.Sprintf("output %s has %d non-finite value(s)", t.Name, bad))
		}
	}
	return out
}

// encodedSizeHint approximates the JSON size of inputs.
func encodedSizeHint(inputs []types.Tensor) int {
	n := 16
	for _, t := range inputs {
		n += 48 + len(t.Name) + 4*len(t.Shape) + 12*len(t.Data)
	}
	return n
}

func codeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsTimeout(err):
		return "deadline"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	return bridge.CodeOf(err).String()
}
