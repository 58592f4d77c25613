// Package capability detects the limits of the host's neural accelerator.
//
// Detection never fails: when every probe comes back empty the conservative
// Baseline snapshot is returned. Snapshots are values; a re-detection builds a
// new one and swaps it into a Store.
package capability

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Precision is a numeric format the accelerator can execute.
type Precision string

const (
	PrecisionFP16 Precision = "fp16"
	PrecisionINT8 Precision = "int8"
	PrecisionFP32 Precision = "fp32"
)

// ParsePrecision accepts fp16, int8 and fp32 (case-insensitive).
func ParsePrecision(s string) (Precision, error) {
	switch p := Precision(strings.ToLower(strings.TrimSpace(s))); p {
	case PrecisionFP16, PrecisionINT8, PrecisionFP32:
		return p, nil
	}
	return "", fmt.Errorf("unknown precision %q", s)
}

// Snapshot is an immutable description of accelerator limits.
type Snapshot struct {
	MaxMemoryMB         uint64
	MaxConcurrentModels uint32
	ComputeUnits        uint32
	Generation          string
	// Source names the probe whose candidate won.
	Source     string
	DetectedAt time.Time

	precisions []Precision
}

// Source names used in Snapshot.Source.
const (
	SourceBaseline         = "baseline"
	SourceHardwareSummary  = "hardware-summary"
	SourceHardwareRegistry = "hardware-registry"
	SourceCPUBrand         = "cpu-brand"
)

// Baseline is the snapshot used when no probe succeeds: 512 MB, one
// concurrent operation, FP16 only.
func Baseline() Snapshot {
	return Snapshot{
		MaxMemoryMB:         512,
		MaxConcurrentModels: 1,
		ComputeUnits:        2,
		Source:              SourceBaseline,
		precisions:          []Precision{PrecisionFP16},
	}
}

// Precisions returns a copy of the supported precisions.
func (s Snapshot) Precisions() []Precision {
	return slices.Clone(s.precisions)
}

// Supports reports whether p is executable on the device.
func (s Snapshot) Supports(p Precision) bool {
	return slices.Contains(s.precisions, p)
}

// PreferredPrecision is the first supported precision.
func (s Snapshot) PreferredPrecision() Precision {
	if len(s.precisions) == 0 {
		return PrecisionFP16
	}
	return s.precisions[0]
}

// PrecisionStrings renders the precision set for APIs.
func (s Snapshot) PrecisionStrings() []string {
	out := make([]string, len(s.precisions))
	for i, p := range s.precisions {
		out[i] = string(p)
	}
	return out
}

func (s Snapshot) withPrecisions(ps ...Precision) Snapshot {
	s.precisions = slices.Clone(ps)
	return s
}

func (s Snapshot) String() string {
	return fmt.Sprintf("mem=%dMB concurrent=%d units=%d precisions=%v gen=%s source=%s",
		s.MaxMemoryMB, s.MaxConcurrentModels, s.ComputeUnits, s.precisions, s.Generation, s.Source)
}
