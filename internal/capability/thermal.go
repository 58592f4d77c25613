package capability

import (
	"context"
	"strconv"
	"strings"
)

const fallbackTemperatureC = 45.0

// Temperature reads the accelerator temperature in Celsius. It tries the
// sensor first, then derives an estimate from the CPU thermal level, and
// finally returns a fixed nominal value.
func Temperature(ctx context.Context, p HostProbe) float64 {
	if out, err := p.ThermalSensor(ctx); err == nil {
		if t, ok := parseSensorTemperature(out); ok {
			return t
		}
	}
	if out, err := p.ThermalLevel(ctx); err == nil {
		if lvl, err := strconv.Atoi(strings.TrimSpace(out)); err == nil && lvl >= 0 {
			return 30 + float64(lvl)*10
		}
	}
	return fallbackTemperatureC
}

// parseSensorTemperature accepts lines like "ANE0: 42.5 (degrees C)".
func parseSensorTemperature(out string) (float64, bool) {
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, "ANE") && !strings.Contains(line, "degrees C") && !strings.Contains(line, "C)") {
			continue
		}
		_, rest, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}
		if v, err := strconv.ParseFloat(fields[0], 64); err == nil {
			return v, true
		}
	}
	return 0, false
}

// EstimatePower returns an estimate in watts from memory occupancy and
// compute-unit count, clamped to [1, 8].
func EstimatePower(usedMB uint64, snap Snapshot) float64 {
	const base = 1.0
	var memFactor float64
	if snap.MaxMemoryMB > 0 {
		memFactor = float64(usedMB) / float64(snap.MaxMemoryMB)
	}
	computeFactor := float64(snap.ComputeUnits) / 16
	w := base + memFactor*3 + computeFactor*2
	switch {
	case w < base:
		return base
	case w > 8:
		return 8
	}
	return w
}
