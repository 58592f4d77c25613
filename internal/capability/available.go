package capability

import (
	"context"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
)

const (
	minOSMajor = 10
	minOSMinor = 15

	driverBundleID = "com.apple.driver.AppleNeuralEngine"
)

// Availability explains the IsAvailable verdict.
type Availability struct {
	Available   bool   `json:"available"`
	OSVersion   string `json:"os_version"`
	OSSupported bool   `json:"os_supported"`
	AppleCPU    bool   `json:"apple_cpu"`
	// Hardware presence checks; any one true is sufficient.
	DriverLoaded      bool `json:"driver_loaded"`
	InRegistry        bool `json:"in_registry"`
	InSummary         bool `json:"in_summary"`
	TelemetryResponds bool `json:"telemetry_responds"`
}

// IsAvailable reports whether the accelerator is usable on this host.
func IsAvailable(ctx context.Context, p HostProbe) bool {
	return CheckAvailability(ctx, p).Available
}

// CheckAvailability requires a supported OS version, an Apple CPU, and at
// least one of four independent hardware presence checks.
func CheckAvailability(ctx context.Context, p HostProbe) Availability {
	var a Availability
	major, minor, ver, ok := osVersion(ctx, p)
	a.OSVersion = ver
	a.OSSupported = ok && (major > minOSMajor || (major == minOSMajor && minor >= minOSMinor))
	a.AppleCPU = appleCPU(ctx, p)

	checks := []struct {
		dst *bool
		fn  func(context.Context) bool
	}{
		{&a.DriverLoaded, func(ctx context.Context) bool {
			out, err := p.DriverExtensions(ctx)
			return err == nil && strings.Contains(out, driverBundleID)
		}},
		{&a.InRegistry, func(ctx context.Context) bool {
			out, err := p.AcceleratorRegistry(ctx)
			return err == nil && strings.Contains(out, "AppleNeuralEngine")
		}},
		{&a.InSummary, func(ctx context.Context) bool {
			out, err := p.HardwareSummary(ctx)
			return err == nil && strings.Contains(out, "Neural Engine")
		}},
		{&a.TelemetryResponds, func(ctx context.Context) bool {
			_, err := p.PowerTelemetry(ctx)
			return err == nil
		}},
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range checks {
		c := c
		g.Go(func() error {
			*c.dst = c.fn(gctx)
			return nil
		})
	}
	_ = g.Wait()

	hw := a.DriverLoaded || a.InRegistry || a.InSummary || a.TelemetryResponds
	a.Available = a.OSSupported && a.AppleCPU && hw
	return a
}

// osVersion prefers the product version and falls back to deriving it from
// the Darwin kernel release.
func osVersion(ctx context.Context, p HostProbe) (major, minor int, raw string, ok bool) {
	if out, err := p.OSVersion(ctx); err == nil {
		raw = strings.TrimSpace(out)
		if major, minor, ok = parseVersion(raw); ok {
			return major, minor, raw, true
		}
	}
	out, err := p.KernelRelease(ctx)
	if err != nil {
		return 0, 0, raw, false
	}
	kmajor, _, ok := parseVersion(strings.TrimSpace(out))
	if !ok {
		return 0, 0, raw, false
	}
	major, minor = darwinToMacOS(kmajor)
	return major, minor, raw, true
}

// darwinToMacOS maps a Darwin kernel major to the macOS version: Darwin 19 is
// 10.15, Darwin 20 and later are macOS major = kernel major - 9.
func darwinToMacOS(k int) (int, int) {
	if k >= 20 {
		return k - 9, 0
	}
	if k >= 4 {
		return 10, k - 4
	}
	return 0, 0
}

func parseVersion(s string) (major, minor int, ok bool) {
	if s == "" {
		return 0, 0, false
	}
	parts := strings.SplitN(s, ".", 3)
	major, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, false
	}
	if len(parts) > 1 {
		if minor, err = strconv.Atoi(strings.TrimSpace(parts[1])); err != nil {
			minor = 0
		}
	}
	return major, minor, true
}

func appleCPU(ctx context.Context, p HostProbe) bool {
	if out, err := p.CPUBrand(ctx); err == nil {
		for _, marker := range []string{"Apple", "M1", "M2", "M3"} {
			if strings.Contains(out, marker) {
				return true
			}
		}
	}
	if m, err := p.Machine(ctx); err == nil && strings.TrimSpace(m) == "arm64" {
		return true
	}
	return false
}
