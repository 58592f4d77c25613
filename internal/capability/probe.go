package capability

import "context"

// HostProbe abstracts the host queries used by detection. Every method returns
// the raw text the host produced; callers parse it defensively. An error means
// the query could not run at all.
type HostProbe interface {
	// OSVersion returns the product version, e.g. "14.2.1".
	OSVersion(ctx context.Context) (string, error)
	// KernelRelease returns the kernel release, e.g. "23.2.0".
	KernelRelease(ctx context.Context) (string, error)
	// Machine returns the hardware architecture, e.g. "arm64".
	Machine(ctx context.Context) (string, error)
	// CPUBrand returns the CPU identification string.
	CPUBrand(ctx context.Context) (string, error)
	// HardwareSummary returns the vendor hardware overview.
	HardwareSummary(ctx context.Context) (string, error)
	// HardwareRegistry returns a dump of the device registry.
	HardwareRegistry(ctx context.Context) (string, error)
	// DriverExtensions lists loaded kernel driver extensions.
	DriverExtensions(ctx context.Context) (string, error)
	// AcceleratorRegistry returns the registry entries of the accelerator class.
	AcceleratorRegistry(ctx context.Context) (string, error)
	// PowerTelemetry runs one sample of the accelerator power sampler.
	PowerTelemetry(ctx context.Context) (string, error)
	// ThermalSensor reads the accelerator temperature sensor.
	ThermalSensor(ctx context.Context) (string, error)
	// ThermalLevel reads the coarse CPU thermal level.
	ThermalLevel(ctx context.Context) (string, error)
}
