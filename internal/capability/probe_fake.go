package capability

import (
	"context"
	"errors"
)

// Probe query names, used as FakeProbe.Errors keys.
const (
	QueryOSVersion           = "os-version"
	QueryKernelRelease       = "kernel-release"
	QueryMachine             = "machine"
	QueryCPUBrand            = "cpu-brand"
	QueryHardwareSummary     = "hardware-summary"
	QueryHardwareRegistry    = "hardware-registry"
	QueryDriverExtensions    = "driver-extensions"
	QueryAcceleratorRegistry = "accelerator-registry"
	QueryPowerTelemetry      = "power-telemetry"
	QueryThermalSensor       = "thermal-sensor"
	QueryThermalLevel        = "thermal-level"
)

// ErrNotProbed is returned by FakeProbe for queries with no scripted output.
var ErrNotProbed = errors.New("query not available")

// FakeProbe is a scripted HostProbe. Outputs maps query names to text; a
// query with no entry fails with ErrNotProbed unless Errors overrides it.
type FakeProbe struct {
	Outputs map[string]string
	Errors  map[string]error
}

// AppleSiliconProbe returns a FakeProbe describing a healthy host of the given
// generation (e.g. "M2").
func AppleSiliconProbe(gen string) *FakeProbe {
	return &FakeProbe{Outputs: map[string]string{
		QueryOSVersion:           "14.2.1\n",
		QueryKernelRelease:       "23.2.0",
		QueryMachine:             "arm64",
		QueryCPUBrand:            "Apple " + gen + "\n",
		QueryHardwareSummary:     "Hardware:\n\n    Hardware Overview:\n\n      Model Name: MacBook Pro\n      Chip: Apple " + gen + "\n      Neural Engine: 16-core\n",
		QueryHardwareRegistry:    "+-o ane  <class AppleARMIODevice>\n    \"ANE\" = 16-core\n",
		QueryDriverExtensions:    "  120    0 0xffffff7f8 0x1000 0x1000 com.apple.driver.AppleNeuralEngine (7.0.0)\n",
		QueryAcceleratorRegistry: "+-o AppleNeuralEngine  <class AppleNeuralEngine>\n",
		QueryPowerTelemetry:      "ANE Power: 0 mW\n",
	}}
}

func (f *FakeProbe) get(q string) (string, error) {
	if err, ok := f.Errors[q]; ok && err != nil {
		return "", err
	}
	out, ok := f.Outputs[q]
	if !ok {
		return "", ErrNotProbed
	}
	return out, nil
}

func (f *FakeProbe) OSVersion(context.Context) (string, error) { return f.get(QueryOSVersion) }
func (f *FakeProbe) KernelRelease(context.Context) (string, error) {
	return f.get(QueryKernelRelease)
}
func (f *FakeProbe) Machine(context.Context) (string, error) { return f.get(QueryMachine) }
func (f *FakeProbe) CPUBrand(context.Context) (string, error) { return f.get(QueryCPUBrand) }
func (f *FakeProbe) HardwareSummary(context.Context) (string, error) {
	return f.get(QueryHardwareSummary)
}
func (f *FakeProbe) HardwareRegistry(context.Context) (string, error) {
	return f.get(QueryHardwareRegistry)
}
func (f *FakeProbe) DriverExtensions(context.Context) (string, error) {
	return f.get(QueryDriverExtensions)
}
func (f *FakeProbe) AcceleratorRegistry(context.Context) (string, error) {
	return f.get(QueryAcceleratorRegistry)
}
func (f *FakeProbe) PowerTelemetry(context.Context) (string, error) {
	return f.get(QueryPowerTelemetry)
}
func (f *FakeProbe) ThermalSensor(context.Context) (string, error) {
	return f.get(QueryThermalSensor)
}
func (f *FakeProbe) ThermalLevel(context.Context) (string, error) { return f.get(QueryThermalLevel) }
