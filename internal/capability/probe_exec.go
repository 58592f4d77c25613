package capability

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const defaultCommandTimeout = 5 * time.Second

var (
	// runCommand is swapped in tests.
	runCommand = runHostCommand
	// unameFn is swapped in tests.
	unameFn = uname
)

// ExecProbe implements HostProbe by running the platform's system utilities.
type ExecProbe struct {
	timeout time.Duration
}

// Option configures an ExecProbe.
type Option func(*ExecProbe)

// WithCommandTimeout bounds each individual host command.
func WithCommandTimeout(d time.Duration) Option {
	return func(p *ExecProbe) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// NewExecProbe returns a probe backed by sw_vers, sysctl, system_profiler,
// ioreg, kextstat, powermetrics and smc.
func NewExecProbe(opts ...Option) *ExecProbe {
	p := &ExecProbe{timeout: defaultCommandTimeout}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *ExecProbe) run(ctx context.Context, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return runCommand(ctx, name, args...)
}

func (p *ExecProbe) OSVersion(ctx context.Context) (string, error) {
	return p.run(ctx, "sw_vers", "-productVersion")
}

func (p *ExecProbe) KernelRelease(context.Context) (string, error) {
	_, release, _, err := unameFn()
	return release, err
}

func (p *ExecProbe) Machine(context.Context) (string, error) {
	_, _, machine, err := unameFn()
	return machine, err
}

func (p *ExecProbe) CPUBrand(ctx context.Context) (string, error) {
	return p.run(ctx, "sysctl", "-n", "machdep.cpu.brand_string")
}

func (p *ExecProbe) HardwareSummary(ctx context.Context) (string, error) {
	return p.run(ctx, "system_profiler", "SPHardwareDataType")
}

func (p *ExecProbe) HardwareRegistry(ctx context.Context) (string, error) {
	return p.run(ctx, "ioreg", "-l", "-w", "0", "-r", "-c", "AppleARMIODevice")
}

func (p *ExecProbe) DriverExtensions(ctx context.Context) (string, error) {
	return p.run(ctx, "kextstat", "-l")
}

func (p *ExecProbe) AcceleratorRegistry(ctx context.Context) (string, error) {
	return p.run(ctx, "ioreg", "-r", "-c", "AppleNeuralEngine")
}

func (p *ExecProbe) PowerTelemetry(ctx context.Context) (string, error) {
	return p.run(ctx, "powermetrics", "--samplers", "ane", "-n", "1", "-i", "100")
}

func (p *ExecProbe) ThermalSensor(ctx context.Context) (string, error) {
	return p.run(ctx, "smc", "-k", "ANE0", "-r")
}

func (p *ExecProbe) ThermalLevel(ctx context.Context) (string, error) {
	return p.run(ctx, "sysctl", "-n", "machdep.xcpm.cpu_thermal_level")
}

func runHostCommand(ctx context.Context, name string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%s timed out: %w", name, ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return "", fmt.Errorf("%s: %w", name, err)
		}
		return "", fmt.Errorf("%s: %w: %s", name, err, msg)
	}
	return stdout.String(), nil
}
