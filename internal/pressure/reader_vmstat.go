package pressure

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"
)

var runHost = func(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	return string(out), err
}

// VMStatReader samples macOS memory through vm_stat and sysctl hw.memsize.
type VMStatReader struct {
	timeout time.Duration
}

func NewVMStatReader() *VMStatReader { return &VMStatReader{timeout: 2 * time.Second} }

var pageSizeRe = regexp.MustCompile(`page size of (\d+) bytes`)

func (r *VMStatReader) Read(ctx context.Context) (Reading, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	memsize, err := runHost(ctx, "sysctl", "-n", "hw.memsize")
	if err != nil {
		return Reading{}, fmt.Errorf("sysctl hw.memsize: %w", err)
	}
	total, err := strconv.ParseUint(strings.TrimSpace(memsize), 10, 64)
	if err != nil {
		return Reading{}, fmt.Errorf("parse hw.memsize: %w", err)
	}
	out, err := runHost(ctx, "vm_stat")
	if err != nil {
		return Reading{}, fmt.Errorf("vm_stat: %w", err)
	}
	return parseVMStat(out, total), nil
}

// parseVMStat turns vm_stat page counters into a Reading. Used memory is
// active + wired + compressed pages; cache is file-backed plus speculative.
func parseVMStat(out string, totalBytes uint64) Reading {
	pageSize := uint64(os.Getpagesize())
	if m := pageSizeRe.FindStringSubmatch(out); m != nil {
		if n, err := strconv.ParseUint(m[1], 10, 64); err == nil && n > 0 {
			pageSize = n
		}
	}
	pages := map[string]uint64{}
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		k, v, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimSpace(v), "."), 10, 64)
		if err != nil {
			continue
		}
		pages[strings.TrimSpace(k)] = n
	}
	used := (pages["Pages active"] + pages["Pages wired down"] + pages["Pages occupied by compressor"]) * pageSize
	if used > totalBytes {
		used = totalBytes
	}
	cache := (pages["File-backed pages"] + pages["Pages speculative"]) * pageSize
	return Reading{
		TotalMB:     totalBytes >> 20,
		UsedMB:      used >> 20,
		AvailableMB: (totalBytes - used) >> 20,
		CacheMB:     cache >> 20,
	}
}

// PurgeHostCache asks macOS to drop its file cache. Other hosts get
// ErrUnsupportedHost. Usually needs elevated privileges.
func PurgeHostCache(ctx context.Context) error {
	if runtime.GOOS != "darwin" {
		return ErrUnsupportedHost
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := runHost(ctx, "sysctl", "-w", "vm.purge=1"); err != nil {
		return fmt.Errorf("sysctl vm.purge: %w", err)
	}
	return nil
}
