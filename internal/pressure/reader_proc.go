package pressure

import (
	"context"
	"fmt"

	"github.com/prometheus/procfs"
)

// ProcReader reads /proc/meminfo.
type ProcReader struct {
	mount string
}

// NewProcReader reads from mount, or the default /proc when empty.
func NewProcReader(mount string) *ProcReader {
	if mount == "" {
		mount = procfs.DefaultMountPoint
	}
	return &ProcReader{mount: mount}
}

func kb(p *uint64) uint64 {
	if p == nil {
		return 0
	}
	return *p
}

func (r *ProcReader) Read(context.Context) (Reading, error) {
	fs, err := procfs.NewFS(r.mount)
	if err != nil {
		return Reading{}, fmt.Errorf("procfs: %w", err)
	}
	mi, err := fs.Meminfo()
	if err != nil {
		return Reading{}, fmt.Errorf("meminfo: %w", err)
	}
	total := kb(mi.MemTotal)
	if total == 0 {
		return Reading{}, fmt.Errorf("meminfo: MemTotal missing")
	}
	avail := kb(mi.MemAvailable)
	if mi.MemAvailable == nil {
		avail = kb(mi.MemFree) + kb(mi.Cached) + kb(mi.Buffers)
	}
	if avail > total {
		avail = total
	}
	return Reading{
		TotalMB:     total >> 10,
		UsedMB:      (total - avail) >> 10,
		AvailableMB: avail >> 10,
		CacheMB:     (kb(mi.Cached) + kb(mi.Buffers)) >> 10,
	}, nil
}
