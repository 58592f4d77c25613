package pressure

import (
	"context"
	"errors"
	"runtime"
	"sync"
)

// Reading is one sample of host memory.
type Reading struct {
	TotalMB     uint64
	UsedMB      uint64
	AvailableMB uint64
	CacheMB     uint64
}

// Reader samples host memory.
type Reader interface {
	Read(ctx context.Context) (Reading, error)
}

// ErrUnsupportedHost is returned by readers on platforms they cannot sample.
var ErrUnsupportedHost = errors.New("host memory statistics unavailable on this platform")

// NewHostReader picks the reader for the running OS.
func NewHostReader() Reader {
	switch runtime.GOOS {
	case "linux":
		return NewProcReader("")
	case "darwin":
		return NewVMStatReader()
	default:
		return &StaticReader{Err: ErrUnsupportedHost}
	}
}

// StaticReader returns a fixed reading. Safe for concurrent use.
type StaticReader struct {
	mu  sync.Mutex
	R   Reading
	Err error
}

func NewStaticReader(r Reading) *StaticReader { return &StaticReader{R: r} }

func (s *StaticReader) Read(context.Context) (Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.R, s.Err
}

// Set replaces the reading.
func (s *StaticReader) Set(r Reading) {
	s.mu.Lock()
	s.R = r
	s.mu.Unlock()
}

// SetUsed sets the used and available figures keeping the total.
func (s *StaticReader) SetUsed(usedMB uint64) {
	s.mu.Lock()
	s.R.UsedMB = usedMB
	if usedMB <= s.R.TotalMB {
		s.R.AvailableMB = s.R.TotalMB - usedMB
	} else {
		s.R.AvailableMB = 0
	}
	s.mu.Unlock()
}
