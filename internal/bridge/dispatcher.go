package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrDispatcherClosed is returned by Do after Close.
var ErrDispatcherClosed = errors.New("bridge dispatcher closed")

type job struct {
	fn   func() error
	done func()
	res  chan error
}

// Dispatcher runs blocking native calls on a fixed set of worker goroutines.
// A caller that stops waiting (context done) gets ctx.Err() immediately; the
// native call keeps running on its worker and its done callback still fires
// once it returns.
type Dispatcher struct {
	jobs     chan job
	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
	inflight atomic.Int64
}

// NewDispatcher starts workers goroutines fed by a queue of the given depth.
func NewDispatcher(workers, queue int) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queue < 0 {
		queue = 0
	}
	d := &Dispatcher{jobs: make(chan job, queue)}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker()
	}
	return d
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.jobs {
		j.res <- d.run(j)
	}
}

func (d *Dispatcher) run(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Errorf("dispatch", CodeInternal, "panic in native call: %v", r)
		}
		d.inflight.Add(-1)
		if j.done != nil {
			j.done()
		}
	}()
	return j.fn()
}

// Do schedules fn and waits for it or for ctx. done, if non-nil, runs after
// fn returns regardless of whether the caller is still waiting. If the job
// never got scheduled, done runs before Do returns.
func (d *Dispatcher) Do(ctx context.Context, fn func() error, done func()) error {
	j := job{fn: fn, done: done, res: make(chan error, 1)}

	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		if done != nil {
			done()
		}
		return ErrDispatcherClosed
	}
	d.inflight.Add(1)
	select {
	case d.jobs <- j:
		d.mu.RUnlock()
	case <-ctx.Done():
		d.mu.RUnlock()
		d.inflight.Add(-1)
		if done != nil {
			done()
		}
		return ctx.Err()
	}

	select {
	case err := <-j.res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Call runs fn on d and returns its value.
func Call[T any](ctx context.Context, d *Dispatcher, fn func() (T, error), done func()) (T, error) {
	var (
		mu  sync.Mutex
		out T
	)
	err := d.Do(ctx, func() error {
		v, err := fn()
		mu.Lock()
		out = v
		mu.Unlock()
		return err
	}, done)
	if err != nil {
		var zero T
		return zero, err
	}
	mu.Lock()
	defer mu.Unlock()
	return out, nil
}

// Inflight is the number of scheduled calls that have not returned.
func (d *Dispatcher) Inflight() int64 { return d.inflight.Load() }

// Close stops accepting work and waits for queued calls to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) String() string {
	return fmt.Sprintf("dispatcher(inflight=%d, queued=%d)", d.Inflight(), len(d.jobs))
}
