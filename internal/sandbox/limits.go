// internal/sandbox/limits.go
package sandbox

import (
	"bytes"
	"context"
	"io/fs"
	"runtime/metrics"
	"sync"
	"time"
)

// Limits bounds a single script execution
type Limits struct {
	Timeout        time.Duration
	MemoryLimit    uint64 // bytes of heap growth
	MaxSourceBytes int
	MaxOutputBytes int
}

// DefaultLimits returns the limits used when none are configured
func DefaultLimits() Limits {
	return Limits{
		Timeout:        2 * time.Second,
		MemoryLimit:    64 << 20,
		MaxSourceBytes: 64 << 10,
		MaxOutputBytes: 16 << 10,
	}
}

// boundedWriter captures script output and trips once max bytes are exceeded
type boundedWriter struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	max      int
	overflow func()
	tripped  bool
}

func (w *boundedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.tripped {
		return len(p), nil
	}
	if w.max > 0 && w.buf.Len()+len(p) > w.max {
		w.tripped = true
		w.overflow()
		return len(p), nil
	}
	return w.buf.Write(p)
}

func (w *boundedWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func (w *boundedWriter) Bytes() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return bytes.Clone(w.buf.Bytes())
}

const heapMetric = "/memory/classes/heap/objects:bytes"

func heapBytes() uint64 {
	sample := []metrics.Sample{{Name: heapMetric}}
	metrics.Read(sample)
	if sample[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return sample[0].Value.Uint64()
}

// watchHeap cancels the execution once heap occupancy grows more than limit
// bytes past its level at start. It runs inside the sandbox child, where the
// script is the only tenant of the heap. Single allocations too large to wait
// for are stopped by the child's data segment cap instead.
// The returned stop function blocks until the watchdog has exited.
func watchHeap(ctx context.Context, limit uint64, interval time.Duration, cancel context.CancelCauseFunc) (stop func()) {
	if limit == 0 {
		return func() {}
	}
	baseline := heapBytes()
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if now := heapBytes(); now > baseline && now-baseline > limit {
					cancel(errMemoryLimit)
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// emptyFS stops the interpreter from loading any package source from disk
type emptyFS struct{}

func (emptyFS) Open(name string) (fs.File, error) {
	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}
