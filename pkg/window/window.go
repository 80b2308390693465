package window

import (
	"sync"

	"github.com/itohio/hydromon/pkg/sample"
)

// DefaultCapacity is the number of samples kept when none is configured.
const DefaultCapacity = 50

// Window is a fixed-capacity FIFO of the most recent samples.
//
// Internally it is a ring buffer; externally Snapshot returns an ordered
// slice (oldest first, newest last). When full, Append overwrites the
// oldest sample. There is no other way to remove samples.
type Window struct {
	mu    sync.RWMutex
	buf   []sample.Sample
	start int // index of the oldest sample
	n     int
}

// New creates a window holding at most capacity samples.
// A capacity <= 0 uses DefaultCapacity.
func New(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Window{buf: make([]sample.Sample, capacity)}
}

// Append adds s as the newest sample, evicting the oldest when full.
func (w *Window) Append(s sample.Sample) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.n < len(w.buf) {
		w.buf[(w.start+w.n)%len(w.buf)] = s
		w.n++
		return
	}
	w.buf[w.start] = s
	w.start = (w.start + 1) % len(w.buf)
}

// Snapshot returns a copy of the samples, oldest first.
// It is safe to call concurrently with Append.
func (w *Window) Snapshot() []sample.Sample {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]sample.Sample, w.n)
	first := copy(out, w.buf[w.start:min(w.start+w.n, len(w.buf))])
	copy(out[first:], w.buf[:w.n-first])
	return out
}

// Latest returns the newest sample, or false when the window is empty.
func (w *Window) Latest() (sample.Sample, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.n == 0 {
		return sample.Sample{}, false
	}
	return w.buf[(w.start+w.n-1)%len(w.buf)], true
}

// Len returns the number of samples held.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.n
}

// Cap returns the capacity.
func (w *Window) Cap() int {
	return len(w.buf)
}
