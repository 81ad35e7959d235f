// Package ringbuf provides a fixed-capacity trailing window over the most
// recent values of a stream. Pushing into a full window evicts the oldest
// value, so memory stays bounded no matter how long the stream runs.
//
// A Window is not safe for concurrent use; each streaming task owns its own.
package ringbuf

// Window is a circular buffer holding the last size values pushed.
type Window[T any] struct {
	buf   []T
	start int // index of the oldest value
	n     int // number of values held
}

// New creates a window holding at most size values. Minimum size is 1.
func New[T any](size int) *Window[T] {
	if size < 1 {
		size = 1
	}
	return &Window[T]{buf: make([]T, size)}
}

// Push appends v. When the window is full the oldest value is evicted and
// returned with evicted=true.
func (w *Window[T]) Push(v T) (old T, evicted bool) {
	if w.n < len(w.buf) {
		w.buf[(w.start+w.n)%len(w.buf)] = v
		w.n++
		return old, false
	}
	old = w.buf[w.start]
	w.buf[w.start] = v
	w.start = (w.start + 1) % len(w.buf)
	return old, true
}

// At returns the i-th value, oldest first. Panics if i is out of range.
func (w *Window[T]) At(i int) T {
	if i < 0 || i >= w.n {
		panic("ringbuf: index out of range")
	}
	return w.buf[(w.start+i)%len(w.buf)]
}

// Len returns the current number of values held.
func (w *Window[T]) Len() int { return w.n }

// Full reports whether the window is at capacity.
func (w *Window[T]) Full() bool { return w.n == len(w.buf) }

// Reset empties the window.
func (w *Window[T]) Reset() {
	var zero T
	for i := range w.buf {
		w.buf[i] = zero
	}
	w.start, w.n = 0, 0
}

// Sum adds the held values oldest first. The sum is recomputed on every call
// so that repeated pushes never accumulate rounding drift.
func Sum(w *Window[float64]) float64 {
	s := 0.0
	for i := 0; i < w.n; i++ {
		s += w.At(i)
	}
	return s
}

// MinMax returns the smallest and largest held values. ok is false when the
// window is empty.
func MinMax(w *Window[float64]) (min, max float64, ok bool) {
	if w.n == 0 {
		return 0, 0, false
	}
	min, max = w.At(0), w.At(0)
	for i := 1; i < w.n; i++ {
		v := w.At(i)
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max, true
}
