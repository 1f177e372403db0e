package stream

import "time"

// perfWindow is a bounded ring of recent per-frame processing durations.
// It is owned by the capture loop goroutine and never locked.
type perfWindow struct {
	samples []time.Duration
	next    int
	filled  bool
}

func newPerfWindow(capacity int) *perfWindow {
	return &perfWindow{samples: make([]time.Duration, capacity)}
}

func (w *perfWindow) add(d time.Duration) {
	w.samples[w.next] = d
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.filled = true
	}
}

func (w *perfWindow) count() int {
	if w.filled {
		return len(w.samples)
	}
	return w.next
}

func (w *perfWindow) average() time.Duration {
	n := w.count()
	if n == 0 {
		return 0
	}
	var total time.Duration
	for i := 0; i < n; i++ {
		total += w.samples[i]
	}
	return total / time.Duration(n)
}

func (w *perfWindow) reset() {
	w.next = 0
	w.filled = false
}
