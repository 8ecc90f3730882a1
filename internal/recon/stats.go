package recon

import (
	"sync"
	"time"

	"github.com/paywatch/payhook-backend/pkg/enums"
)

const statsWindowSize = 100

// Tracker keeps a rolling window of recent outcomes per portal. The batch
// scheduler narrows its concurrency and the engine stretches its timeouts
// for portals showing elevated error rates or latency.
type Tracker struct {
	mu      sync.Mutex
	windows map[enums.Portal]*window
}

type window struct {
	samples []sample
	next    int
	filled  bool
}

type sample struct {
	latency time.Duration
	failed  bool
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{windows: make(map[enums.Portal]*window)}
}

// Record adds one processed transaction's latency and outcome.
func (t *Tracker) Record(portal enums.Portal, latency time.Duration, failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.windows[portal]
	if !ok {
		w = &window{samples: make([]sample, statsWindowSize)}
		t.windows[portal] = w
	}
	w.samples[w.next] = sample{latency: latency, failed: failed}
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.filled = true
	}
}

// ErrorRate returns the share of failed transactions in the window, 0 when
// nothing has been recorded.
func (t *Tracker) ErrorRate(portal enums.Portal) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.windows[portal]
	if !ok {
		return 0
	}
	count, failed := w.counts()
	if count == 0 {
		return 0
	}
	return float64(failed) / float64(count)
}

// AvgLatency returns the mean latency over the window, 0 when nothing has
// been recorded.
func (t *Tracker) AvgLatency(portal enums.Portal) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.windows[portal]
	if !ok {
		return 0
	}
	count := w.len()
	if count == 0 {
		return 0
	}
	var total time.Duration
	for i := 0; i < count; i++ {
		total += w.samples[i].latency
	}
	return total / time.Duration(count)
}

func (w *window) len() int {
	if w.filled {
		return len(w.samples)
	}
	return w.next
}

func (w *window) counts() (count, failed int) {
	count = w.len()
	for i := 0; i < count; i++ {
		if w.samples[i].failed {
			failed++
		}
	}
	return count, failed
}
