// Package metrics keeps fixed-capacity time series per (process, kind) and
// samples OS-level resource usage for supervised processes.
package metrics

import (
	"sort"
	"time"
)

// Sample is one observation in a series.
type Sample struct {
	At    time.Time
	Value float64
}

// ring is a fixed-capacity buffer; the oldest sample is overwritten when
// full. Retention is bounded by configuration, never by error.
type ring struct {
	buf   []Sample
	head  int // next write position
	count int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Sample, capacity)}
}

func (r *ring) push(s Sample) {
	r.buf[r.head] = s
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// snapshot returns the samples oldest first.
func (r *ring) snapshot() []Sample {
	out := make([]Sample, 0, r.count)
	start := r.head - r.count
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

// last returns up to n most recent samples, oldest first.
func (r *ring) last(n int) []Sample {
	all := r.snapshot()
	if n < len(all) {
		all = all[len(all)-n:]
	}
	return all
}

// percentile computes the p-th percentile (0–100) over the current window
// via a sorted copy. Returns 0 on an empty window.
func (r *ring) percentile(p float64) float64 {
	if r.count == 0 {
		return 0
	}
	values := make([]float64, 0, r.count)
	for _, s := range r.snapshot() {
		values = append(values, s.Value)
	}
	sort.Float64s(values)
	if p <= 0 {
		return values[0]
	}
	if p >= 100 {
		return values[len(values)-1]
	}
	idx := int(float64(len(values)-1) * p / 100.0)
	return values[idx]
}
