package metrics

import (
	"sync"
	"time"
)

// Kind names a metric series.
type Kind string

const (
	KindLatencyMs Kind = "latency_ms"
	KindCPU       Kind = "cpu_pct"
	KindRSS       Kind = "rss_bytes"
	KindErrorRate Kind = "error_rate"
)

// Store holds one ring per (process, kind). Rings are created lazily on
// first push with the configured capacity.
type Store struct {
	mu       sync.Mutex
	capacity int
	series   map[seriesKey]*ring
}

type seriesKey struct {
	process string
	kind    Kind
}

// NewStore returns a Store whose rings hold capacity samples each.
// Non-positive capacity falls back to 512.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = 512
	}
	return &Store{
		capacity: capacity,
		series:   make(map[seriesKey]*ring),
	}
}

// Push records a sample, overwriting the oldest one when the ring is full.
func (s *Store) Push(process string, kind Kind, value float64, at time.Time) {
	key := seriesKey{process, kind}

	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.series[key]
	if !ok {
		r = newRing(s.capacity)
		s.series[key] = r
	}
	r.push(Sample{At: at, Value: value})
}

// Percentile computes the p-th percentile (0–100) of the current window,
// or 0 when the series is empty or unknown.
func (s *Store) Percentile(process string, kind Kind, p float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.series[seriesKey{process, kind}]
	if !ok {
		return 0
	}
	return r.percentile(p)
}

// Sparkline returns up to n most recent samples, oldest first.
func (s *Store) Sparkline(process string, kind Kind, n int) []Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.series[seriesKey{process, kind}]
	if !ok {
		return nil
	}
	return r.last(n)
}

// Latest returns the most recent sample and whether one exists.
func (s *Store) Latest(process string, kind Kind) (Sample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.series[seriesKey{process, kind}]
	if !ok || r.count == 0 {
		return Sample{}, false
	}
	all := r.last(1)
	return all[0], true
}
