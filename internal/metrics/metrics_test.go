package metrics

import (
	"testing"
	"time"
)

func pushN(s *Store, process string, kind Kind, values ...float64) {
	base := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	for i, v := range values {
		s.Push(process, kind, v, base.Add(time.Duration(i)*time.Second))
	}
}

func TestStorePushAndSparkline(t *testing.T) {
	s := NewStore(8)
	pushN(s, "web", KindLatencyMs, 10, 20, 30)

	samples := s.Sparkline("web", KindLatencyMs, 10)
	if len(samples) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(samples))
	}
	if samples[0].Value != 10 || samples[2].Value != 30 {
		t.Errorf("wrong order: %v", samples)
	}

	last2 := s.Sparkline("web", KindLatencyMs, 2)
	if len(last2) != 2 || last2[0].Value != 20 {
		t.Errorf("last 2 = %v", last2)
	}
}

func TestRingOverwritesOldest(t *testing.T) {
	s := NewStore(3)
	pushN(s, "web", KindCPU, 1, 2, 3, 4, 5)

	samples := s.Sparkline("web", KindCPU, 10)
	if len(samples) != 3 {
		t.Fatalf("expected capacity-bounded 3 samples, got %d", len(samples))
	}
	if samples[0].Value != 3 || samples[2].Value != 5 {
		t.Errorf("expected oldest evicted, got %v", samples)
	}
}

func TestStorePercentile(t *testing.T) {
	s := NewStore(100)
	for v := 1; v <= 100; v++ {
		s.Push("web", KindLatencyMs, float64(v), time.Now())
	}

	if p50 := s.Percentile("web", KindLatencyMs, 50); p50 < 49 || p50 > 51 {
		t.Errorf("p50 = %v", p50)
	}
	if p99 := s.Percentile("web", KindLatencyMs, 99); p99 < 98 || p99 > 100 {
		t.Errorf("p99 = %v", p99)
	}
	if p0 := s.Percentile("web", KindLatencyMs, 0); p0 != 1 {
		t.Errorf("p0 = %v", p0)
	}
	if p100 := s.Percentile("web", KindLatencyMs, 100); p100 != 100 {
		t.Errorf("p100 = %v", p100)
	}
}

func TestStoreUnknownSeries(t *testing.T) {
	s := NewStore(8)
	if got := s.Percentile("nope", KindCPU, 95); got != 0 {
		t.Errorf("percentile of unknown series = %v", got)
	}
	if got := s.Sparkline("nope", KindCPU, 5); got != nil {
		t.Errorf("sparkline of unknown series = %v", got)
	}
	if _, ok := s.Latest("nope", KindCPU); ok {
		t.Error("latest of unknown series should not exist")
	}
}

func TestSeriesAreIndependent(t *testing.T) {
	s := NewStore(8)
	pushN(s, "web", KindCPU, 50)
	pushN(s, "worker", KindCPU, 80)
	pushN(s, "web", KindRSS, 1024)

	if v, _ := s.Latest("web", KindCPU); v.Value != 50 {
		t.Errorf("web cpu = %v", v.Value)
	}
	if v, _ := s.Latest("worker", KindCPU); v.Value != 80 {
		t.Errorf("worker cpu = %v", v.Value)
	}
}

func TestParseStatTicks(t *testing.T) {
	// comm containing spaces and parens must not shift the field offsets
	line := "1234 (ruby (web) x) S 1 1234 1234 0 -1 4194304 100 0 0 0 250 150 0 0 20 0 5 0 12345 1000000 2000 184467440737095516 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0"
	ticks, err := parseStatTicks(line)
	if err != nil {
		t.Fatal(err)
	}
	if ticks != 400 {
		t.Errorf("ticks = %d, want 400 (utime 250 + stime 150)", ticks)
	}
}

func TestParseStatTicksMalformed(t *testing.T) {
	if _, err := parseStatTicks("no closing paren"); err == nil {
		t.Error("expected error for malformed line")
	}
	if _, err := parseStatTicks("1 (x) S 1 2"); err == nil {
		t.Error("expected error for short line")
	}
}

func TestParseStatmRSS(t *testing.T) {
	rss, err := parseStatmRSS("5000 2500 300 10 0 400 0", 4096)
	if err != nil {
		t.Fatal(err)
	}
	if rss != 2500*4096 {
		t.Errorf("rss = %d", rss)
	}
}

func TestSamplerCPUDelta(t *testing.T) {
	s := NewSampler(NewStore(8), func() map[string]int { return nil }, time.Second)

	base := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)

	// First observation only records a baseline.
	if _, ok := s.cpuPercentFromTicks(42, 100, base); ok {
		t.Error("first tick should not produce a sample")
	}

	// 100 additional ticks over 2s at 100 ticks/s = 50% of one core.
	pct, ok := s.cpuPercentFromTicks(42, 200, base.Add(2*time.Second))
	if !ok {
		t.Fatal("expected a sample on the second tick")
	}
	if pct != 50 {
		t.Errorf("pct = %v, want 50", pct)
	}

	// Counter going backwards (pid reuse) resets the baseline.
	if _, ok := s.cpuPercentFromTicks(42, 50, base.Add(4*time.Second)); ok {
		t.Error("backwards counter should not produce a sample")
	}
}
