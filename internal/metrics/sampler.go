package metrics

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// clockTicksPerSec is the kernel's USER_HZ. Linux has reported 100 for all
// supported architectures for a long time; sysconf(_SC_CLK_TCK) needs cgo.
const clockTicksPerSec = 100

// PIDFunc reports the current processes to sample as name -> pid. Processes
// that stop between ticks simply drop out of the map.
type PIDFunc func() map[string]int

// Sampler polls /proc for each supervised process on a fixed interval and
// pushes CPU% and RSS samples into the store. CPU% is computed from the
// utime+stime delta between consecutive ticks, so the first tick for a pid
// records only a baseline.
type Sampler struct {
	store    *Store
	pids     PIDFunc
	interval time.Duration

	prev map[int]cpuTimes
}

type cpuTimes struct {
	ticks uint64
	at    time.Time
}

// NewSampler returns a Sampler polling at the given interval. Non-positive
// intervals fall back to 2 seconds.
func NewSampler(store *Store, pids PIDFunc, interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Sampler{
		store:    store,
		pids:     pids,
		interval: interval,
		prev:     make(map[int]cpuTimes),
	}
}

// Run samples until the context is cancelled. Per-process read failures are
// skipped; a pid that vanished mid-tick is not an error.
func (s *Sampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			s.sampleAll(now)
		}
	}
}

func (s *Sampler) sampleAll(now time.Time) {
	live := make(map[int]bool)
	for name, pid := range s.pids() {
		live[pid] = true

		if pct, ok := s.cpuPercent(pid, now); ok {
			s.store.Push(name, KindCPU, pct, now)
		}
		if rss, err := readRSSBytes(pid); err == nil {
			s.store.Push(name, KindRSS, float64(rss), now)
		}
	}
	for pid := range s.prev {
		if !live[pid] {
			delete(s.prev, pid)
		}
	}
}

// cpuPercent reads cumulative CPU ticks for the pid and converts the delta
// since the previous tick into a utilization percentage. Can exceed 100 on
// multicore hosts, matching top's convention.
func (s *Sampler) cpuPercent(pid int, now time.Time) (float64, bool) {
	ticks, err := readCPUTicks(pid)
	if err != nil {
		return 0, false
	}
	return s.cpuPercentFromTicks(pid, ticks, now)
}

func (s *Sampler) cpuPercentFromTicks(pid int, ticks uint64, now time.Time) (float64, bool) {
	prev, seen := s.prev[pid]
	s.prev[pid] = cpuTimes{ticks: ticks, at: now}
	if !seen || ticks < prev.ticks {
		return 0, false
	}
	elapsed := now.Sub(prev.at).Seconds()
	if elapsed <= 0 {
		return 0, false
	}
	return float64(ticks-prev.ticks) / clockTicksPerSec / elapsed * 100, true
}

func readCPUTicks(pid int) (uint64, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0, err
	}
	return parseStatTicks(string(data))
}

// parseStatTicks extracts utime+stime from a /proc/pid/stat line. The comm
// field may contain spaces and parentheses, so fields are counted from the
// last ')'.
func parseStatTicks(content string) (uint64, error) {
	idx := strings.LastIndexByte(content, ')')
	if idx < 0 {
		return 0, fmt.Errorf("malformed stat line")
	}
	fields := strings.Fields(content[idx+1:])
	// After comm: field 0 is state; utime and stime are fields 11 and 12.
	if len(fields) < 13 {
		return 0, fmt.Errorf("short stat line: %d fields", len(fields))
	}
	utime, err := strconv.ParseUint(fields[11], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse utime: %w", err)
	}
	stime, err := strconv.ParseUint(fields[12], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse stime: %w", err)
	}
	return utime + stime, nil
}

func readRSSBytes(pid int) (uint64, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/statm", pid))
	if err != nil {
		return 0, err
	}
	return parseStatmRSS(string(data), uint64(os.Getpagesize()))
}

// parseStatmRSS extracts resident pages (second field of /proc/pid/statm)
// and converts to bytes.
func parseStatmRSS(content string, pageSize uint64) (uint64, error) {
	fields := strings.Fields(content)
	if len(fields) < 2 {
		return 0, fmt.Errorf("short statm line")
	}
	pages, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse rss pages: %w", err)
	}
	return pages * pageSize, nil
}
