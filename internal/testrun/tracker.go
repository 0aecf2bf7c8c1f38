// Package testrun tallies test-framework activity observed in process
// output: run summaries, per-test results, and debugger stops.
package testrun

import (
	"sort"
	"sync"
	"time"

	"github.com/blackwell-systems/railscope/internal/event"
)

// RunSummary is one completed framework run.
type RunSummary struct {
	Framework  string
	Total      int
	Failed     int
	Pending    int
	Skipped    int
	Errors     int
	DurationMs float64
	At         time.Time
}

// Passed reports whether the run had no failures or errors.
func (r RunSummary) Passed() bool {
	return r.Failed == 0 && r.Errors == 0
}

// SlowTest is a named test retained for the slowest-test list.
type SlowTest struct {
	Name       string
	DurationMs float64
}

// DebuggerStop records a debugger prompt observed in the stream. The test
// view flags these because a forgotten binding.pry hangs CI.
type DebuggerStop struct {
	Process  string
	Debugger string
	File     string
	Line     int
	At       time.Time
}

// Snapshot is the read-only view for rendering.
type Snapshot struct {
	LastRun   *RunSummary
	RunsSeen  int
	Passed    int
	Failed    int
	Pending   int
	Skipped   int
	Slowest   []SlowTest
	Debuggers []DebuggerStop
}

// Tracker consumes test events across processes. Tallies accumulate over
// the whole session; LastRun reflects only the most recent summary line.
type Tracker struct {
	mu sync.Mutex

	lastRun  *RunSummary
	runsSeen int

	passed  int
	failed  int
	pending int
	skipped int

	slowest    []SlowTest
	slowestCap int

	debuggers    []DebuggerStop
	debuggersCap int
}

// NewTracker returns a Tracker keeping the given number of slowest tests
// and recent debugger stops. Non-positive caps fall back to 10 and 20.
func NewTracker(slowestCap, debuggersCap int) *Tracker {
	if slowestCap <= 0 {
		slowestCap = 10
	}
	if debuggersCap <= 0 {
		debuggersCap = 20
	}
	return &Tracker{slowestCap: slowestCap, debuggersCap: debuggersCap}
}

// OnResult folds one per-test result into the tallies and the slow list.
func (t *Tracker) OnResult(ev event.TestResult) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch ev.Outcome {
	case event.TestPassed:
		t.passed++
	case event.TestFailed:
		t.failed++
	case event.TestPending:
		t.pending++
	case event.TestSkipped:
		t.skipped++
	}

	if ev.DurationMs <= 0 {
		return
	}
	t.slowest = append(t.slowest, SlowTest{Name: ev.Name, DurationMs: ev.DurationMs})
	sort.SliceStable(t.slowest, func(i, j int) bool {
		return t.slowest[i].DurationMs > t.slowest[j].DurationMs
	})
	if len(t.slowest) > t.slowestCap {
		t.slowest = t.slowest[:t.slowestCap]
	}
}

// OnRunFinished records a framework summary line.
func (t *Tracker) OnRunFinished(ev event.TestRunFinished) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.runsSeen++
	t.lastRun = &RunSummary{
		Framework:  ev.Framework,
		Total:      ev.Total,
		Failed:     ev.Failed,
		Pending:    ev.Pending,
		Skipped:    ev.Skipped,
		Errors:     ev.Errors,
		DurationMs: ev.DurationMs,
		At:         ev.At,
	}
}

// OnDebugger records a debugger stop, evicting the oldest past the cap.
func (t *Tracker) OnDebugger(process string, ev event.DebuggerHit) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.debuggers = append(t.debuggers, DebuggerStop{
		Process:  process,
		Debugger: ev.Debugger,
		File:     ev.File,
		Line:     ev.Line,
		At:       ev.At,
	})
	if len(t.debuggers) > t.debuggersCap {
		t.debuggers = t.debuggers[1:]
	}
}

// DebuggerActive reports whether any debugger stop has been seen since the
// given time. Zero time means "ever".
func (t *Tracker) DebuggerActive(since time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, d := range t.debuggers {
		if since.IsZero() || d.At.After(since) {
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := Snapshot{
		RunsSeen:  t.runsSeen,
		Passed:    t.passed,
		Failed:    t.failed,
		Pending:   t.pending,
		Skipped:   t.skipped,
		Slowest:   append([]SlowTest(nil), t.slowest...),
		Debuggers: append([]DebuggerStop(nil), t.debuggers...),
	}
	if t.lastRun != nil {
		run := *t.lastRun
		snap.LastRun = &run
	}
	return snap
}
