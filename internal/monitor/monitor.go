// Package monitor wires the per-process classifiers to the session-wide
// aggregators. It is the single consumer of raw supervisor output: bytes
// come in per process, typed events fan out to the query analyzer, request
// aggregator, exception grouper, and test tracker, and read-only snapshots
// come back out for rendering.
package monitor

import (
	"strings"
	"sync"
	"time"

	"github.com/blackwell-systems/railscope/internal/classify"
	"github.com/blackwell-systems/railscope/internal/event"
	"github.com/blackwell-systems/railscope/internal/exception"
	"github.com/blackwell-systems/railscope/internal/metrics"
	"github.com/blackwell-systems/railscope/internal/query"
	"github.com/blackwell-systems/railscope/internal/request"
	"github.com/blackwell-systems/railscope/internal/testrun"
)

// Options assembles a Monitor from configured components. Nil fields get
// defaults, so tests can build a Monitor with one line.
type Options struct {
	Analyzer   *query.Analyzer
	Requests   *request.Aggregator
	Exceptions *exception.Grouper
	Tests      *testrun.Tracker

	// Metrics receives per-request latency and error-rate samples when set.
	Metrics *metrics.Store

	// NPlusOneThreshold is the per-context repeat threshold.
	NPlusOneThreshold int
	// TailCapacity bounds the per-process raw line tail.
	TailCapacity int
}

// Monitor owns one classifier per process plus the shared aggregators.
type Monitor struct {
	mu          sync.Mutex
	classifiers map[string]*classify.Classifier
	tails       map[string]*lineTail
	startupErrs map[string][]event.StartupError

	analyzer   *query.Analyzer
	requests   *request.Aggregator
	exceptions *exception.Grouper
	tests      *testrun.Tracker
	metrics    *metrics.Store

	// per-process completion tallies backing the error-rate series
	completed map[string]int
	failed    map[string]int

	nPlusOneThreshold int
	tailCapacity      int
}

// New returns a Monitor ready to consume output.
func New(opts Options) *Monitor {
	if opts.Analyzer == nil {
		opts.Analyzer = query.NewAnalyzer(query.DefaultConfig())
	}
	if opts.Requests == nil {
		opts.Requests = request.NewAggregator(0)
	}
	if opts.Exceptions == nil {
		opts.Exceptions = exception.NewGrouper(exception.Config{})
	}
	if opts.Tests == nil {
		opts.Tests = testrun.NewTracker(0, 0)
	}
	if opts.NPlusOneThreshold <= 0 {
		opts.NPlusOneThreshold = opts.Analyzer.NPlusOneThreshold()
	}
	if opts.TailCapacity <= 0 {
		opts.TailCapacity = 500
	}
	return &Monitor{
		classifiers:       make(map[string]*classify.Classifier),
		tails:             make(map[string]*lineTail),
		startupErrs:       make(map[string][]event.StartupError),
		completed:         make(map[string]int),
		failed:            make(map[string]int),
		analyzer:          opts.Analyzer,
		requests:          opts.Requests,
		exceptions:        opts.Exceptions,
		tests:             opts.Tests,
		metrics:           opts.Metrics,
		nPlusOneThreshold: opts.NPlusOneThreshold,
		tailCapacity:      opts.TailCapacity,
	}
}

// Consume ingests one raw chunk from a process. This is the supervisor's
// OutputFunc; chunks for a process must arrive in order, which the
// supervisor's single reader per process guarantees.
func (m *Monitor) Consume(process string, chunk []byte) {
	m.mu.Lock()
	cls, ok := m.classifiers[process]
	if !ok {
		cls = classify.New(classify.Options{})
		m.classifiers[process] = cls
	}
	tail, ok := m.tails[process]
	if !ok {
		tail = newLineTail(m.tailCapacity)
		m.tails[process] = tail
	}
	events := cls.Feed(chunk)
	m.mu.Unlock()

	for _, ev := range events {
		m.dispatch(process, tail, ev)
	}
}

// ProcessStopped finalizes a process's classifier: a pending exception is
// flushed, a partial trailing line is discarded. The classifier is removed
// so a restart starts clean.
func (m *Monitor) ProcessStopped(process string) {
	m.mu.Lock()
	cls, ok := m.classifiers[process]
	tail := m.tails[process]
	if ok {
		delete(m.classifiers, process)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	for _, ev := range cls.Close() {
		m.dispatch(process, tail, ev)
	}
}

func (m *Monitor) dispatch(process string, tail *lineTail, ev event.Event) {
	switch e := ev.(type) {
	case event.RequestStarted:
		m.requests.OnStarted(process, e)
		tail.push(e.Method + " " + e.Path)
	case event.RequestCompleted:
		if ctx := m.requests.OnCompleted(process, e); ctx != nil {
			m.analyzer.RecordRequest(ctx.Method, ctx.Path, e.Status, e.DurationMs, e.DBMs)
			m.recordRequestMetrics(process, e)
		}
	case event.SqlQuery:
		m.requests.OnQuery(process, e)
		m.analyzer.Record(e)
	case event.ExceptionRaised:
		m.exceptions.Record(process, e)
		tail.push(e.Class + ": " + e.Message)
	case event.TestResult:
		m.tests.OnResult(e)
	case event.TestRunFinished:
		m.tests.OnRunFinished(e)
	case event.DebuggerHit:
		m.tests.OnDebugger(process, e)
	case event.StartupError:
		m.mu.Lock()
		m.startupErrs[process] = append(m.startupErrs[process], e)
		m.mu.Unlock()
		tail.push("startup error: " + e.Detail)
	case event.Generic:
		if text := strings.TrimRight(e.Text, "\r\n"); text != "" {
			tail.push(text)
		}
	}
}

// recordRequestMetrics feeds the latency and error-rate series from one
// completed request. Error rate is the cumulative share of status >= 400
// completions for the process, in percent.
func (m *Monitor) recordRequestMetrics(process string, e event.RequestCompleted) {
	if m.metrics == nil {
		return
	}
	m.mu.Lock()
	m.completed[process]++
	if e.Status >= 400 {
		m.failed[process]++
	}
	rate := float64(m.failed[process]) / float64(m.completed[process]) * 100
	m.mu.Unlock()

	now := time.Now()
	m.metrics.Push(process, metrics.KindLatencyMs, e.DurationMs, now)
	m.metrics.Push(process, metrics.KindErrorRate, rate, now)
}

// Analyzer exposes the query analyzer for the health scorer and views.
func (m *Monitor) Analyzer() *query.Analyzer { return m.analyzer }

// Requests exposes the request aggregator.
func (m *Monitor) Requests() *request.Aggregator { return m.requests }

// Exceptions exposes the exception grouper.
func (m *Monitor) Exceptions() *exception.Grouper { return m.exceptions }

// Tests exposes the test run tracker.
func (m *Monitor) Tests() *testrun.Tracker { return m.tests }

// Tail returns up to n recent raw lines for a process, oldest first.
func (m *Monitor) Tail(process string, n int) []string {
	m.mu.Lock()
	tail, ok := m.tails[process]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return tail.last(n)
}

// StartupErrors returns the startup errors recorded for a process.
func (m *Monitor) StartupErrors(process string) []event.StartupError {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]event.StartupError(nil), m.startupErrs[process]...)
}

// NPlusOne recomputes findings over the retained request contexts. Findings
// are derived on read, never stored, so eviction of old contexts naturally
// ages them out.
func (m *Monitor) NPlusOne() []ContextFindings {
	var out []ContextFindings
	for _, ctx := range m.requests.Recent() {
		findings := query.DetectNPlusOne(ctx.Queries, m.nPlusOneThreshold)
		if len(findings) == 0 {
			continue
		}
		out = append(out, ContextFindings{
			Process:  ctx.Process,
			Method:   ctx.Method,
			Path:     ctx.Path,
			Findings: findings,
		})
	}
	return out
}

// ContextFindings attaches N+1 findings to the request that produced them.
type ContextFindings struct {
	Process  string
	Method   string
	Path     string
	Findings []query.Finding
}

// lineTail is a bounded string ring for the raw output view.
type lineTail struct {
	mu    sync.Mutex
	lines []string
	cap   int
}

func newLineTail(capacity int) *lineTail {
	return &lineTail{cap: capacity}
}

func (t *lineTail) push(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.cap {
		copy(t.lines, t.lines[1:])
		t.lines = t.lines[:t.cap]
	}
}

func (t *lineTail) last(n int) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	lines := t.lines
	if n < len(lines) {
		lines = lines[len(lines)-n:]
	}
	return append([]string(nil), lines...)
}
