// Package request correlates each process's event sequence into bounded
// per-HTTP-request contexts. A context collects the SQL queries observed
// between a RequestStarted and its matching RequestCompleted.
package request

import (
	"sync"
	"time"

	"github.com/blackwell-systems/railscope/internal/event"
)

// Context is the query activity attributed to one HTTP request lifecycle.
// Identity is (process, sequence); Seq increases monotonically per
// aggregator. Once closed a context is immutable.
type Context struct {
	Process string
	Seq     uint64

	Method    string
	Path      string
	StartedAt time.Time

	Queries []event.SqlQuery

	// Closed request fields, populated on completion.
	Status     int
	DurationMs float64
	ViewMs     float64
	DBMs       float64

	// Unterminated marks a context force-closed because a new request
	// started before this one completed. It is still reportable.
	Unterminated bool
}

// QueryTimeMs sums the durations of the context's queries.
func (c *Context) QueryTimeMs() float64 {
	var total float64
	for _, q := range c.Queries {
		total += q.DurationMs
	}
	return total
}

// Diagnostics counts recovered invariant violations. These are surfaced in
// the low-priority status banner, never raised as errors.
type Diagnostics struct {
	DroppedCompletions int // RequestCompleted with no open context
	ForceClosed        int // contexts closed by a subsequent RequestStarted
	OrphanQueries      int // SQL events seen with no open context
}

// Aggregator runs one {Idle, Open} state machine per process and keeps a
// bounded ring of recently closed contexts. Eviction from the ring does not
// touch the query analyzer's aggregates, which live independently.
type Aggregator struct {
	mu        sync.Mutex
	retention int
	seq       uint64

	open   map[string]*Context // at most one open context per process
	closed []*Context          // ring, oldest first
	diag   Diagnostics
}

// NewAggregator returns an Aggregator retaining the given number of closed
// contexts. Non-positive retention falls back to 100.
func NewAggregator(retention int) *Aggregator {
	if retention <= 0 {
		retention = 100
	}
	return &Aggregator{
		retention: retention,
		open:      make(map[string]*Context),
	}
}

// OnStarted opens a context for the process. If one is already open it is
// force-closed as unterminated first; servers that never emit a terminating
// line would otherwise grow the open context without bound. The returned
// context is the force-closed one, or nil.
func (a *Aggregator) OnStarted(process string, ev event.RequestStarted) *Context {
	a.mu.Lock()
	defer a.mu.Unlock()

	var evicted *Context
	if prev, ok := a.open[process]; ok {
		prev.Unterminated = true
		a.pushClosed(prev)
		a.diag.ForceClosed++
		evicted = prev
	}

	a.seq++
	a.open[process] = &Context{
		Process:   process,
		Seq:       a.seq,
		Method:    ev.Method,
		Path:      ev.Path,
		StartedAt: ev.At,
	}
	return evicted
}

// OnQuery appends a SQL event to the process's open context. Queries seen
// while Idle belong to background work and are counted, not attributed.
func (a *Aggregator) OnQuery(process string, ev event.SqlQuery) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ctx, ok := a.open[process]
	if !ok {
		a.diag.OrphanQueries++
		return
	}
	ctx.Queries = append(ctx.Queries, ev)
}

// OnCompleted closes the process's open context, attaching the duration
// breakdown, and returns it. A completion with no open context is treated
// as a no-op and counted for diagnostics.
func (a *Aggregator) OnCompleted(process string, ev event.RequestCompleted) *Context {
	a.mu.Lock()
	defer a.mu.Unlock()

	ctx, ok := a.open[process]
	if !ok {
		a.diag.DroppedCompletions++
		return nil
	}
	delete(a.open, process)

	ctx.Status = ev.Status
	ctx.DurationMs = ev.DurationMs
	ctx.ViewMs = ev.ViewMs
	ctx.DBMs = ev.DBMs
	a.pushClosed(ctx)
	return ctx
}

// pushClosed appends to the ring, evicting the oldest entry at capacity.
// Callers hold a.mu.
func (a *Aggregator) pushClosed(ctx *Context) {
	a.closed = append(a.closed, ctx)
	if len(a.closed) > a.retention {
		// Shift in place; the ring is small and eviction is one entry.
		copy(a.closed, a.closed[1:])
		a.closed = a.closed[:a.retention]
	}
}

// Recent returns copies of the closed contexts, oldest first.
func (a *Aggregator) Recent() []Context {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Context, len(a.closed))
	for i, ctx := range a.closed {
		out[i] = *ctx
		out[i].Queries = append([]event.SqlQuery(nil), ctx.Queries...)
	}
	return out
}

// Open returns a copy of the process's open context, or nil.
func (a *Aggregator) Open(process string) *Context {
	a.mu.Lock()
	defer a.mu.Unlock()

	ctx, ok := a.open[process]
	if !ok {
		return nil
	}
	cp := *ctx
	cp.Queries = append([]event.SqlQuery(nil), ctx.Queries...)
	return &cp
}

// Diag returns the recovered-violation counters.
func (a *Aggregator) Diag() Diagnostics {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.diag
}
