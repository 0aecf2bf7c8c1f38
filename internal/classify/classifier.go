// Package classify turns the raw byte stream of a supervised process into
// typed log events. One Classifier instance serves one process: it carries
// the partial-line residual between reads and the bounded lookahead state
// used to collect exception backtraces. A fresh instance starts clean.
package classify

import (
	"strconv"
	"strings"
	"time"

	"github.com/blackwell-systems/railscope/internal/event"
)

// Options bounds the classifier's buffering.
type Options struct {
	// BacktraceLimit is the maximum number of backtrace lines collected for
	// one exception before it is finalized early.
	BacktraceLimit int

	// MaxLineBytes caps the residual buffer; a line longer than this is
	// truncated rather than buffered without bound.
	MaxLineBytes int
}

// DefaultOptions returns the classifier's default bounds.
func DefaultOptions() Options {
	return Options{
		BacktraceLimit: 200,
		MaxLineBytes:   64 * 1024,
	}
}

// Classifier converts raw process output into event.Event values.
// It is not safe for concurrent use; the supervisor guarantees each
// process's output is fed from a single goroutine in arrival order.
type Classifier struct {
	opts     Options
	residual []byte

	// pending exception being assembled across backtrace lines.
	pendingExc *pendingException

	// lastFinishedMs carries a "Finished in N seconds" duration to the test
	// summary line that follows it.
	lastFinishedMs float64

	generic   int
	discarded int

	now func() time.Time
}

type pendingException struct {
	class     string
	message   string
	backtrace []string
	at        time.Time
}

// New returns a Classifier with the given options.
func New(opts Options) *Classifier {
	if opts.BacktraceLimit <= 0 {
		opts.BacktraceLimit = DefaultOptions().BacktraceLimit
	}
	if opts.MaxLineBytes <= 0 {
		opts.MaxLineBytes = DefaultOptions().MaxLineBytes
	}
	return &Classifier{opts: opts, now: time.Now}
}

// Feed consumes a chunk of raw output and returns the events completed by
// it. Incomplete trailing bytes are carried to the next call.
func (c *Classifier) Feed(p []byte) []event.Event {
	c.residual = append(c.residual, p...)

	var events []event.Event
	for {
		i := indexNewline(c.residual)
		if i < 0 {
			break
		}
		line := string(c.residual[:i])
		c.residual = c.residual[i+1:]
		events = append(events, c.classifyLine(line)...)
	}

	// A pathological line with no newline must not buffer without bound.
	if len(c.residual) > c.opts.MaxLineBytes {
		line := string(c.residual[:c.opts.MaxLineBytes])
		c.residual = c.residual[:0]
		events = append(events, c.classifyLine(line)...)
	}
	return events
}

// Close finalizes any pending exception and discards the incomplete
// residual line, which cannot be reliably classified.
func (c *Classifier) Close() []event.Event {
	var events []event.Event
	if ev, ok := c.finalizeException(); ok {
		events = append(events, ev)
	}
	if len(c.residual) > 0 {
		c.discarded++
		c.residual = nil
	}
	return events
}

// GenericCount returns how many lines matched no rule and were delivered
// as Generic events.
func (c *Classifier) GenericCount() int { return c.generic }

// DiscardedCount returns how many partial lines were dropped at Close.
func (c *Classifier) DiscardedCount() int { return c.discarded }

func indexNewline(b []byte) int {
	for i, c := range b {
		if c == '\n' {
			return i
		}
	}
	return -1
}

// classifyLine matches one complete line against the rule set in priority
// order. It can return zero events (backtrace line absorbed into a pending
// exception) or two (a pending exception finalized by an unrelated line, or
// a lograge line expanding into start+complete).
func (c *Classifier) classifyLine(raw string) []event.Event {
	line := StripANSI(raw)
	now := c.now()

	// An open exception greedily consumes backtrace lines until a line that
	// is not one, or until the lookahead bound.
	if c.pendingExc != nil {
		if isBacktraceLine(line) {
			c.pendingExc.backtrace = append(c.pendingExc.backtrace, strings.TrimSpace(line))
			if len(c.pendingExc.backtrace) >= c.opts.BacktraceLimit {
				if ev, ok := c.finalizeException(); ok {
					return []event.Event{ev}
				}
			}
			return nil
		}
		var events []event.Event
		if ev, ok := c.finalizeException(); ok {
			events = append(events, ev)
		}
		return append(events, c.classifyLine(raw)...)
	}

	clean := stripTimestampPrefix(line)
	trimmed := strings.TrimSpace(clean)
	if trimmed == "" {
		return nil
	}

	if ev, ok := detectStartupError(trimmed, now); ok {
		return []event.Event{ev}
	}

	// Lograge single-line requests carry the whole lifecycle; emit the pair
	// so the aggregator sees one uniform shape.
	if m := logragePattern.FindStringSubmatch(clean); m != nil {
		status, _ := strconv.Atoi(m[3])
		dur, _ := strconv.ParseFloat(m[4], 64)
		return []event.Event{
			event.RequestStarted{Method: m[1], Path: m[2], At: now},
			event.RequestCompleted{Status: status, DurationMs: dur, At: now},
		}
	}

	if m := httpStartPattern.FindStringSubmatch(clean); m != nil {
		method, path := m[1], m[2]
		if method == "" {
			method, path = m[3], m[4]
		}
		return []event.Event{event.RequestStarted{Method: method, Path: path, At: now}}
	}

	if m := completedPattern.FindStringSubmatch(clean); m != nil {
		status, _ := strconv.Atoi(m[1])
		dur, _ := strconv.ParseFloat(m[2], 64)
		ev := event.RequestCompleted{Status: status, DurationMs: dur, At: now}
		if m[3] != "" {
			if vm := viewMsPattern.FindStringSubmatch(m[3]); vm != nil {
				ev.ViewMs, _ = strconv.ParseFloat(vm[1], 64)
			}
			if dm := dbMsPattern.FindStringSubmatch(m[3]); dm != nil {
				ev.DBMs, _ = strconv.ParseFloat(dm[1], 64)
			}
		}
		return []event.Event{ev}
	}

	if m := keyValueStartPattern.FindStringSubmatch(clean); m != nil {
		return []event.Event{event.RequestStarted{Method: m[1], Path: m[2], At: now}}
	}

	if m := sqlPattern.FindStringSubmatch(clean); m != nil {
		dur, _ := strconv.ParseFloat(m[2], 64)
		return []event.Event{event.SqlQuery{
			Raw:        stripQueryComments(m[3]),
			Name:       strings.TrimSpace(m[1]),
			DurationMs: dur,
			At:         now,
		}}
	}

	if m := sqlBarePattern.FindStringSubmatch(trimmed); m != nil {
		return []event.Event{event.SqlQuery{
			Raw: stripQueryComments(trimmed),
			At:  now,
		}}
	}

	if m := exceptionPattern.FindStringSubmatch(trimmed); m != nil {
		msg := m[2]
		if msg == "" {
			msg = m[3]
		}
		c.pendingExc = &pendingException{class: m[1], message: msg, at: now}
		return nil
	}

	if evs := c.classifyTestLine(trimmed, now); evs != nil {
		return evs
	}

	c.generic++
	return []event.Event{event.Generic{Text: line, At: now}}
}

func (c *Classifier) finalizeException() (event.Event, bool) {
	if c.pendingExc == nil {
		return nil, false
	}
	p := c.pendingExc
	c.pendingExc = nil
	return event.ExceptionRaised{
		Class:     p.class,
		Message:   p.message,
		Backtrace: p.backtrace,
		At:        p.at,
	}, true
}

// classifyTestLine handles test framework output: run summaries, failure
// listings, and debugger prompts. Returns nil when the line is not test
// output.
func (c *Classifier) classifyTestLine(line string, now time.Time) []event.Event {
	if m := finishedInPattern.FindStringSubmatch(line); m != nil {
		secs, _ := strconv.ParseFloat(m[1], 64)
		c.lastFinishedMs = secs * 1000
		// The summary line follows; the duration is attached there.
		return []event.Event{event.Generic{Text: line, At: now}}
	}

	if m := minitestSummaryPattern.FindStringSubmatch(line); m != nil {
		total, _ := strconv.Atoi(m[1])
		failed, _ := strconv.Atoi(m[3])
		errs, _ := strconv.Atoi(m[4])
		skipped, _ := strconv.Atoi(m[5])
		ev := event.TestRunFinished{
			Framework:  "minitest",
			Total:      total,
			Failed:     failed,
			Errors:     errs,
			Skipped:    skipped,
			DurationMs: c.lastFinishedMs,
			At:         now,
		}
		c.lastFinishedMs = 0
		return []event.Event{ev}
	}

	if m := rspecSummaryPattern.FindStringSubmatch(line); m != nil {
		total, _ := strconv.Atoi(m[1])
		failed, _ := strconv.Atoi(m[2])
		pending := 0
		if m[3] != "" {
			pending, _ = strconv.Atoi(m[3])
		}
		ev := event.TestRunFinished{
			Framework:  "rspec",
			Total:      total,
			Failed:     failed,
			Pending:    pending,
			DurationMs: c.lastFinishedMs,
			At:         now,
		}
		c.lastFinishedMs = 0
		return []event.Event{ev}
	}

	if m := rspecFailureRefPattern.FindStringSubmatch(line); m != nil {
		return []event.Event{event.TestResult{
			Name:    m[2],
			Outcome: event.TestFailed,
			At:      now,
		}}
	}

	if dbg := detectDebugger(line); dbg != "" {
		ev := event.DebuggerHit{Debugger: dbg, At: now}
		if m := debuggerFilePattern.FindStringSubmatch(line); m != nil {
			ev.File = m[1]
			ev.Line, _ = strconv.Atoi(m[2])
		}
		return []event.Event{ev}
	}

	return nil
}

func detectDebugger(line string) string {
	switch {
	case strings.Contains(line, "pry(") || strings.Contains(line, "Frame number:"):
		return "pry"
	case strings.Contains(line, "[byebug]") || strings.Contains(line, "byebug"):
		return "byebug"
	case strings.Contains(line, "DEBUGGER:"):
		return "debug"
	}
	return ""
}

// detectStartupError recognizes Rails boot failures and attaches the hint
// shown in the process view.
func detectStartupError(line string, now time.Time) (event.Event, bool) {
	lower := strings.ToLower(line)

	mk := func(cat event.StartupErrorKind, hint string) (event.Event, bool) {
		return event.StartupError{Category: cat, Detail: line, Hint: hint, At: now}, true
	}

	switch {
	case strings.Contains(lower, "pending migration"),
		containsAll(lower, "migrations", "pending"),
		strings.Contains(lower, "bin/rails db:migrate"):
		return mk(event.StartupPendingMigrations, "Run bin/rails db:migrate")

	case containsAll(lower, "database", "does not exist"),
		strings.Contains(lower, "unknown database"):
		return mk(event.StartupDatabaseMissing, "Run bin/rails db:create")

	case strings.Contains(lower, "could not connect to server"),
		strings.Contains(lower, "connection refused"),
		strings.Contains(lower, "activerecord::connectionnotestablished"):
		return mk(event.StartupDatabaseDown, "Check that your database server is running")

	case strings.Contains(lower, "could not find gem"),
		strings.Contains(lower, "gem::loaderror"):
		return mk(event.StartupMissingGem, "Run bundle install")

	case strings.Contains(lower, "bundler::gemnotfound"),
		strings.Contains(lower, "your bundle is locked"):
		return mk(event.StartupBundlerError, "Run bundle install")

	case strings.Contains(lower, "address already in use"),
		containsAll(lower, "port", "already in use"):
		return mk(event.StartupPortInUse, "Stop the process holding the port or change the configured port")

	case strings.Contains(lower, "secret_key_base"),
		containsAll(lower, "credentials", "error"):
		return mk(event.StartupConfigError, "Check config/credentials and environment variables")
	}

	return nil, false
}
