// Package event defines the typed log events produced by the stream
// classifier. Events are immutable once created; aggregators consume them
// and must not retain references to mutable internals.
package event

import "time"

// Event is implemented by every classified log event. Kind returns a stable
// identifier used for dispatch and diagnostics counters.
type Event interface {
	Kind() string
}

// RequestStarted marks the beginning of an HTTP request in the monitored
// server's log ("Started GET \"/users\" for ...").
type RequestStarted struct {
	Method string
	Path   string
	At     time.Time
}

func (RequestStarted) Kind() string { return "request_started" }

// RequestCompleted marks the end of an HTTP request, carrying the duration
// breakdown Rails emits on its "Completed" line.
type RequestCompleted struct {
	Status     int
	DurationMs float64
	ViewMs     float64
	DBMs       float64
	At         time.Time
}

func (RequestCompleted) Kind() string { return "request_completed" }

// SqlQuery is a single SQL statement observed in the log, with the duration
// Rails reports next to the statement name ("User Load (0.5ms) SELECT ...").
// DurationMs is zero when the log line carried no timing.
type SqlQuery struct {
	Raw        string
	Name       string
	DurationMs float64
	At         time.Time
}

func (SqlQuery) Kind() string { return "sql_query" }

// ExceptionRaised is an exception signature plus the backtrace lines that
// immediately followed it. Backtrace collection is bounded by the classifier.
type ExceptionRaised struct {
	Class     string
	Message   string
	Backtrace []string
	At        time.Time
}

func (ExceptionRaised) Kind() string { return "exception_raised" }

// TopFrame returns the first backtrace line, or "" when the exception
// arrived without a backtrace.
func (e ExceptionRaised) TopFrame() string {
	if len(e.Backtrace) == 0 {
		return ""
	}
	return e.Backtrace[0]
}

// TestOutcome is the result category of a single test.
type TestOutcome int

// Test outcomes in the order test frameworks report them.
const (
	TestPassed TestOutcome = iota
	TestFailed
	TestPending
	TestSkipped
)

// String returns the lower-case outcome name.
func (o TestOutcome) String() string {
	switch o {
	case TestPassed:
		return "passed"
	case TestFailed:
		return "failed"
	case TestPending:
		return "pending"
	case TestSkipped:
		return "skipped"
	}
	return "unknown"
}

// TestResult is a single test reported by a test framework, usually parsed
// from a failure listing line.
type TestResult struct {
	Name       string
	Outcome    TestOutcome
	DurationMs float64
	At         time.Time
}

func (TestResult) Kind() string { return "test_result" }

// TestRunFinished is a test framework summary line ("5 runs, 7 assertions,
// 2 failures, ..." or "10 examples, 2 failures, 1 pending").
type TestRunFinished struct {
	Framework  string
	Total      int
	Failed     int
	Pending    int
	Skipped    int
	Errors     int
	DurationMs float64
	At         time.Time
}

func (TestRunFinished) Kind() string { return "test_run_finished" }

// Passed returns the number of tests that neither failed, errored, were
// pending, nor were skipped.
func (t TestRunFinished) Passed() int {
	p := t.Total - t.Failed - t.Errors - t.Pending - t.Skipped
	if p < 0 {
		return 0
	}
	return p
}

// DebuggerHit signals that an interactive debugger (pry, byebug, debug gem)
// took over the process's terminal.
type DebuggerHit struct {
	Debugger string
	File     string
	Line     int
	At       time.Time
}

func (DebuggerHit) Kind() string { return "debugger_hit" }

// StartupErrorKind categorizes recognizable Rails boot failures.
type StartupErrorKind string

// Recognized startup failure categories.
const (
	StartupPendingMigrations StartupErrorKind = "pending_migrations"
	StartupDatabaseMissing   StartupErrorKind = "database_missing"
	StartupDatabaseDown      StartupErrorKind = "database_unreachable"
	StartupMissingGem        StartupErrorKind = "missing_gem"
	StartupBundlerError      StartupErrorKind = "bundler_error"
	StartupPortInUse         StartupErrorKind = "port_in_use"
	StartupConfigError       StartupErrorKind = "configuration_error"
	StartupGeneric           StartupErrorKind = "startup_error"
)

// StartupError is a recognizable boot failure in the monitored process,
// carrying a remedial hint for display.
type StartupError struct {
	Category StartupErrorKind
	Detail   string
	Hint     string
	At       time.Time
}

func (StartupError) Kind() string { return "startup_error" }

// Generic is any line that matched no classification rule. Generic lines are
// still delivered so the raw view stays complete.
type Generic struct {
	Text string
	At   time.Time
}

func (Generic) Kind() string { return "generic" }
