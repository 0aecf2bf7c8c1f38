package classify

import (
	"regexp"
	"strings"
)

// Line shape patterns, checked in priority order by classifyLine. These
// target Rails 6/7 development logs plus the lograge single-line format.
var (
	// timestampPrefix matches the logger prefixes Rails puts in front of the
	// interesting text: tagged ("I, [...]  INFO -- :"), bracketed, and plain
	// ISO timestamps.
	timestampPrefix = regexp.MustCompile(`^(?:[DIWEF],\s*[^\]]+\]\s+(?:DEBUG|INFO|WARN|ERROR|FATAL)\s+--\s*:\s*|\[[^\]]+\]\s*:\s*|\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}\S*\s+)`)

	// logragePattern is a complete request in one line; it must carry method,
	// path, status and duration.
	logragePattern = regexp.MustCompile(`method=([A-Z]+).*?path=(\S+).*?status=(\d+).*?duration=(\d+(?:\.\d+)?)`)

	// httpStartPattern matches "Started GET \"/users\" for 127.0.0.1".
	// The second alternative tolerates unquoted paths.
	httpStartPattern = regexp.MustCompile(`Started (GET|POST|PUT|PATCH|DELETE|HEAD|OPTIONS)\s+"([^"]+)"|Started (GET|POST|PUT|PATCH|DELETE|HEAD|OPTIONS)\s+(\S+)`)

	// keyValueStartPattern matches request starts in key-value form without
	// status/duration (otherwise logragePattern wins first).
	keyValueStartPattern = regexp.MustCompile(`method=([A-Z]+).*?path=(\S+)`)

	// completedPattern matches "Completed 200 OK in 45.7ms (Views: 32.1ms |
	// ActiveRecord: 8.9ms)"; the breakdown in parentheses is optional.
	completedPattern = regexp.MustCompile(`Completed (\d+)\s+\S.*?\sin\s+(\d+(?:\.\d+)?)ms(?:\s+\((.*)\))?`)

	viewMsPattern = regexp.MustCompile(`Views:\s*(\d+(?:\.\d+)?)ms`)
	dbMsPattern   = regexp.MustCompile(`ActiveRecord:\s*(\d+(?:\.\d+)?)ms`)

	// sqlPattern matches the timed ActiveRecord form:
	// "User Load (0.5ms)  SELECT \"users\".* FROM \"users\"".
	sqlPattern = regexp.MustCompile(`([A-Za-z][\w .]*?)\s*\((\d+(?:\.\d+)?)ms\)\s+((?:SELECT|INSERT|UPDATE|DELETE|BEGIN|COMMIT|ROLLBACK|SAVEPOINT|RELEASE)\b.*)`)

	// sqlBarePattern matches untimed statements at the start of a line, like
	// the bare BEGIN/COMMIT pairs around a transaction.
	sqlBarePattern = regexp.MustCompile(`^(SELECT|INSERT|UPDATE|DELETE|BEGIN|COMMIT|ROLLBACK)\b.*`)

	// queryCommentPattern strips Rails 7 marginalia comments.
	queryCommentPattern = regexp.MustCompile(`/\*.*?\*/`)

	// exceptionPattern matches "NameError (message):" and "NameError: message"
	// for Ruby-shaped exception class names.
	exceptionPattern = regexp.MustCompile(`^([A-Z][A-Za-z0-9_]*(?:::[A-Z][A-Za-z0-9_]*)*(?:Error|Exception))(?:\s+\((.*)\):?|:\s*(.*))?$`)

	// Test framework summary shapes.
	rspecSummaryPattern    = regexp.MustCompile(`(\d+) examples?, (\d+) failures?(?:, (\d+) pending)?`)
	minitestSummaryPattern = regexp.MustCompile(`(\d+) runs?, (\d+) assertions?, (\d+) failures?, (\d+) errors?, (\d+) skips?`)
	finishedInPattern      = regexp.MustCompile(`Finished in (\d+(?:\.\d+)?)\s*s`)
	rspecFailureRefPattern = regexp.MustCompile(`^rspec (\S+) # (.+)$`)

	// debuggerFilePattern extracts "From: /path/file.rb:12" style locations.
	debuggerFilePattern = regexp.MustCompile(`(?:From:\s*)?(\S+\.rb):(\d+)`)
)

// stripTimestampPrefix removes a leading logger prefix, if any.
func stripTimestampPrefix(line string) string {
	if m := timestampPrefix.FindStringIndex(line); m != nil {
		return line[m[1]:]
	}
	return line
}

// stripQueryComments removes /*...*/ comments and surrounding whitespace.
func stripQueryComments(q string) string {
	return strings.TrimSpace(queryCommentPattern.ReplaceAllString(q, ""))
}

// isBacktraceLine reports whether a line looks like a Ruby backtrace frame.
// Backtrace frames are indented or start with a path, and greedy collection
// stops at the first line this rejects.
func isBacktraceLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	switch {
	case strings.HasPrefix(trimmed, "from "):
		return true
	case strings.HasPrefix(trimmed, "/"),
		strings.HasPrefix(trimmed, "app/"),
		strings.HasPrefix(trimmed, "lib/"),
		strings.HasPrefix(trimmed, "config/"),
		strings.HasPrefix(trimmed, "vendor/"):
		return strings.Contains(trimmed, ":")
	case strings.HasPrefix(line, "  ") && strings.Contains(line, ".rb:"):
		return true
	}
	return false
}

func containsAll(lower string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(lower, p) {
			return false
		}
	}
	return true
}
