// Package exception buckets raised exceptions by a stable fingerprint so
// that a crash loop shows up as one group with a climbing count instead of
// a scrolling wall of identical backtraces.
package exception

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/blackwell-systems/railscope/internal/event"
	"github.com/blackwell-systems/railscope/internal/severity"
)

var (
	// frameLocPattern pulls path:line out of a backtrace frame, tolerating
	// the "from " prefix and trailing method context Ruby emits.
	frameLocPattern = regexp.MustCompile(`([\w@./-]+\.(?:rb|erb|rake|ru)):(\d+)`)

	// objectIDPattern matches inspected object ids, which differ on every
	// occurrence and would defeat grouping.
	objectIDPattern = regexp.MustCompile(`#<([A-Za-z0-9_:]+):0x[0-9a-fA-F]+[^>]*>`)

	hexAddrPattern = regexp.MustCompile(`\b0x[0-9a-fA-F]+\b`)
)

// Config tunes grouping and severity classification. Class lists match on
// exact name or namespace prefix ("ActiveRecord::" matches the whole tree).
type Config struct {
	// CriticalClasses are classified Critical regardless of anything else.
	CriticalClasses []string
	// LowClasses are explicitly downgraded to Low.
	LowClasses []string
	// FrameworkNamespaces classify as Medium when matched; these are the
	// errors a framework routinely raises and handles (404s, bad params).
	FrameworkNamespaces []string
	// ProjectRoot, when set, is stripped from backtrace paths so the
	// fingerprint is machine-independent.
	ProjectRoot string
	// SampleBacktraceLimit bounds the stored sample backtrace.
	SampleBacktraceLimit int
	// GroupCap bounds distinct groups. Occurrences past the cap with a new
	// fingerprint are tallied in Overflow instead of creating groups.
	GroupCap int
}

// DefaultConfig mirrors the shipped policy table.
func DefaultConfig() Config {
	return Config{
		CriticalClasses: []string{
			"ActiveRecord::RecordNotUnique",
			"ActiveRecord::StatementInvalid",
			"SecurityError",
			"NoMemoryError",
			"SystemStackError",
		},
		LowClasses: []string{
			"ActiveRecord::RecordNotFound",
			"ActionController::RoutingError",
		},
		FrameworkNamespaces: []string{
			"ActiveRecord::",
			"ActionController::",
			"ActionView::",
			"ActiveJob::",
		},
		SampleBacktraceLimit: 50,
		GroupCap:             500,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CriticalClasses == nil {
		c.CriticalClasses = d.CriticalClasses
	}
	if c.LowClasses == nil {
		c.LowClasses = d.LowClasses
	}
	if c.FrameworkNamespaces == nil {
		c.FrameworkNamespaces = d.FrameworkNamespaces
	}
	if c.SampleBacktraceLimit <= 0 {
		c.SampleBacktraceLimit = d.SampleBacktraceLimit
	}
	if c.GroupCap <= 0 {
		c.GroupCap = d.GroupCap
	}
	return c
}

// Group is one exception bucket. Count and LastSeen advance on every
// matching occurrence; everything else is fixed at creation. A fingerprint
// collision is permanent for the session, groups are never merged or split
// retroactively.
type Group struct {
	Fingerprint string
	Class       string
	Message     string
	TopFrame    string
	Severity    severity.Level
	Count       int
	FirstSeen   time.Time
	LastSeen    time.Time
	Sample      []string
}

// Grouper owns the exception table for a session.
type Grouper struct {
	mu     sync.Mutex
	cfg    Config
	groups map[string]*Group
	order  []string // fingerprints in first-seen order

	overflow int
}

func NewGrouper(cfg Config) *Grouper {
	return &Grouper{
		cfg:    cfg.withDefaults(),
		groups: make(map[string]*Group),
	}
}

// Record folds one ExceptionRaised into its group, creating the group on
// first occurrence.
func (g *Grouper) Record(process string, ev event.ExceptionRaised) {
	_ = process // groups are session-global; the process is visible in the sample

	top := g.normalizeFrame(firstLocatedFrame(ev.Backtrace))
	fp := fmt.Sprintf("%s@%s", ev.Class, top)

	g.mu.Lock()
	defer g.mu.Unlock()

	if grp, ok := g.groups[fp]; ok {
		grp.Count++
		grp.LastSeen = ev.At
		return
	}
	if len(g.groups) >= g.cfg.GroupCap {
		g.overflow++
		return
	}

	sample := ev.Backtrace
	if len(sample) > g.cfg.SampleBacktraceLimit {
		sample = sample[:g.cfg.SampleBacktraceLimit]
	}
	g.groups[fp] = &Group{
		Fingerprint: fp,
		Class:       ev.Class,
		Message:     scrubMessage(ev.Message),
		TopFrame:    top,
		Severity:    g.classify(ev.Class),
		Count:       1,
		FirstSeen:   ev.At,
		LastSeen:    ev.At,
		Sample:      append([]string(nil), sample...),
	}
	g.order = append(g.order, fp)
}

// Groups returns copies sorted by severity descending, then count
// descending, then first-seen order for stability.
func (g *Grouper) Groups() []Group {
	g.mu.Lock()
	defer g.mu.Unlock()

	firstSeen := make(map[string]int, len(g.order))
	for i, fp := range g.order {
		firstSeen[fp] = i
	}
	out := make([]Group, 0, len(g.groups))
	for _, grp := range g.groups {
		cp := *grp
		cp.Sample = append([]string(nil), grp.Sample...)
		out = append(out, cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Severity != out[j].Severity {
			return out[i].Severity > out[j].Severity
		}
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return firstSeen[out[i].Fingerprint] < firstSeen[out[j].Fingerprint]
	})
	return out
}

// TotalCount is the number of recorded occurrences, including any past the
// group cap.
func (g *Grouper) TotalCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.overflow
	for _, grp := range g.groups {
		n += grp.Count
	}
	return n
}

// Overflow reports occurrences discarded because the group cap was reached.
func (g *Grouper) Overflow() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.overflow
}

// CountsBySeverity tallies occurrences per severity level for the health
// scorer.
func (g *Grouper) CountsBySeverity() map[severity.Level]int {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[severity.Level]int)
	for _, grp := range g.groups {
		out[grp.Severity] += grp.Count
	}
	return out
}

func (g *Grouper) classify(class string) severity.Level {
	if matchClass(class, g.cfg.CriticalClasses) {
		return severity.Critical
	}
	if matchClass(class, g.cfg.LowClasses) {
		return severity.Low
	}
	for _, ns := range g.cfg.FrameworkNamespaces {
		if strings.HasPrefix(class, ns) {
			return severity.Medium
		}
	}
	// An unclassified exception reached the top of the stack.
	return severity.High
}

func matchClass(class string, list []string) bool {
	for _, entry := range list {
		if class == entry {
			return true
		}
		if strings.HasSuffix(entry, "::") && strings.HasPrefix(class, entry) {
			return true
		}
	}
	return false
}

// firstLocatedFrame returns the first backtrace line carrying a path:line
// location; frames without one (e.g. "... 12 levels ...") are skipped.
func firstLocatedFrame(backtrace []string) string {
	for _, line := range backtrace {
		if frameLocPattern.MatchString(line) {
			return line
		}
	}
	if len(backtrace) > 0 {
		return backtrace[0]
	}
	return ""
}

// normalizeFrame reduces a frame to a project-relative path:line pair,
// dropping volatile detail so the fingerprint is stable across machines
// and runs.
func (g *Grouper) normalizeFrame(frame string) string {
	if frame == "" {
		return "<no backtrace>"
	}
	m := frameLocPattern.FindStringSubmatch(frame)
	if m == nil {
		return scrubMessage(strings.TrimSpace(frame))
	}
	path := m[1]
	if g.cfg.ProjectRoot != "" {
		root := strings.TrimSuffix(g.cfg.ProjectRoot, "/") + "/"
		path = strings.TrimPrefix(path, root)
	}
	// Absolute paths outside the project (gems, ruby stdlib) keep only
	// their trailing segments.
	if strings.HasPrefix(path, "/") {
		parts := strings.Split(path, "/")
		if len(parts) > 3 {
			parts = parts[len(parts)-3:]
		}
		path = strings.Join(parts, "/")
	}
	return path + ":" + m[2]
}

// scrubMessage strips inspected object ids and raw addresses so the stored
// message doesn't vary per occurrence.
func scrubMessage(msg string) string {
	msg = objectIDPattern.ReplaceAllString(msg, "#<$1>")
	msg = hexAddrPattern.ReplaceAllString(msg, "0x?")
	return msg
}
