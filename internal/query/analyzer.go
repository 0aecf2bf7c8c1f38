package query

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/blackwell-systems/railscope/internal/event"
)

// Config holds the analyzer's tunable policy values. Zero fields are
// replaced by the corresponding DefaultConfig value.
type Config struct {
	SlowQueryMs       float64 // duration at which a query counts as slow
	MissingIndexMs    float64 // WHERE + at least this duration hints a missing index
	NPlusOneThreshold int     // repeats of one fingerprint in a context to flag
	FingerprintCap    int     // max distinct fingerprints kept
	EndpointCap       int     // max distinct endpoints kept
	DurationWindow    int     // per-fingerprint durations kept for percentiles
	SlowSampleCap     int     // distinct slow statements retained for display
	TableCap          int     // distinct tables tracked for access counts
}

// DefaultConfig returns the analyzer defaults. The CLI overrides these from
// the policy section of the user config.
func DefaultConfig() Config {
	return Config{
		SlowQueryMs:       100,
		MissingIndexMs:    50,
		NPlusOneThreshold: 3,
		FingerprintCap:    1000,
		EndpointCap:       500,
		DurationWindow:    256,
		SlowSampleCap:     50,
		TableCap:          100,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SlowQueryMs <= 0 {
		c.SlowQueryMs = d.SlowQueryMs
	}
	if c.MissingIndexMs <= 0 {
		c.MissingIndexMs = d.MissingIndexMs
	}
	if c.NPlusOneThreshold <= 0 {
		c.NPlusOneThreshold = d.NPlusOneThreshold
	}
	if c.FingerprintCap <= 0 {
		c.FingerprintCap = d.FingerprintCap
	}
	if c.EndpointCap <= 0 {
		c.EndpointCap = d.EndpointCap
	}
	if c.DurationWindow <= 0 {
		c.DurationWindow = d.DurationWindow
	}
	if c.SlowSampleCap <= 0 {
		c.SlowSampleCap = d.SlowSampleCap
	}
	if c.TableCap <= 0 {
		c.TableCap = d.TableCap
	}
	return c
}

// aggregate accumulates stats for one fingerprint. durations is a bounded
// window used for the p95 computation.
type aggregate struct {
	fingerprint string
	sample      string
	count       int
	totalMs     float64
	minMs       float64
	maxMs       float64
	durations   []float64
	lastTouched uint64
	lastSeen    time.Time
}

// AggregateRow is the read-only view of one fingerprint's stats.
type AggregateRow struct {
	Fingerprint string
	Sample      string
	Count       int
	MinMs       float64
	MaxMs       float64
	AvgMs       float64
	P95Ms       float64
	LastSeen    time.Time
}

// EndpointRow aggregates request stats for one (method, path template) pair.
type EndpointRow struct {
	Method       string
	PathTemplate string
	Count        int
	Errors       int
	TotalMs      float64
	TotalDBMs    float64
}

// AvgMs returns the mean total duration for the endpoint.
func (e EndpointRow) AvgMs() float64 {
	if e.Count == 0 {
		return 0
	}
	return e.TotalMs / float64(e.Count)
}

// SlowSample is one retained slow statement.
type SlowSample struct {
	Raw      string
	Table    string
	MaxMs    float64
	Count    int
	LastSeen time.Time
}

// StatsSnapshot is the consistent read used by the health scorer. It is a
// value copy: mutating it does not affect the analyzer.
type StatsSnapshot struct {
	TotalQueries      int
	SlowQueries       int
	SelectStarCount   int
	MissingIndexHints int
	SlowSamples       []SlowSample
	TableAccess       map[string]int
}

// Analyzer maintains fingerprint and endpoint aggregates under explicit
// capacity caps. All methods are safe for concurrent use.
type Analyzer struct {
	mu  sync.Mutex
	cfg Config

	aggs  map[string]*aggregate
	touch uint64 // monotonically increasing recency stamp

	endpoints map[string]*EndpointRow

	totalQueries      int
	slowQueries       int
	selectStarCount   int
	missingIndexHints int
	slowSamples       map[string]*SlowSample
	tableAccess       map[string]int
}

// NewAnalyzer returns an Analyzer with the given policy config.
func NewAnalyzer(cfg Config) *Analyzer {
	return &Analyzer{
		cfg:         cfg.withDefaults(),
		aggs:        make(map[string]*aggregate),
		endpoints:   make(map[string]*EndpointRow),
		slowSamples: make(map[string]*SlowSample),
		tableAccess: make(map[string]int),
	}
}

// Record folds one classified SQL event into the aggregates. Transaction
// control statements are counted but not fingerprinted.
func (a *Analyzer) Record(ev event.SqlQuery) {
	kind := KindOf(ev.Raw)

	a.mu.Lock()
	defer a.mu.Unlock()

	a.totalQueries++

	if strings.Contains(strings.ToUpper(ev.Raw), "SELECT *") {
		a.selectStarCount++
	}
	if ev.DurationMs >= a.cfg.MissingIndexMs && containsWhere(ev.Raw) {
		a.missingIndexHints++
	}
	if ev.DurationMs >= a.cfg.SlowQueryMs {
		a.slowQueries++
		a.recordSlowSample(ev)
	}

	if kind.IsTransactionControl() {
		return
	}

	fp := Fingerprint(ev.Raw)
	agg, ok := a.aggs[fp]
	if !ok {
		if len(a.aggs) >= a.cfg.FingerprintCap {
			a.evictColdestFingerprint()
		}
		agg = &aggregate{fingerprint: fp, sample: ev.Raw, minMs: ev.DurationMs}
		a.aggs[fp] = agg
	}

	agg.count++
	agg.totalMs += ev.DurationMs
	if ev.DurationMs < agg.minMs || agg.count == 1 {
		agg.minMs = ev.DurationMs
	}
	if ev.DurationMs > agg.maxMs {
		agg.maxMs = ev.DurationMs
	}
	agg.durations = append(agg.durations, ev.DurationMs)
	if len(agg.durations) > a.cfg.DurationWindow {
		agg.durations = agg.durations[1:]
	}
	a.touch++
	agg.lastTouched = a.touch
	agg.lastSeen = ev.At
}

// recordSlowSample retains a bounded set of distinct slow statements. New
// entries beyond the cap evict the least recently seen one; in very long
// sessions this trades rare false negatives for bounded memory.
func (a *Analyzer) recordSlowSample(ev event.SqlQuery) {
	table := ExtractTable(ev.Raw)
	if table != "" {
		if _, tracked := a.tableAccess[table]; !tracked && len(a.tableAccess) >= a.cfg.TableCap {
			a.evictColdestTable()
		}
		a.tableAccess[table]++
	}

	if s, ok := a.slowSamples[ev.Raw]; ok {
		s.Count++
		s.LastSeen = ev.At
		if ev.DurationMs > s.MaxMs {
			s.MaxMs = ev.DurationMs
		}
		return
	}
	if len(a.slowSamples) >= a.cfg.SlowSampleCap {
		var oldestKey string
		var oldest time.Time
		first := true
		for k, s := range a.slowSamples {
			if first || s.LastSeen.Before(oldest) {
				oldestKey, oldest, first = k, s.LastSeen, false
			}
		}
		delete(a.slowSamples, oldestKey)
	}
	a.slowSamples[ev.Raw] = &SlowSample{
		Raw:      ev.Raw,
		Table:    table,
		MaxMs:    ev.DurationMs,
		Count:    1,
		LastSeen: ev.At,
	}
}

func (a *Analyzer) evictColdestFingerprint() {
	var coldKey string
	var cold uint64
	first := true
	for k, agg := range a.aggs {
		if first || agg.lastTouched < cold {
			coldKey, cold, first = k, agg.lastTouched, false
		}
	}
	if coldKey != "" {
		delete(a.aggs, coldKey)
	}
}

func (a *Analyzer) evictColdestTable() {
	var coldKey string
	cold := -1
	for k, n := range a.tableAccess {
		if cold < 0 || n < cold {
			coldKey, cold = k, n
		}
	}
	if coldKey != "" {
		delete(a.tableAccess, coldKey)
	}
}

// numericSegmentPattern matches path segments that are entirely numeric.
var numericSegmentPattern = regexp.MustCompile(`^\d+$`)

// TemplatePath collapses numeric path segments to :id so per-endpoint stats
// group "/articles/5" with "/articles/9". Query strings are dropped.
func TemplatePath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if numericSegmentPattern.MatchString(seg) {
			segments[i] = ":id"
		}
	}
	return strings.Join(segments, "/")
}

// RecordRequest folds one completed request into the per-endpoint index.
func (a *Analyzer) RecordRequest(method, path string, status int, durationMs, dbMs float64) {
	key := method + " " + TemplatePath(path)

	a.mu.Lock()
	defer a.mu.Unlock()

	row, ok := a.endpoints[key]
	if !ok {
		if len(a.endpoints) >= a.cfg.EndpointCap {
			a.evictColdestEndpoint()
		}
		row = &EndpointRow{Method: method, PathTemplate: TemplatePath(path)}
		a.endpoints[key] = row
	}
	row.Count++
	row.TotalMs += durationMs
	row.TotalDBMs += dbMs
	if status >= 400 {
		row.Errors++
	}
}

func (a *Analyzer) evictColdestEndpoint() {
	var coldKey string
	cold := -1
	for k, row := range a.endpoints {
		if cold < 0 || row.Count < cold {
			coldKey, cold = k, row.Count
		}
	}
	if coldKey != "" {
		delete(a.endpoints, coldKey)
	}
}

// Aggregates returns the fingerprint table sorted by count descending.
func (a *Analyzer) Aggregates() []AggregateRow {
	a.mu.Lock()
	defer a.mu.Unlock()

	rows := make([]AggregateRow, 0, len(a.aggs))
	for _, agg := range a.aggs {
		row := AggregateRow{
			Fingerprint: agg.fingerprint,
			Sample:      agg.sample,
			Count:       agg.count,
			MinMs:       agg.minMs,
			MaxMs:       agg.maxMs,
			LastSeen:    agg.lastSeen,
		}
		if agg.count > 0 {
			row.AvgMs = agg.totalMs / float64(agg.count)
		}
		row.P95Ms = percentileOf(agg.durations, 95)
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Fingerprint < rows[j].Fingerprint
	})
	return rows
}

// Endpoints returns the per-endpoint table sorted by request count.
func (a *Analyzer) Endpoints() []EndpointRow {
	a.mu.Lock()
	defer a.mu.Unlock()

	rows := make([]EndpointRow, 0, len(a.endpoints))
	for _, row := range a.endpoints {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].PathTemplate < rows[j].PathTemplate
	})
	return rows
}

// Stats returns a consistent snapshot of the health-relevant counters.
func (a *Analyzer) Stats() StatsSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := StatsSnapshot{
		TotalQueries:      a.totalQueries,
		SlowQueries:       a.slowQueries,
		SelectStarCount:   a.selectStarCount,
		MissingIndexHints: a.missingIndexHints,
		TableAccess:       make(map[string]int, len(a.tableAccess)),
	}
	for k, v := range a.tableAccess {
		snap.TableAccess[k] = v
	}
	samples := make([]SlowSample, 0, len(a.slowSamples))
	for _, s := range a.slowSamples {
		samples = append(samples, *s)
	}
	sort.Slice(samples, func(i, j int) bool {
		if samples[i].MaxMs != samples[j].MaxMs {
			return samples[i].MaxMs > samples[j].MaxMs
		}
		return samples[i].Raw < samples[j].Raw
	})
	snap.SlowSamples = samples
	return snap
}

// NPlusOneThreshold exposes the configured repeat threshold for callers
// computing findings per context.
func (a *Analyzer) NPlusOneThreshold() int {
	return a.cfg.NPlusOneThreshold
}

func containsWhere(raw string) bool {
	return strings.Contains(strings.ToUpper(raw), "WHERE")
}

// percentileOf computes the pth percentile over a sorted copy of values.
func percentileOf(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	return sorted[int(float64(len(sorted)-1)*p/100.0)]
}
