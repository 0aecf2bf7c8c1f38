package query

import (
	"fmt"
	"strings"

	"github.com/blackwell-systems/railscope/internal/severity"
)

// IssueKind labels a per-query recommendation.
type IssueKind string

// Recommendation kinds.
const (
	IssueSelectStar   IssueKind = "select_star"
	IssueSlowQuery    IssueKind = "slow_query"
	IssueMissingIndex IssueKind = "missing_index"
)

// Recommendation is advice derived from a single observed statement.
type Recommendation struct {
	Kind       IssueKind
	Severity   severity.Level
	Message    string
	Suggestion string
	Migration  string // generated migration snippet, when one applies
}

// RecommendConfig holds the duration ladder for per-query advice.
type RecommendConfig struct {
	SlowMs     float64
	VerySlowMs float64
	CriticalMs float64
}

// DefaultRecommendConfig mirrors the policy defaults.
func DefaultRecommendConfig() RecommendConfig {
	return RecommendConfig{SlowMs: 100, VerySlowMs: 500, CriticalMs: 1000}
}

// Recommend analyzes one statement and returns zero or more recommendations.
func Recommend(raw string, durationMs float64, cfg RecommendConfig) []Recommendation {
	if cfg.SlowMs <= 0 {
		cfg = DefaultRecommendConfig()
	}

	var recs []Recommendation

	if strings.Contains(strings.ToUpper(raw), "SELECT *") {
		recs = append(recs, Recommendation{
			Kind:       IssueSelectStar,
			Severity:   severity.Medium,
			Message:    "SELECT * fetches every column",
			Suggestion: "Select only the columns you need",
		})
	}

	if durationMs >= cfg.SlowMs {
		level := severity.Medium
		switch {
		case durationMs >= cfg.CriticalMs:
			level = severity.Critical
		case durationMs >= cfg.VerySlowMs:
			level = severity.High
		}
		recs = append(recs, Recommendation{
			Kind:       IssueSlowQuery,
			Severity:   level,
			Message:    fmt.Sprintf("Slow query: %.1fms", durationMs),
			Suggestion: "Add an index or restructure the query",
			Migration:  indexMigration(raw),
		})
	}

	return recs
}

// indexMigration builds an add_index snippet from the first equality in the
// WHERE clause, or "" when the statement has no usable predicate.
func indexMigration(raw string) string {
	m := wherePairPattern.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}
	return fmt.Sprintf("add_index :%s, :%s", m[1], m[2])
}
