// Package health turns accumulated query statistics into a 0–100 score with
// an ordered issue list. Compute is pure: the same snapshot always yields an
// identical report.
package health

import (
	"fmt"
	"sort"

	"github.com/blackwell-systems/railscope/internal/query"
	"github.com/blackwell-systems/railscope/internal/severity"
)

// IssueKind labels the class of a detected problem.
type IssueKind string

const (
	IssueSlowQuery    IssueKind = "slow_query"
	IssueSelectStar   IssueKind = "select_star"
	IssueMissingIndex IssueKind = "missing_index"
)

// Issue is one detected problem contributing to the score.
type Issue struct {
	Kind        IssueKind
	Severity    severity.Level
	Description string
	Frequency   int
	DurationMs  float64
}

// Impact orders issues within a severity band.
func (i Issue) Impact() float64 {
	return float64(i.Frequency) * i.DurationMs
}

// Report is a derived snapshot; it carries no timestamps so repeated
// computation over unchanged state is bit-identical.
type Report struct {
	Score  int
	Issues []Issue
}

// Policy is the tunable scoring table. Weights are deducted from 100 per
// issue occurrence; bonuses reward low problem ratios.
type Policy struct {
	LowWeight      int
	MediumWeight   int
	HighWeight     int
	CriticalWeight int

	// Slow-query severity ladder, in milliseconds.
	SlowMs     float64
	VerySlowMs float64
	CriticalMs float64

	// SelectStarBonusRatio awards SelectStarBonus when the SELECT * share
	// of all queries stays below it; likewise for slow queries.
	SelectStarBonusRatio float64
	SelectStarBonus      int
	SlowBonusRatio       float64
	SlowBonus            int
}

// DefaultPolicy is the shipped weighting.
func DefaultPolicy() Policy {
	return Policy{
		LowWeight:      1,
		MediumWeight:   5,
		HighWeight:     10,
		CriticalWeight: 20,

		SlowMs:     100,
		VerySlowMs: 500,
		CriticalMs: 1000,

		SelectStarBonusRatio: 0.05,
		SelectStarBonus:      5,
		SlowBonusRatio:       0.02,
		SlowBonus:            10,
	}
}

func (p Policy) weight(level severity.Level) int {
	switch level {
	case severity.Critical:
		return p.CriticalWeight
	case severity.High:
		return p.HighWeight
	case severity.Medium:
		return p.MediumWeight
	default:
		return p.LowWeight
	}
}

func (p Policy) slowSeverity(ms float64) severity.Level {
	switch {
	case ms >= p.CriticalMs:
		return severity.Critical
	case ms >= p.VerySlowMs:
		return severity.High
	default:
		return severity.Medium
	}
}

// Scorer computes health reports under a fixed policy.
type Scorer struct {
	policy Policy
}

func NewScorer(policy Policy) *Scorer {
	return &Scorer{policy: policy}
}

// Compute derives a report from the analyzer snapshot. It reads only the
// snapshot, never live analyzer state.
func (s *Scorer) Compute(stats query.StatsSnapshot) Report {
	var issues []Issue
	deduction := 0

	for _, sample := range stats.SlowSamples {
		level := s.policy.slowSeverity(sample.MaxMs)
		issues = append(issues, Issue{
			Kind:        IssueSlowQuery,
			Severity:    level,
			Description: fmt.Sprintf("slow query on %s (%.1fms, seen %d times): %s", tableLabel(sample.Table), sample.MaxMs, sample.Count, sample.Raw),
			Frequency:   sample.Count,
			DurationMs:  sample.MaxMs,
		})
		deduction += s.policy.weight(level)
	}

	if stats.SelectStarCount > 0 {
		issues = append(issues, Issue{
			Kind:        IssueSelectStar,
			Severity:    severity.Low,
			Description: fmt.Sprintf("SELECT * used in %d queries; fetch only needed columns", stats.SelectStarCount),
			Frequency:   stats.SelectStarCount,
		})
		deduction += s.policy.LowWeight * stats.SelectStarCount
	}

	if stats.MissingIndexHints > 0 {
		issues = append(issues, Issue{
			Kind:        IssueMissingIndex,
			Severity:    severity.Medium,
			Description: fmt.Sprintf("%d slow filtered queries look unindexed; check WHERE columns", stats.MissingIndexHints),
			Frequency:   stats.MissingIndexHints,
		})
		deduction += s.policy.MediumWeight * stats.MissingIndexHints
	}

	score := 100 - deduction

	// Reward sessions whose problem ratios stay small even when absolute
	// counts triggered deductions.
	if stats.TotalQueries > 0 {
		if float64(stats.SelectStarCount)/float64(stats.TotalQueries) < s.policy.SelectStarBonusRatio {
			score += s.policy.SelectStarBonus
		}
		if float64(stats.SlowQueries)/float64(stats.TotalQueries) < s.policy.SlowBonusRatio {
			score += s.policy.SlowBonus
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].Severity != issues[j].Severity {
			return issues[i].Severity > issues[j].Severity
		}
		return issues[i].Impact() > issues[j].Impact()
	})

	return Report{Score: score, Issues: issues}
}

func tableLabel(table string) string {
	if table == "" {
		return "unknown table"
	}
	return table
}
