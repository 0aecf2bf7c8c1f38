package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/blackwell-systems/railscope/internal/event"
)

// Finding reports one repeated fingerprint inside a single request context.
// Findings are derived views: they are recomputed from the context's queries
// on every read and never stored independently.
type Finding struct {
	Fingerprint string
	Count       int
	TotalMs     float64
	// WastedMs is the summed duration of every occurrence after the first.
	// The baseline is always the first occurrence in context order.
	WastedMs   float64
	Sample     string
	Suggestion string
}

// DetectNPlusOne groups a context's SELECT statements by fingerprint and
// flags groups with at least threshold occurrences. Results are ordered by
// occurrence count descending, then by first appearance in the context.
func DetectNPlusOne(queries []event.SqlQuery, threshold int) []Finding {
	if threshold <= 0 {
		threshold = DefaultConfig().NPlusOneThreshold
	}

	type group struct {
		first     int // index of first occurrence, for ordering and baseline
		count     int
		totalMs   float64
		baseline  float64
		sampleRaw string
	}

	groups := make(map[string]*group)
	var order []string
	for i, q := range queries {
		if KindOf(q.Raw) != KindSelect {
			continue
		}
		fp := Fingerprint(q.Raw)
		g, ok := groups[fp]
		if !ok {
			g = &group{first: i, baseline: q.DurationMs, sampleRaw: q.Raw}
			groups[fp] = g
			order = append(order, fp)
		}
		g.count++
		g.totalMs += q.DurationMs
	}

	var findings []Finding
	for _, fp := range order {
		g := groups[fp]
		if g.count < threshold {
			continue
		}
		findings = append(findings, Finding{
			Fingerprint: fp,
			Count:       g.count,
			TotalMs:     g.totalMs,
			WastedMs:    g.totalMs - g.baseline,
			Sample:      g.sampleRaw,
			Suggestion:  eagerLoadSuggestion(g.sampleRaw, g.count),
		})
	}

	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].Count > findings[j].Count
	})
	return findings
}

// eagerLoadSuggestion builds the remediation hint shown next to a finding.
func eagerLoadSuggestion(sample string, count int) string {
	if table := ExtractTable(sample); table != "" {
		assoc := strings.TrimSuffix(table, "s")
		return fmt.Sprintf(
			"Query repeated %d times. Consider eager loading with Model.includes(:%s)",
			count, assoc,
		)
	}
	return fmt.Sprintf(
		"Query repeated %d times. Consider eager loading with .includes() or .preload()",
		count,
	)
}
