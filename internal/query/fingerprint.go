// Package query fingerprints SQL statements, maintains bounded per-
// fingerprint and per-endpoint aggregates, detects N+1 patterns inside
// request contexts, and produces per-query recommendations.
package query

import (
	"regexp"
	"strings"
)

var (
	bindPlaceholderPattern = regexp.MustCompile(`\$\d+`)
	stringLiteralPattern   = regexp.MustCompile(`'[^']*'`)
	numberLiteralPattern   = regexp.MustCompile(`\b\d+\b`)

	fromTablePattern = regexp.MustCompile(`(?i)\bFROM\s+["` + "`" + `]?(\w+)["` + "`" + `]?`)
	wherePairPattern = regexp.MustCompile(`(?i)\bWHERE\s+["` + "`" + `]?(\w+)["` + "`" + `]?\.["` + "`" + `]?(\w+)["` + "`" + `]?\s*=`)
)

// Fingerprint normalizes a SQL statement into a grouping key: bind
// placeholders, quoted strings, and numeric literals become "?", and
// whitespace is collapsed. Two statements differing only in literal values
// share a fingerprint; statements with different clause structure do not.
func Fingerprint(raw string) string {
	s := bindPlaceholderPattern.ReplaceAllString(raw, "?")
	s = stringLiteralPattern.ReplaceAllString(s, "?")
	s = numberLiteralPattern.ReplaceAllString(s, "?")
	return strings.Join(strings.Fields(s), " ")
}

// Kind is the statement category derived from the leading keyword.
type Kind int

// Statement kinds.
const (
	KindOther Kind = iota
	KindSelect
	KindInsert
	KindUpdate
	KindDelete
	KindBegin
	KindCommit
	KindRollback
)

// KindOf categorizes a statement by its leading keyword.
func KindOf(raw string) Kind {
	upper := strings.ToUpper(strings.TrimSpace(raw))
	switch {
	case strings.HasPrefix(upper, "SELECT"):
		return KindSelect
	case strings.HasPrefix(upper, "INSERT"):
		return KindInsert
	case strings.HasPrefix(upper, "UPDATE"):
		return KindUpdate
	case strings.HasPrefix(upper, "DELETE"):
		return KindDelete
	case strings.HasPrefix(upper, "BEGIN"):
		return KindBegin
	case strings.HasPrefix(upper, "COMMIT"):
		return KindCommit
	case strings.HasPrefix(upper, "ROLLBACK"):
		return KindRollback
	}
	return KindOther
}

// IsTransactionControl reports whether the kind is BEGIN/COMMIT/ROLLBACK.
// Transaction control statements stay out of the fingerprint table and N+1
// detection.
func (k Kind) IsTransactionControl() bool {
	return k == KindBegin || k == KindCommit || k == KindRollback
}

// ExtractTable returns the first table a statement touches, or "".
func ExtractTable(raw string) string {
	if m := fromTablePattern.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	upper := strings.ToUpper(raw)
	for _, prefix := range []string{"UPDATE ", "INSERT INTO "} {
		if i := strings.Index(upper, prefix); i >= 0 {
			rest := strings.Fields(raw[i+len(prefix):])
			if len(rest) > 0 {
				return strings.Trim(rest[0], "\"`")
			}
		}
	}
	return ""
}
