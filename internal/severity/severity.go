// Package severity defines the shared issue severity scale used by the
// query analyzer, exception grouper, and health scorer.
package severity

// Level orders issues from least to most urgent. The zero value is Low.
type Level int

// Severity levels, ordered so direct comparison works.
const (
	Low Level = iota
	Medium
	High
	Critical
)

// String returns the lower-case level name.
func (l Level) String() string {
	switch l {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	case Critical:
		return "critical"
	}
	return "unknown"
}

// Icon returns a single-character marker for compact rendering.
func (l Level) Icon() string {
	switch l {
	case Critical:
		return "✗"
	case High:
		return "⚠"
	case Medium:
		return "!"
	}
	return "i"
}
