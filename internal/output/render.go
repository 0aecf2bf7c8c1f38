package output

import (
	"fmt"
	"strings"

	"github.com/blackwell-systems/railscope/internal/severity"
	"github.com/blackwell-systems/railscope/internal/supervisor"
)

// sparkGlyphs are the eight block heights used for sparklines.
var sparkGlyphs = []rune("▁▂▃▄▅▆▇█")

// Sparkline renders values as a row of block glyphs, scaled to the series
// min/max. A flat series renders at the lowest height.
func Sparkline(values []float64) string {
	if len(values) == 0 {
		return ""
	}
	min, max := values[0], values[0]
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	var sb strings.Builder
	span := max - min
	for _, v := range values {
		idx := 0
		if span > 0 {
			idx = int((v - min) / span * float64(len(sparkGlyphs)-1))
		}
		sb.WriteRune(sparkGlyphs[idx])
	}
	return sb.String()
}

// SeverityStyle renders text in the color conventionally tied to a level.
func SeverityStyle(level severity.Level, text string) string {
	switch level {
	case severity.Critical, severity.High:
		return StyleError.Render(text)
	case severity.Medium:
		return StyleWarning.Render(text)
	default:
		return StyleMuted.Render(text)
	}
}

// SeverityLabel renders a level's icon and name.
func SeverityLabel(level severity.Level) string {
	return SeverityStyle(level, fmt.Sprintf("%s %s", level.Icon(), level.String()))
}

// StateBadge renders a process lifecycle state with its conventional color.
func StateBadge(state supervisor.State, exitCode int) string {
	switch state {
	case supervisor.StateRunning:
		return StyleSuccess.Render("● running")
	case supervisor.StateStarting:
		return StyleWarning.Render("◐ starting")
	case supervisor.StateCrashed:
		return StyleError.Render(fmt.Sprintf("✗ crashed (%d)", exitCode))
	default:
		return StyleMuted.Render("○ stopped")
	}
}

// Duration renders milliseconds compactly: "12ms", "1.2s".
func Duration(ms float64) string {
	if ms >= 1000 {
		return fmt.Sprintf("%.1fs", ms/1000)
	}
	return fmt.Sprintf("%.0fms", ms)
}
