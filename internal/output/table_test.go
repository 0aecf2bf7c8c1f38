package output

import (
	"strings"
	"testing"

	"github.com/blackwell-systems/railscope/internal/severity"
	"github.com/blackwell-systems/railscope/internal/supervisor"
)

func TestTableRender(t *testing.T) {
	SetNoColor(true)

	tbl := NewTable("PROCESS", "STATE")
	tbl.AddRow("web", "running")
	tbl.AddRow("worker-long-name", "stopped")

	out := tbl.Render()
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("lines = %d\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[2], "web") {
		t.Errorf("row = %q", lines[2])
	}
	// Column width grows to the widest cell.
	if !strings.Contains(lines[3], "worker-long-name  stopped") {
		t.Errorf("row = %q", lines[3])
	}
}

func TestTableShortRowPadded(t *testing.T) {
	SetNoColor(true)

	tbl := NewTable("A", "B")
	tbl.AddRow("only")
	out := tbl.Render()
	if !strings.Contains(out, "only") {
		t.Errorf("output = %q", out)
	}
}

func TestSparkline(t *testing.T) {
	if got := Sparkline(nil); got != "" {
		t.Errorf("empty = %q", got)
	}
	if got := Sparkline([]float64{5, 5, 5}); got != "▁▁▁" {
		t.Errorf("flat = %q", got)
	}

	got := Sparkline([]float64{0, 50, 100})
	runes := []rune(got)
	if len(runes) != 3 {
		t.Fatalf("sparkline = %q", got)
	}
	if runes[0] != '▁' || runes[2] != '█' {
		t.Errorf("sparkline = %q", got)
	}
}

func TestSeverityLabel(t *testing.T) {
	SetNoColor(true)
	if got := SeverityLabel(severity.Critical); !strings.Contains(got, "critical") {
		t.Errorf("label = %q", got)
	}
}

func TestStateBadge(t *testing.T) {
	SetNoColor(true)
	if got := StateBadge(supervisor.StateCrashed, 3); !strings.Contains(got, "crashed (3)") {
		t.Errorf("badge = %q", got)
	}
	if got := StateBadge(supervisor.StateRunning, 0); !strings.Contains(got, "running") {
		t.Errorf("badge = %q", got)
	}
}

func TestDuration(t *testing.T) {
	if got := Duration(12); got != "12ms" {
		t.Errorf("got %q", got)
	}
	if got := Duration(1230); got != "1.2s" {
		t.Errorf("got %q", got)
	}
}

func TestScoreBar(t *testing.T) {
	SetNoColor(true)
	got := ScoreBar(80, 10)
	if !strings.Contains(got, "80/100") {
		t.Errorf("score bar = %q", got)
	}
	if !strings.Contains(got, "████████░░") {
		t.Errorf("score bar = %q", got)
	}
}

func TestTableWidthUsesDisplayWidth(t *testing.T) {
	SetNoColor(true)

	// "●" is three bytes but one cell; byte-length padding would push the
	// second column out of alignment.
	tbl := NewTable("STATE", "NAME")
	tbl.AddRow("● running", "web")
	tbl.AddRow("○ stopped", "worker")

	lines := strings.Split(strings.TrimRight(tbl.Render(), "\n"), "\n")
	if !strings.Contains(lines[2], "● running  web") {
		t.Errorf("row = %q", lines[2])
	}
	if !strings.Contains(lines[3], "○ stopped  worker") {
		t.Errorf("row = %q", lines[3])
	}
}

func TestTableRightAlign(t *testing.T) {
	SetNoColor(true)

	tbl := NewTable("NAME", "COUNT").RightAlign(1)
	tbl.AddRow("users", "7")
	tbl.AddRow("posts", "1234")

	lines := strings.Split(strings.TrimRight(tbl.Render(), "\n"), "\n")
	// COUNT is five wide, so "7" gets four leading spaces and "1234" one.
	if !strings.Contains(lines[2], "users      7") {
		t.Errorf("row = %q", lines[2])
	}
	if !strings.Contains(lines[3], "posts   1234") {
		t.Errorf("row = %q", lines[3])
	}
}

func TestTrendArrowFormatsWholeDeltas(t *testing.T) {
	SetNoColor(true)
	if got := TrendArrow(5, true); got != "▲ +5" {
		t.Errorf("got %q", got)
	}
	if got := TrendArrow(-2.5, false); got != "▼ -2.5" {
		t.Errorf("got %q", got)
	}
	if got := TrendArrow(0, true); got != "─" {
		t.Errorf("got %q", got)
	}
}
