// Package gitinfo answers the status-bar questions about the project's git
// state: branch, dirtiness, and divergence from upstream. Everything shells
// out to git; a project without git (or a host without the binary) yields
// zero values, never errors.
package gitinfo

import (
	"os/exec"
	"strconv"
	"strings"
)

// Status is a point-in-time summary of the working tree.
type Status struct {
	Branch string
	Dirty  int // changed/untracked paths
	Ahead  int
	Behind int
}

// Describe summarizes the repository at dir.
func Describe(dir string) Status {
	var st Status
	st.Branch = branch(dir)
	if st.Branch == "" {
		return st
	}
	st.Dirty = dirtyCount(dir)
	st.Ahead, st.Behind = aheadBehind(dir)
	return st
}

func branch(dir string) string {
	out, err := run(dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return ""
	}
	return out
}

// dirtyCount counts porcelain status lines: staged, unstaged, and untracked
// entries all count as dirt.
func dirtyCount(dir string) int {
	out, err := run(dir, "status", "--porcelain")
	if err != nil || out == "" {
		return 0
	}
	return len(strings.Split(out, "\n"))
}

// aheadBehind reports commits ahead of and behind the upstream branch.
// No upstream means (0, 0).
func aheadBehind(dir string) (int, int) {
	out, err := run(dir, "rev-list", "--left-right", "--count", "@{upstream}...HEAD")
	if err != nil {
		return 0, 0
	}
	fields := strings.Fields(out)
	if len(fields) != 2 {
		return 0, 0
	}
	behind, _ := strconv.Atoi(fields[0])
	ahead, _ := strconv.Atoi(fields[1])
	return ahead, behind
}

func run(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
