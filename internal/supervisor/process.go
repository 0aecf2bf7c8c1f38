// Package supervisor owns the supervised child processes. Each process runs
// under a pseudo-terminal so it behaves as if attached to a real terminal
// (colors, line buffering, interactive prompts), and its output is pumped to
// a consumer callback in strict arrival order.
package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// State is the lifecycle position of a managed process. Transitions are the
// only mutator: Starting -> Running on first output, then Stopped or
// Crashed(exit code) exactly once.
type State int

const (
	StateStarting State = iota
	StateRunning
	StateStopped
	StateCrashed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateCrashed:
		return "crashed"
	}
	return "unknown"
}

// Spec describes how to launch one process.
type Spec struct {
	Name    string
	Command string
	Dir     string
	// Env entries override the shared environment, which overrides the
	// inherited one. Applied at launch only; later edits are ignored.
	Env map[string]string
}

// Process is one supervised child. All exported methods are safe for
// concurrent use.
type Process struct {
	spec Spec

	mu       sync.Mutex
	state    State
	exitCode int
	cmd      *exec.Cmd
	tty      *os.File
	stopping bool
	done     chan struct{}
	started  time.Time

	runningNotified bool
}

// Name returns the configured process name.
func (p *Process) Name() string { return p.spec.Name }

// Spec returns the launch specification.
func (p *Process) Spec() Spec { return p.spec }

// State returns the current lifecycle state and, for Crashed, the exit code.
func (p *Process) State() (State, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state, p.exitCode
}

// PID returns the child's pid, or 0 when it is not running.
func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	switch p.state {
	case StateStarting, StateRunning:
		return p.cmd.Process.Pid
	}
	return 0
}

// Uptime returns how long the process has been up, or 0 when not running.
func (p *Process) Uptime(now time.Time) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case StateStarting, StateRunning:
		return now.Sub(p.started)
	}
	return 0
}

// Resize propagates a terminal size change to the pty.
func (p *Process) Resize(rows, cols uint16) error {
	p.mu.Lock()
	tty := p.tty
	p.mu.Unlock()
	if tty == nil {
		return fmt.Errorf("%s: not running", p.spec.Name)
	}
	return pty.Setsize(tty, &pty.Winsize{Rows: rows, Cols: cols})
}

// WriteInput forwards bytes to the child's terminal, e.g. to answer a
// debugger prompt.
func (p *Process) WriteInput(data []byte) error {
	p.mu.Lock()
	tty := p.tty
	p.mu.Unlock()
	if tty == nil {
		return fmt.Errorf("%s: not running", p.spec.Name)
	}
	_, err := tty.Write(data)
	return err
}

// markRunning flips Starting to Running; later calls are no-ops.
func (p *Process) markRunning() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateStarting {
		p.state = StateRunning
	}
}

// finish records the terminal state after Wait returns. An exit requested
// via Stop lands in Stopped regardless of the code, since SIGTERM exits
// report non-zero.
func (p *Process) finish(err error) {
	code := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		code = exitErr.ExitCode()
	} else if err != nil {
		code = -1
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.exitCode = code
	if p.stopping || code == 0 {
		p.state = StateStopped
	} else {
		p.state = StateCrashed
	}
	p.tty = nil
	close(p.done)
}

// signal delivers sig to the child's process group when possible, falling
// back to the child alone.
func (p *Process) signal(sig syscall.Signal) {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-cmd.Process.Pid, sig); err != nil {
		_ = cmd.Process.Signal(sig)
	}
}

// shellMetaChars triggers wrapping the command in a shell. Plain argv
// commands are exec'd directly so signals reach the real process.
const shellMetaChars = "|&;<>$`*?()[]{}~\"'"

// buildCommand turns a command string into an exec.Cmd, using bash -lc when
// the command needs shell interpretation.
func buildCommand(command string) *exec.Cmd {
	if strings.ContainsAny(command, shellMetaChars) {
		return exec.Command("bash", "-lc", command)
	}
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return exec.Command("true")
	}
	return exec.Command(argv[0], argv[1:]...)
}

// mergeEnv layers overrides onto a base environment, later layers winning
// per key. The result is sorted for deterministic launches.
func mergeEnv(base []string, layers ...map[string]string) []string {
	merged := make(map[string]string, len(base))
	for _, kv := range base {
		if i := strings.IndexByte(kv, '='); i > 0 {
			merged[kv[:i]] = kv[i+1:]
		}
	}
	for _, layer := range layers {
		for k, v := range layer {
			merged[k] = v
		}
	}
	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
