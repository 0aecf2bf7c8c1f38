package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sync/errgroup"
)

// OutputFunc receives raw pty output for one process. Chunks for a single
// process arrive in order; the callback must not retain the slice.
type OutputFunc func(process string, chunk []byte)

// StateFunc is notified on every lifecycle transition.
type StateFunc func(process string, state State, exitCode int)

// Options configures a Supervisor.
type Options struct {
	// SharedEnv is layered over the inherited environment for every
	// process; per-process Spec.Env wins over both.
	SharedEnv map[string]string
	// StopGrace is how long Stop waits after SIGTERM before SIGKILL.
	StopGrace time.Duration
	// Output receives raw pty bytes; required for any useful session.
	Output OutputFunc
	// OnState, when set, is notified on transitions.
	OnState StateFunc
}

// Supervisor launches and tracks the session's processes. One reader
// goroutine per process pumps pty output into the Output callback; Wait
// blocks until all readers drain.
type Supervisor struct {
	opts Options

	mu    sync.Mutex
	procs map[string]*Process
	order []string

	g *errgroup.Group
}

// New returns a Supervisor with no processes started.
func New(opts Options) *Supervisor {
	if opts.StopGrace <= 0 {
		opts.StopGrace = 5 * time.Second
	}
	return &Supervisor{
		opts:  opts,
		procs: make(map[string]*Process),
		g:     &errgroup.Group{},
	}
}

// Start launches a process under a pty and begins pumping its output.
// Starting a name that is already live is an error; a stopped name may be
// started again (restart).
func (s *Supervisor) Start(spec Spec) (*Process, error) {
	if spec.Name == "" {
		return nil, errors.New("process name is required")
	}

	s.mu.Lock()
	if existing, ok := s.procs[spec.Name]; ok {
		if st, _ := existing.State(); st == StateStarting || st == StateRunning {
			s.mu.Unlock()
			return nil, fmt.Errorf("process %q already running", spec.Name)
		}
	}
	s.mu.Unlock()

	cmd := buildCommand(spec.Command)
	if spec.Dir != "" {
		cmd.Dir = spec.Dir
	}
	cmd.Env = mergeEnv(os.Environ(), s.opts.SharedEnv, spec.Env)
	// Own process group so Stop can signal the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	tty, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Name, err)
	}

	p := &Process{
		spec:    spec,
		state:   StateStarting,
		cmd:     cmd,
		tty:     tty,
		done:    make(chan struct{}),
		started: time.Now(),
	}

	s.mu.Lock()
	if _, ok := s.procs[spec.Name]; !ok {
		s.order = append(s.order, spec.Name)
	}
	s.procs[spec.Name] = p
	s.mu.Unlock()

	s.notify(spec.Name, StateStarting, 0)
	s.g.Go(func() error {
		s.pump(p, tty)
		return nil
	})
	return p, nil
}

// pump reads the pty until EOF, forwarding chunks in arrival order, then
// reaps the child and records its terminal state.
func (s *Supervisor) pump(p *Process, tty *os.File) {
	defer tty.Close()

	buf := make([]byte, 32*1024)
	for {
		n, err := tty.Read(buf)
		if n > 0 {
			p.markRunning()
			s.notifyRunning(p)
			if s.opts.Output != nil {
				s.opts.Output(p.spec.Name, buf[:n])
			}
		}
		if err != nil {
			// A pty read fails with EIO when the child exits; treat it
			// like EOF. Anything else also ends the pump, the child is
			// reaped either way.
			break
		}
	}

	err := p.cmd.Wait()
	p.finish(err)
	st, code := p.State()
	s.notify(p.spec.Name, st, code)
}

// notifyRunning emits the Starting->Running transition exactly once.
func (s *Supervisor) notifyRunning(p *Process) {
	p.mu.Lock()
	notified := p.runningNotified
	p.runningNotified = true
	p.mu.Unlock()
	if !notified {
		s.notify(p.spec.Name, StateRunning, 0)
	}
}

func (s *Supervisor) notify(name string, st State, code int) {
	if s.opts.OnState != nil {
		s.opts.OnState(name, st, code)
	}
}

// Stop terminates a process: SIGTERM, then SIGKILL after the grace period.
// Stopping a process that already exited is a no-op.
func (s *Supervisor) Stop(ctx context.Context, name string) error {
	p := s.Get(name)
	if p == nil {
		return fmt.Errorf("unknown process %q", name)
	}

	p.mu.Lock()
	switch p.state {
	case StateStopped, StateCrashed:
		p.mu.Unlock()
		return nil
	}
	p.stopping = true
	done := p.done
	p.mu.Unlock()

	p.signal(syscall.SIGTERM)

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.opts.StopGrace):
	}

	p.signal(syscall.SIGKILL)
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StopAll stops every live process concurrently.
func (s *Supervisor) StopAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, p := range s.Processes() {
		name := p.Name()
		g.Go(func() error { return s.Stop(ctx, name) })
	}
	return g.Wait()
}

// Wait blocks until every reader goroutine has drained.
func (s *Supervisor) Wait() error {
	return s.g.Wait()
}

// Get returns the named process, or nil.
func (s *Supervisor) Get(name string) *Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[name]
}

// Processes returns the managed processes in start order.
func (s *Supervisor) Processes() []*Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Process, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.procs[name])
	}
	return out
}

// PIDs returns live processes as name -> pid, the shape the resource
// sampler consumes.
func (s *Supervisor) PIDs() map[string]int {
	out := make(map[string]int)
	for _, p := range s.Processes() {
		if pid := p.PID(); pid != 0 {
			out[p.Name()] = pid
		}
	}
	return out
}
