// Package proctree supervises the external brute-force worker as a detached
// process group: spawn, non-blocking poll, suspend/resume of the whole tree,
// and bounded-timeout teardown. The state machine never touches the process
// directly; it only holds a *Tree handle.
package proctree

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Tree is a handle to a running worker process and its descendants.
type Tree struct {
	cmd *exec.Cmd
	log *slog.Logger

	mu       sync.Mutex
	done     chan struct{}
	exitCode int
	waitErr  error

	started time.Time
}

// Spawn launches argv in workdir as a detached process group so the parent's
// interrupt signal does not propagate to it. The worker inherits stdout and
// stderr; its progress output is part of the operator experience.
func Spawn(log *slog.Logger, workdir string, argv []string) (*Tree, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty worker command")
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = workdir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	detach(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker %q: %w", argv[0], err)
	}

	t := &Tree{
		cmd:     cmd,
		log:     log,
		done:    make(chan struct{}),
		started: time.Now(),
	}
	go t.reap()

	log.Debug("worker spawned", "pid", cmd.Process.Pid, "argv", argv)
	return t, nil
}

func (t *Tree) reap() {
	err := t.cmd.Wait()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.exitCode = t.cmd.ProcessState.ExitCode()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		t.waitErr = err
	}
	close(t.done)
}

// PID returns the worker's process id.
func (t *Tree) PID() int { return t.cmd.Process.Pid }

// Started returns when the worker was spawned.
func (t *Tree) Started() time.Time { return t.started }

// Poll is a non-blocking status check. exited is false while the worker is
// still running; once true, code is the worker's exit code.
func (t *Tree) Poll() (code int, exited bool) {
	select {
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.exitCode, true
	default:
		return 0, false
	}
}

// WaitExit blocks until the worker exits or the timeout elapses.
func (t *Tree) WaitExit(timeout time.Duration) (int, error) {
	select {
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.waitErr != nil {
			return 0, t.waitErr
		}
		return t.exitCode, nil
	case <-time.After(timeout):
		return 0, fmt.Errorf("worker pid %d still running after %s", t.PID(), timeout)
	}
}

// SuspendTree pauses the worker and every descendant. Used only while the
// interrupt menu is on screen.
func (t *Tree) SuspendTree() error {
	return t.signalTree("suspend", (*process.Process).Suspend)
}

// ResumeTree continues a tree previously paused by SuspendTree.
func (t *Tree) ResumeTree() error {
	return t.signalTree("resume", (*process.Process).Resume)
}

func (t *Tree) signalTree(what string, sig func(*process.Process) error) error {
	procs, err := t.members()
	if err != nil {
		return err
	}
	var errs []error
	for _, p := range procs {
		if err := sig(p); err != nil {
			errs = append(errs, fmt.Errorf("%s pid %d: %w", what, p.Pid, err))
		}
	}
	return errors.Join(errs...)
}

// KillTree terminates the worker and all descendants: graceful termination
// first, a bounded wait, then a forced kill. If any process survives (for
// example a permission failure), the error reports the teardown as failed
// rather than silently leaving the process alive.
func (t *Tree) KillTree(timeout time.Duration) error {
	procs, err := t.members()
	if err != nil {
		return err
	}

	for _, p := range procs {
		if err := p.Terminate(); err != nil {
			t.log.Debug("terminate failed, will force kill", "pid", p.Pid, "error", err)
		}
	}

	deadline := time.Now().Add(timeout)
	survivors := waitGone(procs, deadline)

	for _, p := range survivors {
		if err := p.Kill(); err != nil {
			t.log.Error("cannot kill worker process", "pid", p.Pid, "error", err)
		}
	}
	survivors = waitGone(survivors, time.Now().Add(time.Second))

	if len(survivors) > 0 {
		pids := make([]int32, len(survivors))
		for i, p := range survivors {
			pids[i] = p.Pid
		}
		return fmt.Errorf("worker processes still alive after teardown: %v", pids)
	}
	return nil
}

// members returns the parent plus all live descendants, children first so
// signals reach leaves before the parent.
func (t *Tree) members() ([]*process.Process, error) {
	parent, err := process.NewProcess(int32(t.PID()))
	if err != nil {
		// Parent already gone; nothing left to signal.
		return nil, nil
	}
	desc := descendants(parent)
	return append(desc, parent), nil
}

func descendants(p *process.Process) []*process.Process {
	children, err := p.Children()
	if err != nil {
		return nil
	}
	var out []*process.Process
	for _, c := range children {
		out = append(out, descendants(c)...)
		out = append(out, c)
	}
	return out
}

func waitGone(procs []*process.Process, deadline time.Time) []*process.Process {
	remaining := procs
	for len(remaining) > 0 && time.Now().Before(deadline) {
		var alive []*process.Process
		for _, p := range remaining {
			if running, err := p.IsRunning(); err == nil && running {
				alive = append(alive, p)
			}
		}
		remaining = alive
		if len(remaining) > 0 {
			time.Sleep(100 * time.Millisecond)
		}
	}
	return remaining
}
