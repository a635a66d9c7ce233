// Package interrupt turns asynchronous operator interrupts (Ctrl+C) into
// decisions the mining loop consumes at fixed checkpoints.
//
// Two modes, depending on what the loop is doing when the signal lands:
// while idle an interrupt means "exit now" (or, right after a job finished,
// "ask whether to exit after the next job"); while a job is running the
// worker tree is suspended first and the operator picks from a menu. Shared
// flags are only mutated while the tree is confirmed suspended, which is the
// mutual-exclusion discipline between this package and the loop.
package interrupt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"
)

// Decision is what the mining loop should do after a checkpoint.
type Decision int

const (
	// Continue means carry on with whatever the loop was doing.
	Continue Decision = iota

	// FinishThenExit means let the current job run to completion, then exit.
	FinishThenExit

	// RequeueExit means release the current job back to the server and exit
	// immediately. The caller owns tearing down the worker tree.
	RequeueExit

	// ExitNow means terminate cleanly right away.
	ExitNow
)

// Suspender is the slice of the worker-tree handle the controller needs.
type Suspender interface {
	SuspendTree() error
	ResumeTree() error
}

// Controller owns the SIGINT channel and the transient interrupt flags.
type Controller struct {
	log *slog.Logger
	in  *bufio.Reader
	out io.Writer

	sigCh chan os.Signal

	mu           sync.Mutex
	quitAfterJob bool
	promptArmed  bool

	// updateCheck backs the menu's "check for updates" action; optional.
	updateCheck func(context.Context)
}

// New creates a controller reading menu answers from in and writing prompts
// to out. Pass os.Stdin/os.Stdout in production; tests inject buffers.
func New(log *slog.Logger, in io.Reader, out io.Writer) *Controller {
	return &Controller{
		log:   log,
		in:    bufio.NewReader(in),
		out:   out,
		sigCh: make(chan os.Signal, 1),
	}
}

// Start begins intercepting interrupt signals.
func (c *Controller) Start() {
	signal.Notify(c.sigCh, os.Interrupt)
}

// Stop restores default interrupt handling.
func (c *Controller) Stop() {
	signal.Stop(c.sigCh)
}

// SetUpdateCheck installs the action behind the menu's update option.
func (c *Controller) SetUpdateCheck(f func(context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updateCheck = f
}

// Pending reports whether an interrupt arrived since the last checkpoint.
func (c *Controller) Pending() bool {
	select {
	case <-c.sigCh:
		return true
	default:
		return false
	}
}

// QuitAfterJob reports whether the operator asked to exit once the current
// job completes.
func (c *Controller) QuitAfterJob() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quitAfterJob
}

// ArmPrompt makes the next idle interrupt ask "quit after the next job?"
// instead of exiting outright. Armed right after a job reaches a terminal
// state, when the operator has just been told Ctrl+C is available.
func (c *Controller) ArmPrompt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.promptArmed = true
}

// Sleep blocks for d, waking early on an interrupt or context cancellation.
// It returns ExitNow when the operator chose to stop, Continue otherwise.
// This is the idle-mode half of the cancellation contract: no job is active,
// so no menu, no suspension, no network traffic.
func (c *Controller) Sleep(ctx context.Context, d time.Duration) Decision {
	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ExitNow
		case <-timer.C:
			return Continue
		case <-c.sigCh:
			c.mu.Lock()
			armed := c.promptArmed
			c.promptArmed = false
			c.mu.Unlock()

			if !armed {
				fmt.Fprintln(c.out, "\nQuitting...")
				return ExitNow
			}
			if c.askYesNo("Would you like to quit after the next job finishes (instead of now)? [y/n]: ") {
				c.mu.Lock()
				c.quitAfterJob = true
				c.mu.Unlock()
				continue
			}
			fmt.Fprintln(c.out, "Quitting...")
			return ExitNow
		}
	}
}

// HandleActive services an interrupt that landed while a job is running.
// The worker tree is suspended before anything is shown to the operator and
// stays suspended until the chosen action has been applied; further
// interrupts queue up unseen and are drained before returning.
func (c *Controller) HandleActive(ctx context.Context, tree Suspender) Decision {
	if err := tree.SuspendTree(); err != nil {
		c.log.Error("cannot suspend worker tree, job continues", "error", err)
		return Continue
	}
	defer c.drain()

	for {
		fmt.Fprintln(c.out, "\nJob paused. What would you like to do?")
		fmt.Fprintln(c.out, "  [c] continue the job")
		fmt.Fprintln(c.out, "  [u] check for updates, then continue")
		fmt.Fprintln(c.out, "  [f] finish this job, then exit")
		fmt.Fprintln(c.out, "  [r] requeue the job and exit now")
		fmt.Fprint(c.out, "Choice: ")

		choice, err := c.readLine()
		if err != nil {
			// Stdin gone; safest option is to keep the job running.
			c.log.Warn("cannot read interrupt menu choice", "error", err)
			c.resume(tree)
			return Continue
		}

		switch choice {
		case "c":
			fmt.Fprintln(c.out, "Continuing job...")
			c.resume(tree)
			return Continue
		case "u":
			if f := c.updateCheckFn(); f != nil {
				f(ctx)
			} else {
				fmt.Fprintln(c.out, "Update check is not available.")
			}
			c.resume(tree)
			return Continue
		case "f":
			c.mu.Lock()
			c.quitAfterJob = true
			c.mu.Unlock()
			fmt.Fprintln(c.out, "Finishing this job, then exiting...")
			c.resume(tree)
			return FinishThenExit
		case "r":
			fmt.Fprintln(c.out, "Requeuing job...")
			return RequeueExit
		default:
			fmt.Fprintln(c.out, "Please enter a valid choice!")
		}
	}
}

func (c *Controller) resume(tree Suspender) {
	if err := tree.ResumeTree(); err != nil {
		c.log.Error("cannot resume worker tree", "error", err)
	}
}

func (c *Controller) updateCheckFn() func(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updateCheck
}

func (c *Controller) askYesNo(prompt string) bool {
	for {
		fmt.Fprint(c.out, prompt)
		line, err := c.readLine()
		if err != nil {
			return false
		}
		switch {
		case strings.HasPrefix(line, "y"):
			return true
		case strings.HasPrefix(line, "n"):
			return false
		default:
			fmt.Fprintln(c.out, "Please enter a valid choice!")
		}
	}
}

func (c *Controller) readLine() (string, error) {
	line, err := c.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(line)), nil
}

func (c *Controller) drain() {
	for {
		select {
		case <-c.sigCh:
		default:
			return
		}
	}
}
