package interrupt

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestController(stdin string) (*Controller, *bytes.Buffer) {
	out := &bytes.Buffer{}
	c := New(discardLogger(), strings.NewReader(stdin), out)
	return c, out
}

// interruptNow injects a signal as if the operator pressed Ctrl+C.
func interruptNow(c *Controller) {
	c.sigCh <- syscall.SIGINT
}

// fakeTree records suspend/resume ordering.
type fakeTree struct {
	mu     sync.Mutex
	events []string

	suspendErr error
}

func (f *fakeTree) SuspendTree() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "suspend")
	return f.suspendErr
}

func (f *fakeTree) ResumeTree() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "resume")
	return nil
}

func (f *fakeTree) Events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func TestSleep_NoInterrupt(t *testing.T) {
	c, _ := newTestController("")
	if d := c.Sleep(context.Background(), time.Millisecond); d != Continue {
		t.Errorf("expected Continue, got %v", d)
	}
}

func TestSleep_InterruptWhileIdleExits(t *testing.T) {
	c, _ := newTestController("")
	interruptNow(c)
	if d := c.Sleep(context.Background(), time.Minute); d != ExitNow {
		t.Errorf("expected ExitNow, got %v", d)
	}
}

func TestSleep_ContextCancelled(t *testing.T) {
	c, _ := newTestController("")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if d := c.Sleep(ctx, time.Minute); d != ExitNow {
		t.Errorf("expected ExitNow, got %v", d)
	}
}

func TestSleep_ArmedPromptQuitAfterJob(t *testing.T) {
	c, _ := newTestController("y\n")
	c.ArmPrompt()
	interruptNow(c)

	if d := c.Sleep(context.Background(), 5*time.Millisecond); d != Continue {
		t.Errorf("expected Continue after choosing quit-after-job, got %v", d)
	}
	if !c.QuitAfterJob() {
		t.Error("expected quit-after-job flag to be set")
	}
}

func TestSleep_ArmedPromptQuitNow(t *testing.T) {
	c, _ := newTestController("n\n")
	c.ArmPrompt()
	interruptNow(c)

	if d := c.Sleep(context.Background(), time.Minute); d != ExitNow {
		t.Errorf("expected ExitNow, got %v", d)
	}
	if c.QuitAfterJob() {
		t.Error("quit-after-job flag must not be set")
	}
}

func TestSleep_PromptOnlyArmsOnce(t *testing.T) {
	c, _ := newTestController("y\n")
	c.ArmPrompt()
	interruptNow(c)
	if d := c.Sleep(context.Background(), 5*time.Millisecond); d != Continue {
		t.Fatalf("expected Continue, got %v", d)
	}

	// Second interrupt: armed flag was consumed, so this exits.
	interruptNow(c)
	if d := c.Sleep(context.Background(), time.Minute); d != ExitNow {
		t.Errorf("expected ExitNow on second interrupt, got %v", d)
	}
}

func TestHandleActive_SuspendsBeforeMenuAndResumes(t *testing.T) {
	c, out := newTestController("c\n")
	tree := &fakeTree{}

	if d := c.HandleActive(context.Background(), tree); d != Continue {
		t.Errorf("expected Continue, got %v", d)
	}

	events := tree.Events()
	if len(events) != 2 || events[0] != "suspend" || events[1] != "resume" {
		t.Errorf("expected [suspend resume], got %v", events)
	}
	// The menu must not hit the terminal until after the suspend.
	menuAt := strings.Index(out.String(), "Job paused")
	if menuAt < 0 {
		t.Error("menu was never shown")
	}
}

func TestHandleActive_RequeueExitLeavesTreeSuspended(t *testing.T) {
	c, _ := newTestController("r\n")
	tree := &fakeTree{}

	if d := c.HandleActive(context.Background(), tree); d != RequeueExit {
		t.Errorf("expected RequeueExit, got %v", d)
	}
	for _, e := range tree.Events() {
		if e == "resume" {
			t.Error("tree must not be resumed before a requeue teardown")
		}
	}
}

func TestHandleActive_FinishThenExit(t *testing.T) {
	c, _ := newTestController("f\n")
	tree := &fakeTree{}

	if d := c.HandleActive(context.Background(), tree); d != FinishThenExit {
		t.Errorf("expected FinishThenExit, got %v", d)
	}
	if !c.QuitAfterJob() {
		t.Error("expected quit-after-job flag to be set")
	}
	events := tree.Events()
	if events[len(events)-1] != "resume" {
		t.Errorf("job must keep running after choosing finish, got %v", events)
	}
}

func TestHandleActive_InvalidChoiceReprompts(t *testing.T) {
	c, out := newTestController("zzz\nc\n")
	tree := &fakeTree{}

	if d := c.HandleActive(context.Background(), tree); d != Continue {
		t.Errorf("expected Continue, got %v", d)
	}
	if !strings.Contains(out.String(), "valid choice") {
		t.Error("expected a re-prompt for the invalid choice")
	}
}

func TestHandleActive_UpdateAction(t *testing.T) {
	c, _ := newTestController("u\n")
	tree := &fakeTree{}

	called := false
	c.SetUpdateCheck(func(context.Context) { called = true })

	if d := c.HandleActive(context.Background(), tree); d != Continue {
		t.Errorf("expected Continue, got %v", d)
	}
	if !called {
		t.Error("expected the update action to run")
	}
	events := tree.Events()
	if events[len(events)-1] != "resume" {
		t.Errorf("tree must resume after the update action, got %v", events)
	}
}

func TestHandleActive_SuspendFailureKeepsJobRunning(t *testing.T) {
	c, _ := newTestController("r\n")
	tree := &fakeTree{suspendErr: errors.New("permission denied")}

	if d := c.HandleActive(context.Background(), tree); d != Continue {
		t.Errorf("expected Continue when the tree cannot be suspended, got %v", d)
	}
}

func TestHandleActive_DrainsQueuedInterrupts(t *testing.T) {
	c, _ := newTestController("c\n")
	tree := &fakeTree{}
	interruptNow(c)

	c.HandleActive(context.Background(), tree)

	if c.Pending() {
		t.Error("interrupts queued during the menu must be drained")
	}
}

func TestPending(t *testing.T) {
	c, _ := newTestController("")
	if c.Pending() {
		t.Error("no interrupt should be pending initially")
	}
	interruptNow(c)
	if !c.Pending() {
		t.Error("expected a pending interrupt")
	}
	if c.Pending() {
		t.Error("Pending must consume the interrupt")
	}
}
