//go:build unix

package proctree

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func spawnShell(t *testing.T, script string) *Tree {
	t.Helper()
	tree, err := Spawn(discardLogger(), t.TempDir(), []string{"sh", "-c", script})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	t.Cleanup(func() { tree.KillTree(time.Second) })
	return tree
}

func TestSpawn_EmptyCommand(t *testing.T) {
	if _, err := Spawn(discardLogger(), t.TempDir(), nil); err == nil {
		t.Fatal("expected an error for an empty command")
	}
}

func TestPoll_RunningThenExited(t *testing.T) {
	tree := spawnShell(t, "sleep 0.1; exit 7")

	if _, exited := tree.Poll(); exited {
		t.Fatal("worker should still be running right after spawn")
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		code, exited := tree.Poll()
		if exited {
			if code != 7 {
				t.Fatalf("expected exit code 7, got %d", code)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("worker never exited")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWaitExit_ReturnsExitCode(t *testing.T) {
	tree := spawnShell(t, "exit 101")

	code, err := tree.WaitExit(5 * time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code != 101 {
		t.Fatalf("expected exit code 101, got %d", code)
	}
}

func TestWaitExit_Timeout(t *testing.T) {
	tree := spawnShell(t, "sleep 30")

	if _, err := tree.WaitExit(50 * time.Millisecond); err == nil {
		t.Fatal("expected a timeout error")
	}
}

func TestKillTree_TerminatesDescendants(t *testing.T) {
	// The shell spawns a grandchild; both must die with the tree.
	tree := spawnShell(t, "sleep 30 & wait")

	// Let the grandchild start before tearing down.
	time.Sleep(200 * time.Millisecond)
	procs, err := tree.members()
	if err != nil {
		t.Fatal(err)
	}
	if len(procs) < 2 {
		t.Fatalf("expected parent plus at least one child, got %d processes", len(procs))
	}

	if err := tree.KillTree(2 * time.Second); err != nil {
		t.Fatalf("kill tree: %v", err)
	}
	for _, p := range procs {
		if running, err := p.IsRunning(); err == nil && running {
			t.Errorf("pid %d survived teardown", p.Pid)
		}
	}
}

func TestKillTree_AfterNaturalExit(t *testing.T) {
	tree := spawnShell(t, "exit 0")

	if _, err := tree.WaitExit(5 * time.Second); err != nil {
		t.Fatal(err)
	}
	// Tearing down an already-gone tree is not an error.
	if err := tree.KillTree(time.Second); err != nil {
		t.Fatalf("kill tree after exit: %v", err)
	}
}

func TestSuspendResume(t *testing.T) {
	tree := spawnShell(t, "sleep 30")
	time.Sleep(100 * time.Millisecond)

	if err := tree.SuspendTree(); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	p, err := process.NewProcess(int32(tree.PID()))
	if err != nil {
		t.Fatal(err)
	}
	statuses, err := p.Status()
	if err != nil {
		t.Fatal(err)
	}
	if len(statuses) == 0 || statuses[0] != process.Stop {
		t.Errorf("expected a stopped process, got %v", statuses)
	}

	if err := tree.ResumeTree(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	statuses, err = p.Status()
	if err != nil {
		t.Fatal(err)
	}
	if len(statuses) > 0 && statuses[0] == process.Stop {
		t.Error("process still stopped after resume")
	}
}
