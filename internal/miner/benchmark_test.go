package miner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Mike15678/bfm-seedminer-autolauncher/internal/state"
)

func TestEnsureBenchmark_PassStoresRecord(t *testing.T) {
	svc := &fakeService{}
	worker := &fakeWorker{
		WaitExitFunc: func(time.Duration) (int, error) { return 101, nil },
	}
	env := newTestEnv(t, svc, worker)
	env.miner.cfg.BenchmarkTarget = time.Hour

	if err := env.miner.EnsureBenchmark(context.Background(), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bench, err := env.store.Benchmark()
	if err != nil {
		t.Fatal(err)
	}
	if bench != state.BenchmarkPassed {
		t.Errorf("expected a stored pass, got %v", bench)
	}
	if len(env.spawned) != 1 || env.spawned[0] != "worker gpu 0 5" {
		t.Errorf("unexpected benchmark invocation: %v", env.spawned)
	}
}

func TestEnsureBenchmark_TooSlowStoresFail(t *testing.T) {
	svc := &fakeService{}
	worker := &fakeWorker{
		WaitExitFunc: func(time.Duration) (int, error) { return 101, nil },
	}
	env := newTestEnv(t, svc, worker)
	env.miner.cfg.BenchmarkTarget = time.Nanosecond

	if err := env.miner.EnsureBenchmark(context.Background(), false); !errors.Is(err, ErrTooSlow) {
		t.Fatalf("expected ErrTooSlow, got %v", err)
	}
	bench, err := env.store.Benchmark()
	if err != nil {
		t.Fatal(err)
	}
	if bench != state.BenchmarkFailed {
		t.Errorf("expected a stored fail, got %v", bench)
	}
}

func TestEnsureBenchmark_StoredPassSkipsRun(t *testing.T) {
	env := newTestEnv(t, &fakeService{}, &fakeWorker{})
	if err := env.store.SetBenchmark(state.BenchmarkPassed); err != nil {
		t.Fatal(err)
	}

	if err := env.miner.EnsureBenchmark(context.Background(), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(env.spawned) != 0 {
		t.Errorf("a stored pass must skip the trial run, got %v", env.spawned)
	}
}

func TestEnsureBenchmark_StoredFailBlocksWithoutRun(t *testing.T) {
	env := newTestEnv(t, &fakeService{}, &fakeWorker{})
	if err := env.store.SetBenchmark(state.BenchmarkFailed); err != nil {
		t.Fatal(err)
	}

	if err := env.miner.EnsureBenchmark(context.Background(), false); !errors.Is(err, ErrTooSlow) {
		t.Fatalf("expected ErrTooSlow, got %v", err)
	}
	if len(env.spawned) != 0 {
		t.Errorf("a stored fail must skip the trial run, got %v", env.spawned)
	}
}

func TestEnsureBenchmark_ForceRerunsDespiteStoredFail(t *testing.T) {
	svc := &fakeService{}
	worker := &fakeWorker{
		WaitExitFunc: func(time.Duration) (int, error) { return 101, nil },
	}
	env := newTestEnv(t, svc, worker)
	env.miner.cfg.BenchmarkTarget = time.Hour
	if err := env.store.SetBenchmark(state.BenchmarkFailed); err != nil {
		t.Fatal(err)
	}

	if err := env.miner.EnsureBenchmark(context.Background(), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(env.spawned) != 1 {
		t.Errorf("force must rerun the trial, got %v", env.spawned)
	}
}

func TestEnsureBenchmark_UnexpectedExitCodeIsBroken(t *testing.T) {
	worker := &fakeWorker{
		WaitExitFunc: func(time.Duration) (int, error) { return 0, nil },
	}
	env := newTestEnv(t, &fakeService{}, worker)

	err := env.miner.EnsureBenchmark(context.Background(), false)
	if !errors.Is(err, ErrWorkerBroken) {
		t.Fatalf("expected a worker-malfunction error, got %v", err)
	}
	if bench, _ := env.store.Benchmark(); bench != state.BenchmarkNotRun {
		t.Errorf("no benchmark verdict may be stored for a broken worker, got %v", bench)
	}
}

func TestEnsureBenchmark_DownloadErrorPropagates(t *testing.T) {
	svc := &fakeService{
		DownloadBenchFunc: func(context.Context, string) error {
			return errors.New("connection reset")
		},
	}
	env := newTestEnv(t, svc, &fakeWorker{})

	if err := env.miner.EnsureBenchmark(context.Background(), false); err == nil {
		t.Fatal("download failure must propagate")
	}
	if len(env.spawned) != 0 {
		t.Error("no trial run may start without the benchmark input")
	}
}
