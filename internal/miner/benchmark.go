package miner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/Mike15678/bfm-seedminer-autolauncher/internal/state"
	"github.com/Mike15678/bfm-seedminer-autolauncher/pkg/protocol"
)

// ErrTooSlow means the machine failed the benchmark gate and may not mine.
var ErrTooSlow = errors.New("this graphics card is too slow to help BruteforceMovable; " +
	"if you get a new one, delete the benchmark record and rerun")

// EnsureBenchmark enforces the one-time benchmark gate. A stored pass lets
// mining proceed immediately; a stored fail blocks it; no record triggers a
// timed trial run of the worker against a fixed impossible input. The trial
// must exhaust its tiny search space (exit code 101) within the configured
// target duration to pass.
func (m *Miner) EnsureBenchmark(ctx context.Context, force bool) error {
	if force {
		if err := m.store.ClearBenchmark(); err != nil {
			return err
		}
	}

	result, err := m.store.Benchmark()
	if err != nil {
		return err
	}
	switch result {
	case state.BenchmarkPassed:
		m.log.Info("past benchmark detected, good to go")
		return nil
	case state.BenchmarkFailed:
		return ErrTooSlow
	}

	m.log.Info("benchmarking", "target", m.cfg.BenchmarkTarget)

	part1 := filepath.Join(m.workDir, Part1File)
	if err := m.svc.DownloadBenchmarkPart1(ctx, part1); err != nil {
		return fmt.Errorf("download benchmark input: %w", err)
	}

	argv := append(append([]string{}, m.cfg.WorkerCommand...),
		protocol.WorkerModeGPU, protocol.WorkerFirstIndex, strconv.Itoa(m.cfg.BenchmarkOffset))
	tree, err := m.spawn(m.workDir, argv)
	if err != nil {
		return fmt.Errorf("spawn benchmark worker: %w", err)
	}

	start := time.Now()
	// The trial run is tiny; well past the pass/fail target it only matters
	// that the worker terminates at all.
	code, err := tree.WaitExit(10 * m.cfg.BenchmarkTarget)
	if err != nil {
		if killErr := tree.KillTree(m.cfg.KillTimeout); killErr != nil {
			m.log.Error("cannot tear down benchmark worker", "error", killErr)
		}
		return fmt.Errorf("benchmark run: %w: %s", ErrWorkerBroken, err)
	}
	if code != protocol.ExitExhausted {
		return fmt.Errorf("benchmark exited with code %d: %w", code, ErrWorkerBroken)
	}

	elapsed := time.Since(start)
	if elapsed > m.cfg.BenchmarkTarget {
		if err := m.store.SetBenchmark(state.BenchmarkFailed); err != nil {
			return err
		}
		m.log.Warn("benchmark failed", "elapsed", elapsed, "target", m.cfg.BenchmarkTarget)
		return ErrTooSlow
	}

	if err := m.store.SetBenchmark(state.BenchmarkPassed); err != nil {
		return err
	}
	m.log.Info("benchmark passed, this card is strong enough to help", "elapsed", elapsed)
	return nil
}
