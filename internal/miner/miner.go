// Package miner drives a single job through its lifecycle: fetch, claim,
// run the worker process, watch it alongside the server's liveness signal,
// and upload the result with a capped retry budget. At most one job is ever
// active; the worker tree never outlives its job's terminal transition.
package miner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Mike15678/bfm-seedminer-autolauncher/internal/client"
	"github.com/Mike15678/bfm-seedminer-autolauncher/internal/config"
	"github.com/Mike15678/bfm-seedminer-autolauncher/internal/interrupt"
	"github.com/Mike15678/bfm-seedminer-autolauncher/internal/metrics"
	"github.com/Mike15678/bfm-seedminer-autolauncher/internal/state"
	"github.com/Mike15678/bfm-seedminer-autolauncher/pkg/protocol"
)

// Artifact files the worker reads and writes in its working directory.
const (
	Part1File   = "movable_part1.sed"
	MovableFile = "movable.sed"
	msedGlob    = "msed_data_*.bin"
)

// JobService is the slice of the remote client the state machine depends on.
// Narrow on purpose so tests can fake the server.
type JobService interface {
	FetchJob(ctx context.Context) (string, error)
	ClaimJob(ctx context.Context, id string) error
	CheckJobAlive(ctx context.Context, id string) (bool, error)
	ReleaseJob(ctx context.Context, id string, requeue bool) error
	DownloadPart1(ctx context.Context, id, dest string) error
	DownloadBenchmarkPart1(ctx context.Context, dest string) error
	UploadResult(ctx context.Context, id, minerName string, paths map[string]string) error
}

// WorkerHandle is the supervisor surface the state machine observes. It never
// manipulates the process directly.
type WorkerHandle interface {
	Poll() (code int, exited bool)
	WaitExit(timeout time.Duration) (int, error)
	SuspendTree() error
	ResumeTree() error
	KillTree(timeout time.Duration) error
}

// SpawnFunc launches the worker command in workdir.
type SpawnFunc func(workdir string, argv []string) (WorkerHandle, error)

// ErrWorkerBroken is wrapped into the fatal error for a worker malfunction.
var ErrWorkerBroken = errors.New("the GPU brute-forcer was not able to run correctly; " +
	"investigate the worker binary before running this script again")

// Miner owns the job lifecycle. Single-threaded by design: one supervision
// loop, one external process tree, cooperation through polling and signals.
type Miner struct {
	cfg       *config.Config
	log       *slog.Logger
	svc       JobService
	store     *state.Store
	intr      *interrupt.Controller
	met       *metrics.Metrics
	spawn     SpawnFunc
	workDir   string
	minerName string

	jobState State
	jobID    string
}

// New wires up a miner. workDir is where the worker runs and artifacts land.
func New(cfg *config.Config, log *slog.Logger, svc JobService, store *state.Store,
	intr *interrupt.Controller, met *metrics.Metrics, spawn SpawnFunc,
	workDir, minerName string) *Miner {
	return &Miner{
		cfg:       cfg,
		log:       log,
		svc:       svc,
		store:     store,
		intr:      intr,
		met:       met,
		spawn:     spawn,
		workDir:   workDir,
		minerName: minerName,
		jobState:  StateIdle,
	}
}

func (m *Miner) transition(s State) {
	m.log.Debug("state transition", "from", m.jobState.String(), "to", s.String(), "job", m.jobID)
	m.jobState = s
}

// runOutcome is what a completed job cycle means for the outer loop.
type runOutcome int

const (
	outcomeIdle runOutcome = iota // back to fetching
	outcomeExit                   // operator asked to stop; exit cleanly
)

// Run is the main loop: fetch, claim, supervise, repeat. It returns nil on a
// clean operator-requested exit and an error on the fatal paths.
func (m *Miner) Run(ctx context.Context) error {
	m.log.Info("ready to mine", "miner", m.minerName, "mined_previously", m.store.Mined())

	for {
		id, err := m.svc.FetchJob(ctx)
		switch {
		case errors.Is(err, client.ErrNoWork):
			m.log.Info("no work available, waiting", "delay", m.cfg.NoWorkDelay)
			if m.idleWait(ctx, m.cfg.NoWorkDelay) == interrupt.ExitNow {
				return nil
			}
			continue
		case err != nil:
			// Transport trouble is never fatal here, only a reason to wait.
			m.log.Warn("cannot reach server, waiting", "delay", m.cfg.NoWorkDelay, "error", err)
			if m.idleWait(ctx, m.cfg.NoWorkDelay) == interrupt.ExitNow {
				return nil
			}
			continue
		}

		m.transition(StateClaimed)
		if err := m.svc.ClaimJob(ctx, id); err != nil {
			m.transition(StateIdle)
			if errors.Is(err, client.ErrAlreadyClaimed) {
				m.log.Info("job already claimed by another miner, trying again", "job", id)
				continue
			}
			m.log.Warn("claim failed, waiting", "job", id, "error", err)
			if m.idleWait(ctx, m.cfg.NoWorkDelay) == interrupt.ExitNow {
				return nil
			}
			continue
		}

		outcome, err := m.runJob(ctx, id)
		if err != nil {
			m.transition(StateFatal)
			return err
		}
		if outcome == outcomeExit {
			return nil
		}
		if m.intr.QuitAfterJob() {
			m.log.Info("exiting after job as requested")
			return nil
		}
	}
}

// runJob owns one claimed job from download through its terminal transition.
func (m *Miner) runJob(ctx context.Context, id string) (runOutcome, error) {
	m.jobID = id

	part1 := filepath.Join(m.workDir, Part1File)
	if err := m.svc.DownloadPart1(ctx, id, part1); err != nil {
		// The job stays usable for other clients; hand it back and wait.
		m.log.Warn("part1 download failed, requeuing job", "job", id, "error", err)
		m.release(ctx, id, true)
		m.clearJob()
		if m.idleWait(ctx, m.cfg.NoWorkDelay) == interrupt.ExitNow {
			return outcomeExit, nil
		}
		return outcomeIdle, nil
	}

	if err := removeIfExists(filepath.Join(m.workDir, MovableFile)); err != nil {
		m.release(ctx, id, true)
		m.clearJob()
		return outcomeIdle, fmt.Errorf("cannot delete stale result artifact: %w", err)
	}

	argv := append(append([]string{}, m.cfg.WorkerCommand...),
		protocol.WorkerModeGPU, protocol.WorkerFirstIndex, strconv.Itoa(m.cfg.SearchMax))
	tree, err := m.spawn(m.workDir, argv)
	if err != nil {
		m.release(ctx, id, true)
		m.clearJob()
		return outcomeIdle, fmt.Errorf("spawn worker: %w", err)
	}

	m.transition(StateRunning)
	m.met.ActiveJob.Set(1)
	defer m.met.ActiveJob.Set(0)
	m.log.Info("bruteforcing", "job", id)

	return m.superviseJob(ctx, id, tree)
}

// superviseJob is the one-second supervision loop. Each tick polls the
// interrupt checkpoint first, then (every LivenessEvery ticks) the server's
// liveness signal, then the worker's natural exit. Liveness before natural
// exit keeps the tie-break deterministic when both land in the same tick.
func (m *Miner) superviseJob(ctx context.Context, id string, tree WorkerHandle) (runOutcome, error) {
	ticks := 0
	for {
		if m.intr.Pending() {
			switch m.intr.HandleActive(ctx, tree) {
			case interrupt.RequeueExit:
				m.release(ctx, id, true)
				if err := tree.KillTree(m.cfg.KillTimeout); err != nil {
					return outcomeExit, fmt.Errorf("worker teardown failed: %w", err)
				}
				m.met.JobsRequeued.Inc()
				m.clearJob()
				return outcomeExit, nil
			default:
				// Continue and FinishThenExit both keep supervising.
			}
		}

		time.Sleep(m.cfg.PollInterval)
		ticks++

		if ticks%m.cfg.LivenessEvery == 0 {
			alive, err := m.svc.CheckJobAlive(ctx, id)
			if err != nil {
				// Only the server's explicit word cancels a job.
				m.log.Warn("liveness check failed, continuing", "job", id, "error", err)
			} else if !alive {
				return m.cancelJob(ctx, id, tree)
			}
		}

		code, exited := tree.Poll()
		if !exited {
			continue
		}
		return m.finishJob(ctx, id, code)
	}
}

// cancelJob handles the server unilaterally cancelling or expiring the job.
func (m *Miner) cancelJob(ctx context.Context, id string, tree WorkerHandle) (runOutcome, error) {
	m.transition(StateCancelled)
	m.log.Info("job cancelled or expired by server, killing worker", "job", id)
	if err := tree.KillTree(m.cfg.KillTimeout); err != nil {
		// Never report success while worker processes are still alive.
		m.release(ctx, id, true)
		return outcomeIdle, fmt.Errorf("worker teardown failed: %w", err)
	}
	// The cancellation reason is ambiguous (could be server-side expiry), so
	// the job goes back in the pool rather than being marked consumed.
	m.release(ctx, id, true)
	m.met.JobsRequeued.Inc()
	m.clearJob()
	m.transition(StateIdle)
	return m.afterJobPause(ctx)
}

// finishJob interprets the worker's natural exit.
func (m *Miner) finishJob(ctx context.Context, id string, code int) (runOutcome, error) {
	movable := filepath.Join(m.workDir, MovableFile)

	switch {
	case code == protocol.ExitExhausted:
		m.transition(StateExhausted)
		m.log.Info("job reached its max offset without a result", "job", id)
		// Fully consumed: tell the server never to hand this job out again.
		m.release(ctx, id, false)
		m.met.JobsExhausted.Inc()
		m.clearJob()
		m.transition(StateIdle)
		return m.afterJobPause(ctx)

	case fileExists(movable):
		m.transition(StateSucceeded)
		return m.uploadJob(ctx, id, movable)

	default:
		m.transition(StateBroken)
		m.release(ctx, id, true)
		m.clearJob()
		// Force a fresh benchmark on the next run; this machine's worker
		// setup can no longer be trusted.
		if err := m.store.ClearBenchmark(); err != nil {
			m.log.Error("cannot invalidate benchmark record", "error", err)
		}
		return outcomeIdle, fmt.Errorf("worker exited with code %d and no result artifact: %w",
			code, ErrWorkerBroken)
	}
}

// uploadJob posts the artifacts, retrying on a fixed interval until the
// attempt budget is spent. Budget exhaustion releases the job (disposition
// kill) and is fatal.
func (m *Miner) uploadJob(ctx context.Context, id, movable string) (runOutcome, error) {
	m.transition(StateUploading)

	msed, err := newestMsedFile(m.workDir)
	if err != nil {
		m.release(ctx, id, true)
		m.clearJob()
		return outcomeIdle, fmt.Errorf("locate msed data artifact: %w", err)
	}
	paths := map[string]string{
		protocol.FieldMovable: movable,
		protocol.FieldMsed:    msed,
	}

	attempt := 0
	op := func() error {
		attempt++
		m.log.Info("uploading result", "job", id, "attempt", attempt, "max_attempts", m.cfg.UploadAttempts)
		if err := m.svc.UploadResult(ctx, id, m.minerName, paths); err != nil {
			m.met.UploadFailures.Inc()
			m.log.Warn("upload failed", "job", id, "attempt", attempt, "error", err)
			return err
		}
		return nil
	}
	bo := backoff.WithMaxRetries(
		backoff.NewConstantBackOff(m.cfg.UploadRetryWait),
		uint64(m.cfg.UploadAttempts-1))
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		m.release(ctx, id, false)
		m.clearJob()
		return outcomeIdle, fmt.Errorf("upload failed %d times: %w", m.cfg.UploadAttempts, err)
	}

	// Durable before reported: the count is on disk before the operator
	// sees it.
	mined, err := m.store.IncrementMined()
	if err != nil {
		return outcomeIdle, err
	}
	m.met.JobsMined.Inc()
	m.log.Info("upload succeeded", "job", id, "total_mined", mined)

	if err := removeIfExists(movable); err != nil {
		m.log.Warn("cannot delete result artifact", "path", movable, "error", err)
	}
	if err := removeIfExists(msed); err != nil {
		m.log.Warn("cannot delete msed artifact", "path", msed, "error", err)
	}
	m.clearJob()
	m.transition(StateIdle)

	if m.intr.QuitAfterJob() {
		return outcomeExit, nil
	}
	return m.afterJobPause(ctx)
}

// afterJobPause arms the "quit after the next job?" prompt and gives the
// operator a short window to press Ctrl+C before the next fetch.
func (m *Miner) afterJobPause(ctx context.Context) (runOutcome, error) {
	m.log.Info("press Ctrl+C if you would like to quit")
	m.intr.ArmPrompt()
	if m.intr.Sleep(ctx, m.cfg.PromptCooldown) == interrupt.ExitNow {
		return outcomeExit, nil
	}
	return outcomeIdle, nil
}

func (m *Miner) idleWait(ctx context.Context, d time.Duration) interrupt.Decision {
	return m.intr.Sleep(ctx, d)
}

// release hands the job back to the server. A failure is logged but never
// blocks local cleanup; release is also a no-op when no job is claimed.
func (m *Miner) release(ctx context.Context, id string, requeue bool) {
	if id == "" {
		return
	}
	if err := m.svc.ReleaseJob(ctx, id, requeue); err != nil {
		m.log.Error("cannot release job, server may keep it claimed", "job", id, "error", err)
	}
}

func (m *Miner) clearJob() {
	m.jobID = ""
}

// SweepStaleArtifacts removes a leftover result artifact from a previous,
// interrupted run so it cannot be mistaken for the next job's output.
func (m *Miner) SweepStaleArtifacts() error {
	if err := removeIfExists(filepath.Join(m.workDir, MovableFile)); err != nil {
		return fmt.Errorf("delete stale %s: %w", MovableFile, err)
	}
	return nil
}

func newestMsedFile(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, msedGlob))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no %s file found in %s", msedGlob, dir)
	}
	newest := matches[0]
	newestMod := time.Time{}
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil {
			continue
		}
		if info.ModTime().After(newestMod) {
			newest = match
			newestMod = info.ModTime()
		}
	}
	return newest, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func removeIfExists(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
