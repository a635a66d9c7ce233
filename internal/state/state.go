// Package state persists the three scalar records the autolauncher keeps
// between runs: the cumulative mined-job count, the miner's display name, and
// the benchmark outcome. Each record is a small JSON document in the data
// directory, written atomically via a temp file and rename.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// File names inside the data directory.
const (
	minedFile     = "total_mined.json"
	nameFile      = "miner_name.json"
	benchmarkFile = "benchmark.json"
)

// MaxNameLen bounds the display name; the server embeds it in a query string.
const MaxNameLen = 32

var nameRe = regexp.MustCompile(`^[a-zA-Z0-9_\-|]+$`)

// ErrInvalidName is returned for display names containing disallowed
// characters, empty names, or names over MaxNameLen bytes.
var ErrInvalidName = errors.New("name may only contain a-Z 0-9 _ - | and must be 1-32 characters")

// BenchmarkResult is the tri-state outcome of the one-time benchmark gate.
type BenchmarkResult int

const (
	BenchmarkNotRun BenchmarkResult = iota
	BenchmarkPassed
	BenchmarkFailed
)

func (b BenchmarkResult) String() string {
	switch b {
	case BenchmarkPassed:
		return "passed"
	case BenchmarkFailed:
		return "failed"
	default:
		return "not-run"
	}
}

// Store reads and writes the persistent records. Methods are not safe for
// concurrent use; the autolauncher is single-writer by design.
type Store struct {
	dir string

	mined uint64
}

// Open prepares the data directory and loads the mined count into memory.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	s := &Store{dir: dir}

	var rec minedRecord
	ok, err := s.read(minedFile, &rec)
	if err != nil {
		return nil, fmt.Errorf("read mined count: %w", err)
	}
	if ok {
		s.mined = rec.TotalMined
	}
	return s, nil
}

// Dir returns the data directory the store was opened on.
func (s *Store) Dir() string { return s.dir }

type minedRecord struct {
	TotalMined uint64 `json:"total_mined"`
}

type nameRecord struct {
	MinerName string `json:"miner_name"`
}

type benchmarkRecord struct {
	Result string `json:"result"`
}

// Mined returns the cumulative count of successfully uploaded jobs.
func (s *Store) Mined() uint64 { return s.mined }

// IncrementMined durably bumps the mined count and returns the new value.
// The record is on disk before the count is reported to the caller.
func (s *Store) IncrementMined() (uint64, error) {
	next := s.mined + 1
	if err := s.write(minedFile, minedRecord{TotalMined: next}); err != nil {
		return s.mined, fmt.Errorf("persist mined count: %w", err)
	}
	s.mined = next
	return next, nil
}

// MinerName returns the stored display name, or "" when none is set.
// A stored name that fails validation is treated as absent and removed, so
// the caller re-prompts instead of sending garbage to the server.
func (s *Store) MinerName() (string, error) {
	var rec nameRecord
	ok, err := s.read(nameFile, &rec)
	if err != nil {
		return "", fmt.Errorf("read miner name: %w", err)
	}
	if !ok {
		return "", nil
	}
	if ValidateName(rec.MinerName) != nil {
		_ = os.Remove(filepath.Join(s.dir, nameFile))
		return "", nil
	}
	return rec.MinerName, nil
}

// SetMinerName validates and persists the display name.
func (s *Store) SetMinerName(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := s.write(nameFile, nameRecord{MinerName: name}); err != nil {
		return fmt.Errorf("persist miner name: %w", err)
	}
	return nil
}

// ValidateName checks a display name against the allowed character set.
func ValidateName(name string) error {
	if len(name) == 0 || len(name) > MaxNameLen || !nameRe.MatchString(name) {
		return ErrInvalidName
	}
	return nil
}

// Benchmark returns the stored benchmark outcome. A record holding anything
// other than "passed" or "failed" is an error the operator has to resolve by
// deleting the file, matching the guidance printed by the caller.
func (s *Store) Benchmark() (BenchmarkResult, error) {
	var rec benchmarkRecord
	ok, err := s.read(benchmarkFile, &rec)
	if err != nil {
		return BenchmarkNotRun, fmt.Errorf("read benchmark record: %w", err)
	}
	if !ok {
		return BenchmarkNotRun, nil
	}
	switch rec.Result {
	case "passed":
		return BenchmarkPassed, nil
	case "failed":
		return BenchmarkFailed, nil
	default:
		return BenchmarkNotRun, fmt.Errorf("benchmark record %q is corrupt: delete %s and rerun",
			rec.Result, filepath.Join(s.dir, benchmarkFile))
	}
}

// SetBenchmark persists the benchmark outcome.
func (s *Store) SetBenchmark(r BenchmarkResult) error {
	if r != BenchmarkPassed && r != BenchmarkFailed {
		return fmt.Errorf("refusing to persist benchmark state %q", r)
	}
	if err := s.write(benchmarkFile, benchmarkRecord{Result: r.String()}); err != nil {
		return fmt.Errorf("persist benchmark record: %w", err)
	}
	return nil
}

// ClearBenchmark removes the benchmark record, forcing a re-run. Used when a
// worker malfunction invalidates the cached result.
func (s *Store) ClearBenchmark() error {
	err := os.Remove(filepath.Join(s.dir, benchmarkFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear benchmark record: %w", err)
	}
	return nil
}

func (s *Store) read(name string, out any) (bool, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("parse %s: %w", name, err)
	}
	return true, nil
}

func (s *Store) write(name string, rec any) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
