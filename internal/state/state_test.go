package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_EmptyDir(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, uint64(0), s.Mined())

	name, err := s.MinerName()
	require.NoError(t, err)
	assert.Equal(t, "", name)

	bench, err := s.Benchmark()
	require.NoError(t, err)
	assert.Equal(t, BenchmarkNotRun, bench)
}

func TestIncrementMined_DurableAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		n, err := s.IncrementMined()
		require.NoError(t, err)
		assert.Equal(t, uint64(i), n)
	}

	reopened, err := Open(dir)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), reopened.Mined())
}

func TestMinerName_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, s.SetMinerName("figgyc|mk2"))

	reopened, err := Open(dir)
	require.NoError(t, err)
	name, err := reopened.MinerName()
	require.NoError(t, err)
	assert.Equal(t, "figgyc|mk2", name)
}

func TestMinerName_InvalidStoredRecordDiscarded(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	// Simulate a record written by something else with a bad name.
	require.NoError(t, os.WriteFile(filepath.Join(dir, nameFile),
		[]byte(`{"miner_name":"bad name!"}`), 0o644))

	name, err := s.MinerName()
	require.NoError(t, err)
	assert.Equal(t, "", name)
	assert.NoFileExists(t, filepath.Join(dir, nameFile))
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"figgyc", true},
		{"Miner_1-2|3", true},
		{"", false},
		{"has space", false},
		{"émile", false},
		{"semi;colon", false},
		{"waaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaay-too-long", false},
	}
	for _, tt := range tests {
		err := ValidateName(tt.name)
		if tt.valid {
			assert.NoError(t, err, "name %q", tt.name)
		} else {
			assert.ErrorIs(t, err, ErrInvalidName, "name %q", tt.name)
		}
	}
}

func TestBenchmark_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, s.SetBenchmark(BenchmarkPassed))
	got, err := s.Benchmark()
	require.NoError(t, err)
	assert.Equal(t, BenchmarkPassed, got)

	require.NoError(t, s.SetBenchmark(BenchmarkFailed))
	got, err = s.Benchmark()
	require.NoError(t, err)
	assert.Equal(t, BenchmarkFailed, got)
}

func TestBenchmark_CorruptRecord(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, benchmarkFile),
		[]byte(`{"result":"maybe"}`), 0o644))

	_, err = s.Benchmark()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delete")
}

func TestClearBenchmark(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, s.SetBenchmark(BenchmarkPassed))
	require.NoError(t, s.ClearBenchmark())

	got, err := s.Benchmark()
	require.NoError(t, err)
	assert.Equal(t, BenchmarkNotRun, got)

	// Clearing when nothing is stored is fine too.
	require.NoError(t, s.ClearBenchmark())
}

func TestSetBenchmark_RejectsNotRun(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	assert.Error(t, s.SetBenchmark(BenchmarkNotRun))
}
