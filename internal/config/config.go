// Package config handles configuration loading for the autolauncher.
// Values come from (in increasing precedence) built-in defaults, an optional
// YAML config file, BFM_* environment variables, and command-line flags, all
// merged through viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration values for the autolauncher.
type Config struct {
	// BaseURL is the coordination server, e.g. "https://bruteforcemovable.com".
	BaseURL string

	// UpdateURL serves the autolauncher_version file for the startup check.
	UpdateURL string

	// WorkerCommand is the brute-force worker invocation, split on spaces.
	// Positional arguments "gpu 0 <search-space-size>" are appended.
	WorkerCommand []string

	// DataDir holds persistent records, artifacts and log files.
	DataDir string

	// SearchMax is the search-space size passed to the worker for real jobs.
	SearchMax int

	// BenchmarkOffset is the (tiny) search-space size used for the benchmark run.
	BenchmarkOffset int

	// BenchmarkTarget is how long the benchmark run may take and still pass.
	BenchmarkTarget time.Duration

	PollInterval    time.Duration // supervision loop tick
	NoWorkDelay     time.Duration // sleep after "nothing" or a transport error
	LivenessEvery   int           // check server liveness every N poll ticks
	UploadRetryWait time.Duration // delay between upload attempts
	UploadAttempts  int           // upload attempts before the fatal path
	KillTimeout     time.Duration // grace period when tearing down the worker tree
	PromptCooldown  time.Duration // post-job pause inviting the operator to quit

	// MetricsAddr enables the Prometheus listener when non-empty.
	MetricsAddr string

	Verbose bool
}

// Load reads configuration out of the given viper instance and validates it.
func Load(v *viper.Viper) (*Config, error) {
	v.SetDefault("base_url", "https://bruteforcemovable.com")
	v.SetDefault("update_url", "https://github.com/Mike15678/bfm_seedminer_autolauncher/raw/master")
	v.SetDefault("worker", "./seedminer_launcher3")
	v.SetDefault("data_dir", "bfm_misc")
	v.SetDefault("search_max", 80)
	v.SetDefault("benchmark_offset", 5)
	v.SetDefault("benchmark_target", "215s")
	v.SetDefault("poll_interval", "1s")
	v.SetDefault("no_work_delay", "30s")
	v.SetDefault("liveness_every", 30)
	v.SetDefault("upload_retry_wait", "10s")
	v.SetDefault("upload_attempts", 3)
	v.SetDefault("kill_timeout", "5s")
	v.SetDefault("prompt_cooldown", "5s")

	cfg := &Config{
		BaseURL:       strings.TrimRight(v.GetString("base_url"), "/"),
		UpdateURL:     strings.TrimRight(v.GetString("update_url"), "/"),
		WorkerCommand: strings.Fields(v.GetString("worker")),
		DataDir:       v.GetString("data_dir"),
		SearchMax:     v.GetInt("search_max"),
		MetricsAddr:   v.GetString("metrics_addr"),
		Verbose:       v.GetBool("verbose"),
	}

	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base_url is required (env: BFM_BASE_URL)")
	}
	if len(cfg.WorkerCommand) == 0 {
		return nil, fmt.Errorf("worker command is required (env: BFM_WORKER)")
	}
	if cfg.SearchMax <= 0 {
		return nil, fmt.Errorf("search_max must be positive, got %d", cfg.SearchMax)
	}

	var err error
	if cfg.BenchmarkTarget, err = parseDuration(v, "benchmark_target"); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = parseDuration(v, "poll_interval"); err != nil {
		return nil, err
	}
	if cfg.NoWorkDelay, err = parseDuration(v, "no_work_delay"); err != nil {
		return nil, err
	}
	if cfg.UploadRetryWait, err = parseDuration(v, "upload_retry_wait"); err != nil {
		return nil, err
	}
	if cfg.KillTimeout, err = parseDuration(v, "kill_timeout"); err != nil {
		return nil, err
	}
	if cfg.PromptCooldown, err = parseDuration(v, "prompt_cooldown"); err != nil {
		return nil, err
	}

	cfg.BenchmarkOffset = v.GetInt("benchmark_offset")
	if cfg.BenchmarkOffset <= 0 {
		cfg.BenchmarkOffset = 5
	}
	cfg.LivenessEvery = v.GetInt("liveness_every")
	if cfg.LivenessEvery <= 0 {
		cfg.LivenessEvery = 30
	}
	cfg.UploadAttempts = v.GetInt("upload_attempts")
	if cfg.UploadAttempts <= 0 {
		cfg.UploadAttempts = 3
	}

	return cfg, nil
}

func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	raw := v.GetString(key)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, d)
	}
	return d, nil
}
