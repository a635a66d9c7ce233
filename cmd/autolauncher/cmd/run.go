package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Mike15678/bfm-seedminer-autolauncher/internal/client"
	"github.com/Mike15678/bfm-seedminer-autolauncher/internal/config"
	"github.com/Mike15678/bfm-seedminer-autolauncher/internal/interrupt"
	"github.com/Mike15678/bfm-seedminer-autolauncher/internal/logger"
	"github.com/Mike15678/bfm-seedminer-autolauncher/internal/metrics"
	"github.com/Mike15678/bfm-seedminer-autolauncher/internal/miner"
	"github.com/Mike15678/bfm-seedminer-autolauncher/internal/proctree"
	"github.com/Mike15678/bfm-seedminer-autolauncher/internal/state"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start mining jobs (the default command)",
	RunE:  runMine,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runMine(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	log, closeLog, err := logger.New(cfg.DataDir, cfg.Verbose)
	if err != nil {
		return fmt.Errorf("set up logging: %w", err)
	}
	defer closeLog()

	store, err := state.Open(cfg.DataDir)
	if err != nil {
		log.Error("cannot open local state", "error", err)
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cli := client.New(cfg.BaseURL, cfg.UpdateURL, log)

	// The version check is startup-critical: if the server cannot even tell
	// us the current version, mining against it will not go better.
	if err := checkVersion(ctx, cli, log); err != nil {
		log.Error("cannot check for updates; verify your internet connection "+
			"and that the server is reachable, then rerun", "error", err)
		return err
	}

	name, err := ensureMinerName(cmd, store)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Welcome %s, your mining effort is truly appreciated!\n", name)

	intr := interrupt.New(log, cmd.InOrStdin(), cmd.OutOrStdout())
	intr.Start()
	defer intr.Stop()
	intr.SetUpdateCheck(func(ctx context.Context) {
		if err := checkVersion(ctx, cli, log); err != nil {
			log.Warn("update check failed", "error", err)
		}
	})

	met := metrics.New()
	if cfg.MetricsAddr != "" {
		met.Serve(cfg.MetricsAddr, log)
	}

	spawn := func(workdir string, argv []string) (miner.WorkerHandle, error) {
		return proctree.Spawn(log, workdir, argv)
	}
	m := miner.New(cfg, log, cli, store, intr, met, spawn, ".", name)

	if err := m.SweepStaleArtifacts(); err != nil {
		log.Error("cannot clean up old artifacts", "error", err)
		return err
	}

	if err := m.EnsureBenchmark(ctx, false); err != nil {
		if errors.Is(err, miner.ErrTooSlow) {
			fmt.Fprintln(cmd.OutOrStdout(), err.Error())
			return nil
		}
		log.Error("benchmark gate failed", "error", err)
		return err
	}

	if err := m.Run(ctx); err != nil {
		log.Error("mining stopped", "error", err)
		return err
	}
	return nil
}

// checkVersion compares this build against the server's published version.
// A mismatch only informs the operator; there is no self-update.
func checkVersion(ctx context.Context, cli *client.Client, log *slog.Logger) error {
	remote, err := cli.Version(ctx)
	if err != nil {
		return err
	}
	if remote != Version {
		log.Warn("a newer autolauncher is available, please update",
			"running", Version, "published", remote)
	} else {
		log.Info("autolauncher is up to date", "version", Version)
	}
	return nil
}

// ensureMinerName loads the stored display name, prompting for one on first
// run (or when the stored record failed validation and was discarded).
func ensureMinerName(cmd *cobra.Command, store *state.Store) (string, error) {
	name, err := store.MinerName()
	if err != nil {
		return "", err
	}
	if name != "" {
		return name, nil
	}

	out := cmd.OutOrStdout()
	in := bufio.NewReader(cmd.InOrStdin())
	fmt.Fprintln(out, "No username set. Which name would you like to have on the leaderboards?")
	fmt.Fprintln(out, "Allowed characters are: a-Z 0-9 _ - |")
	for {
		fmt.Fprint(out, "Enter your desired name: ")
		line, err := in.ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("read name: %w", err)
		}
		name = strings.TrimSpace(line)
		if vErr := state.ValidateName(name); vErr != nil {
			fmt.Fprintln(out, vErr.Error())
			continue
		}
		if err := store.SetMinerName(name); err != nil {
			return "", err
		}
		return name, nil
	}
}
