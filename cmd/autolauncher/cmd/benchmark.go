package cmd

import (
	"context"
	"errors"
	"fmt"

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

var benchmarkCmd = &cobra.Command{
	Use:   "benchmark",
	Short: "Discard any stored benchmark result and run a fresh one",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
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
			return err
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		cli := client.New(cfg.BaseURL, cfg.UpdateURL, log)
		intr := interrupt.New(log, cmd.InOrStdin(), cmd.OutOrStdout())
		spawn := func(workdir string, argv []string) (miner.WorkerHandle, error) {
			return proctree.Spawn(log, workdir, argv)
		}
		m := miner.New(cfg, log, cli, store, intr, metrics.New(), spawn, ".", "")

		err = m.EnsureBenchmark(ctx, true)
		if errors.Is(err, miner.ErrTooSlow) {
			cmd.Println(err.Error())
			return nil
		}
		if err != nil {
			return err
		}
		cmd.Println("Benchmark passed. You're good to go!")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(benchmarkCmd)
}
