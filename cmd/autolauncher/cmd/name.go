package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Mike15678/bfm-seedminer-autolauncher/internal/config"
	"github.com/Mike15678/bfm-seedminer-autolauncher/internal/state"
)

var nameCmd = &cobra.Command{
	Use:   "name [new-name]",
	Short: "Show or change the leaderboard display name",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}
		store, err := state.Open(cfg.DataDir)
		if err != nil {
			return err
		}

		if len(args) == 0 {
			name, err := store.MinerName()
			if err != nil {
				return err
			}
			if name == "" {
				cmd.Println("No name set yet; it will be asked for on the first run.")
				return nil
			}
			cmd.Println(name)
			return nil
		}

		if err := store.SetMinerName(args[0]); err != nil {
			return err
		}
		cmd.Printf("Display name set to %q\n", args[0])
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the cumulative mined-job count",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}
		store, err := state.Open(cfg.DataDir)
		if err != nil {
			return err
		}
		name, err := store.MinerName()
		if err != nil {
			return err
		}
		if name == "" {
			name = "(name not set)"
		}
		cmd.Printf("%s has mined %d seed(s)\n", name, store.Mined())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(nameCmd)
	rootCmd.AddCommand(statsCmd)
}
