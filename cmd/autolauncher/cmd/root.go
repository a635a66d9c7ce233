package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is the autolauncher release, compared against the server's
// published version at startup.
const Version = "3.0.0"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "autolauncher",
	Short:   "Volunteer client for the BruteforceMovable mining network",
	Version: Version,
	Long: `The autolauncher repeatedly requests brute-force jobs from the
BruteforceMovable server, runs the local GPU worker for each job, and uploads
the results. Press Ctrl+C at any time: while idle it exits immediately, and
while a job is running it pauses the worker and offers a menu.

Configuration comes from flags, BFM_* environment variables, or a bfm.yaml
file in the current directory.`,
	RunE: runMine,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("bfm")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("BFM")
	viper.AutomaticEnv()

	// A config file is optional; flags and env are enough.
	_ = viper.ReadInConfig()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./bfm.yaml)")

	rootCmd.PersistentFlags().String("base-url", "", "coordination server base URL")
	viper.BindPFlag("base_url", rootCmd.PersistentFlags().Lookup("base-url"))

	rootCmd.PersistentFlags().String("data-dir", "", "directory for persistent records and logs")
	viper.BindPFlag("data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))

	rootCmd.PersistentFlags().String("worker", "", "brute-force worker command")
	viper.BindPFlag("worker", rootCmd.PersistentFlags().Lookup("worker"))

	rootCmd.PersistentFlags().String("metrics-addr", "", "serve Prometheus metrics on this address (disabled when empty)")
	viper.BindPFlag("metrics_addr", rootCmd.PersistentFlags().Lookup("metrics-addr"))

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}
