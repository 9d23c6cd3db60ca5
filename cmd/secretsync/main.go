package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/systmms/secretsync/cmd/secretsync/commands"
	"github.com/systmms/secretsync/internal/config"
	"github.com/systmms/secretsync/internal/logging"
	"github.com/systmms/secretsync/internal/metrics"
	"github.com/systmms/secretsync/internal/secure"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	secure.CatchInterrupt()

	err := run()
	secure.Purge()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Global flags
	var (
		configFile     string
		noColor        bool
		debug          bool
		nonInteractive bool
		metricsFile    string
	)

	cfg := &config.Config{}

	rootCmd := &cobra.Command{
		Use:   "secretsync",
		Short: "Provision deployment secrets and verify they reach the cluster",
		Long: `secretsync discovers the secrets declared in deployment values files,
creates the missing ones in the configured secret stores, and waits until the
in-cluster ExternalSecret objects report them synced.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg.Path = configFile
			cfg.Debug = debug
			cfg.Logger = logging.New(debug, noColor)
			cfg.NonInteractive = nonInteractive || os.Getenv("SECRETSYNC_NON_INTERACTIVE") == "1"

			if metricsFile != "" {
				metrics.InitMetrics()
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "secretsync.yaml", "Config file path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&nonInteractive, "non-interactive", false, "Never prompt for manual secret values")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics to this file on exit")

	rootCmd.AddCommand(
		commands.NewDiscoverCommand(cfg),
		commands.NewCheckCommand(cfg),
		commands.NewGenerateCommand(cfg),
		commands.NewValidateCommand(cfg),
		commands.NewSyncCommand(cfg),
		commands.NewStatusCommand(cfg),
		commands.NewListCommand(cfg),
		commands.NewDeleteCommand(cfg),
		commands.NewStrengthCommand(cfg),
		commands.NewDoctorCommand(cfg),
		commands.NewCompletionCommand(cfg),
	)

	err := rootCmd.Execute()
	if metricsFile != "" {
		if werr := metrics.WriteTextfile(metricsFile); werr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to write metrics: %v\n", werr)
		}
	}
	return err
}
