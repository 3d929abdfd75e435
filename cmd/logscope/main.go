package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/therealutkarshpriyadarshi/logscope/internal/config"
	"github.com/therealutkarshpriyadarshi/logscope/internal/logging"
)

var version = "0.1.0"

var configFile string

var rootCmd = &cobra.Command{
	Use:   "logscope",
	Short: "Device log monitor",
	Long: `logscope watches a directory of per-device log folders, extracts
authentication events and SSH sessions, and serves the results over a
REST API.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config.yaml", "path to configuration file")

	rootCmd.AddCommand(serveCmd, scanCmd, versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "logscope", version)
	},
}

// loadConfig reads the config file and builds the process logger from it
func loadConfig() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.NewWithFile(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		OutputDir: cfg.Logging.OutputDir,
	})
	if err != nil {
		return nil, nil, err
	}
	logging.SetGlobal(logger)

	return cfg, logger, nil
}
