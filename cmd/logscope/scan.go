package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/therealutkarshpriyadarshi/logscope/internal/metrics"
	"github.com/therealutkarshpriyadarshi/logscope/internal/tracing"
)

var (
	scanRoot     string
	scanSessions bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one full scan and print the devices as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Close()

		if scanRoot != "" {
			cfg.Monitor.LogRoot = scanRoot
		}

		provider, err := tracing.NewProvider(cmd.Context(), tracing.Config{})
		if err != nil {
			return err
		}

		// No schedule and no watcher: Start performs exactly the startup scan.
		scn, err := newScanner(cfg, "", nil, logger, metrics.NewCollector(), provider)
		if err != nil {
			return err
		}
		if err := scn.Start(cmd.Context()); err != nil {
			return err
		}
		defer scn.Stop(context.Background())

		if last := scn.LastScan(); last != nil && last.Err != "" {
			return fmt.Errorf("scan failed: %s", last.Err)
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if scanSessions {
			return enc.Encode(scn.ListActiveSessions(""))
		}
		return enc.Encode(scn.ListDevices())
	},
}

func init() {
	scanCmd.Flags().StringVar(&scanRoot, "root", "", "log root to scan (overrides monitor.log_root)")
	scanCmd.Flags().BoolVar(&scanSessions, "sessions", false, "print active sessions instead of devices")
}
