package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/therealutkarshpriyadarshi/logscope/internal/analyzer"
	"github.com/therealutkarshpriyadarshi/logscope/internal/api"
	"github.com/therealutkarshpriyadarshi/logscope/internal/config"
	"github.com/therealutkarshpriyadarshi/logscope/internal/health"
	"github.com/therealutkarshpriyadarshi/logscope/internal/logging"
	"github.com/therealutkarshpriyadarshi/logscope/internal/metrics"
	"github.com/therealutkarshpriyadarshi/logscope/internal/scanner"
	"github.com/therealutkarshpriyadarshi/logscope/internal/server"
	"github.com/therealutkarshpriyadarshi/logscope/internal/shutdown"
	"github.com/therealutkarshpriyadarshi/logscope/internal/tracing"
	"github.com/therealutkarshpriyadarshi/logscope/internal/watcher"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Scan the log root, keep it up to date and serve the API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Close()

		return serve(cmd.Context(), cfg, logger)
	},
}

func serve(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	logger.Info().
		Str("version", version).
		Str("log_root", cfg.Monitor.LogRoot).
		Msg("Starting logscope")

	shutdownMgr := shutdown.New(shutdown.Config{
		Timeout: cfg.Shutdown.Timeout,
		Logger:  logger,
	})

	collector := metrics.NewCollector()
	collector.Start()
	shutdownMgr.RegisterFunc("metrics", func(context.Context) error {
		collector.Stop()
		return nil
	})

	tracingCfg := tracing.Config{}
	if cfg.Tracing != nil {
		tracingCfg = tracing.Config{
			Enabled:    cfg.Tracing.Enabled,
			Endpoint:   cfg.Tracing.Endpoint,
			SampleRate: cfg.Tracing.SampleRate,
		}
	}
	provider, err := tracing.NewProvider(ctx, tracingCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	shutdownMgr.RegisterFunc("tracing", provider.Shutdown)

	// The watcher only needs the root once started, which happens after the
	// startup scan has had a chance to bootstrap it.
	var w *watcher.Watcher
	var events scanner.EventSource
	if cfg.WatchEnabled() {
		if w, err = watcher.New(cfg.Monitor.LogRoot, logger, collector); err != nil {
			return fmt.Errorf("failed to create watcher: %w", err)
		}
		events = w
	}

	scn, err := newScanner(cfg, cfg.Monitor.ScanSchedule, events, logger, collector, provider)
	if err != nil {
		return err
	}

	shutdownMgr.RegisterFunc("scanner", scn.Stop)
	if err := scn.Start(ctx); err != nil {
		shutdownMgr.Shutdown()
		return fmt.Errorf("failed to start scanner: %w", err)
	}

	if w != nil {
		shutdownMgr.RegisterFunc("watcher", func(context.Context) error {
			w.Stop()
			return nil
		})
		if err := w.Start(); err != nil {
			logger.Warn().Err(err).Msg("File watching disabled, relying on scheduled scans")
			w = nil
		}
	}

	srvCfg := server.Config{
		MetricsRegistry: collector.Registry(),
		Logger:          logger,
	}
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		srvCfg.MetricsAddress = cfg.Metrics.Address
		srvCfg.MetricsPath = cfg.Metrics.Path
		srvCfg.Profiling = cfg.Profiling != nil && cfg.Profiling.Enabled
	}
	if cfg.Health != nil && cfg.Health.Enabled {
		checker := health.NewChecker(cfg.Health.Timeout)
		checker.Register("scanner", health.ScannerCheck(scn))
		checker.Register("log_root", health.LogRootCheck(scn.Root()))

		srvCfg.HealthAddress = cfg.Health.Address
		srvCfg.LivenessPath = cfg.Health.LivenessPath
		srvCfg.ReadinessPath = cfg.Health.ReadinessPath
		srvCfg.HealthChecker = checker
	}
	opsServer := server.New(srvCfg)
	if err := opsServer.Start(); err != nil {
		shutdownMgr.Shutdown()
		return fmt.Errorf("failed to start server: %w", err)
	}
	shutdownMgr.RegisterFunc("server", opsServer.Stop)

	apiServer := api.New(api.Config{
		Address:       cfg.API.Address,
		ScanRateLimit: cfg.API.ScanRateLimit,
		ScanBurst:     cfg.API.ScanBurst,
	}, scn, logger, collector)
	if err := apiServer.Start(); err != nil {
		shutdownMgr.Shutdown()
		return fmt.Errorf("failed to start API server: %w", err)
	}
	shutdownMgr.RegisterFunc("api", apiServer.Stop)

	logger.Info().
		Str("api", cfg.API.Address).
		Bool("watch", w != nil).
		Msg("logscope is running")

	shutdownMgr.WaitForSignal()
	return shutdownMgr.Err()
}

func newScanner(cfg *config.Config, schedule string, events scanner.EventSource, logger *logging.Logger, collector *metrics.Collector, provider *tracing.Provider) (*scanner.Scanner, error) {
	a := analyzer.New(analyzer.Config{
		MaxLinesPerFile: cfg.Monitor.MaxLinesPerFile,
		KnownLogNames:   cfg.Monitor.KnownLogNames,
		Exclude:         cfg.Monitor.Exclude,
		Logger:          logger,
		Metrics:         collector,
		Tracer:          provider.Tracer(),
	})

	scn, err := scanner.New(scanner.Config{
		Root:      cfg.Monitor.LogRoot,
		Schedule:  schedule,
		Workers:   cfg.Monitor.Workers,
		Bootstrap: cfg.BootstrapEnabled(),
		Analyzer:  a,
		Events:    events,
		Logger:    logger,
		Metrics:   collector,
		Tracer:    provider.Tracer(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create scanner: %w", err)
	}
	return scn, nil
}
