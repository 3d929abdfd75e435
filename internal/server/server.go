package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/therealutkarshpriyadarshi/logscope/internal/health"
	"github.com/therealutkarshpriyadarshi/logscope/internal/logging"
)

// Server exposes the operational endpoints: metrics, pprof and health endpoints.
// The device API is served separately by the api package.
type Server struct {
	metricsServer *http.Server
	healthServer  *http.Server
	logger        *logging.Logger
}

// Config holds server configuration
type Config struct {
	MetricsAddress  string
	MetricsPath     string
	Profiling       bool
	HealthAddress   string
	LivenessPath    string
	ReadinessPath   string
	MetricsRegistry *prometheus.Registry
	HealthChecker   *health.Checker
	Logger          *logging.Logger
}

// New creates a new server. A listener is only configured when both its
// address and its backing component are set.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logging.Global()
	}

	s := &Server{
		logger: cfg.Logger.WithComponent("server"),
	}

	if cfg.MetricsAddress != "" && cfg.MetricsRegistry != nil {
		s.metricsServer = newHTTPServer(cfg.MetricsAddress, metricsMux(cfg))
	}

	if cfg.HealthAddress != "" && cfg.HealthChecker != nil {
		s.healthServer = newHTTPServer(cfg.HealthAddress, healthMux(cfg))
	}

	return s
}

func newHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

func metricsMux(cfg Config) *http.ServeMux {
	path := cfg.MetricsPath
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(
		cfg.MetricsRegistry,
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		},
	))

	if cfg.Profiling {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

func healthMux(cfg Config) *http.ServeMux {
	livenessPath := cfg.LivenessPath
	if livenessPath == "" {
		livenessPath = "/health/live"
	}

	readinessPath := cfg.ReadinessPath
	if readinessPath == "" {
		readinessPath = "/health/ready"
	}

	mux := http.NewServeMux()
	mux.HandleFunc(livenessPath, cfg.HealthChecker.LivenessHandler())
	mux.HandleFunc(readinessPath, cfg.HealthChecker.ReadinessHandler())
	mux.HandleFunc("/health", cfg.HealthChecker.HTTPHandler())
	return mux
}

// Start starts the configured listeners
func (s *Server) Start() error {
	errCh := make(chan error, 2)

	for name, srv := range map[string]*http.Server{"metrics": s.metricsServer, "health": s.healthServer} {
		if srv == nil {
			continue
		}
		go func(name string, srv *http.Server) {
			s.logger.Info().
				Str("address", srv.Addr).
				Msgf("Starting %s server", name)

			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("%s server error: %w", name, err)
			}
		}(name, srv)
	}

	// Wait a bit to see if there are any immediate startup errors
	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop gracefully shuts down the listeners
func (s *Server) Stop(ctx context.Context) error {
	var err error

	if s.metricsServer != nil {
		s.logger.Info().Msg("Shutting down metrics server")
		if shutdownErr := s.metricsServer.Shutdown(ctx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("Error shutting down metrics server")
			err = shutdownErr
		}
	}

	if s.healthServer != nil {
		s.logger.Info().Msg("Shutting down health server")
		if shutdownErr := s.healthServer.Shutdown(ctx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("Error shutting down health server")
			if err == nil {
				err = shutdownErr
			}
		}
	}

	return err
}
