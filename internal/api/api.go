// Package api exposes the device registry over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/therealutkarshpriyadarshi/logscope/internal/logging"
	"github.com/therealutkarshpriyadarshi/logscope/internal/metrics"
	"github.com/therealutkarshpriyadarshi/logscope/pkg/types"
)

// Service is the query surface the API serves
type Service interface {
	ListDevices() []types.Device
	GetDevice(id string) (types.Device, error)
	GetDeviceLogs(ctx context.Context, id string, maxLines int, fileName string) ([]types.LogEntry, error)
	ListActiveSessions(deviceID string) []types.Session
	TriggerFullScan(ctx context.Context) ([]types.Device, *types.ScanResult, error)
	ScanStatus() types.ScanStatus
}

// Log line limits for /api/devices/{id}/logs
const (
	DefaultLogLines = 100
	MaxLogLines     = 5000
)

// Config holds API server configuration
type Config struct {
	Address string
	// ScanRateLimit is manual scans per second per client; ScanBurst is the bucket size
	ScanRateLimit float64
	ScanBurst     int
}

// Server serves the REST API
type Server struct {
	config  Config
	service Service
	logger  *logging.Logger
	metrics *metrics.Collector
	limiter *clientLimiter
	router  chi.Router
	server  *http.Server
}

// New creates a new API server
func New(cfg Config, service Service, logger *logging.Logger, collector *metrics.Collector) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg.ScanRateLimit <= 0 {
		cfg.ScanRateLimit = 1
	}
	if cfg.ScanBurst <= 0 {
		cfg.ScanBurst = 3
	}

	s := &Server{
		config:  cfg,
		service: service,
		logger:  logger.WithComponent("api"),
		metrics: collector,
		limiter: newClientLimiter(cfg.ScanRateLimit, cfg.ScanBurst),
	}
	s.router = s.routes()

	s.server = &http.Server{
		Addr:              cfg.Address,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// manual scans hold the request open until the scan completes
		WriteTimeout: 5 * time.Minute,
	}

	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)
	r.Use(s.requestMetrics)

	r.Route("/api", func(r chi.Router) {
		r.Get("/devices", s.listDevices)
		r.Get("/devices/{id}", s.getDevice)
		r.Get("/devices/{id}/logs", s.getDeviceLogs)
		r.Get("/sessions", s.listSessions)

		r.Get("/scan/status", s.scanStatus)
		r.With(s.rateLimit).Post("/scan", s.triggerScan)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}

// Handler returns the HTTP handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the API server
func (s *Server) Start() error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info().
			Str("address", s.server.Addr).
			Msg("Starting API server")

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server error: %w", err)
		}
	}()

	// Wait a bit to see if there are any immediate startup errors
	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop gracefully shuts down the API server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down API server")
	return s.server.Shutdown(ctx)
}
