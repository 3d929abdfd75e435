// Package scanner keeps the device registry in step with the log root.
//
// Every trigger (the startup scan, cron ticks, API requests and file change
// notifications) becomes a task on one queue drained by a single loop. Full
// scans run in their own goroutine so change tasks keep flowing, guarded by an
// Idle/Scanning state that only moves to Scanning by compare-and-swap: a
// second scan request is rejected, never queued.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/therealutkarshpriyadarshi/logscope/internal/analyzer"
	"github.com/therealutkarshpriyadarshi/logscope/internal/config"
	"github.com/therealutkarshpriyadarshi/logscope/internal/logging"
	"github.com/therealutkarshpriyadarshi/logscope/internal/metrics"
	"github.com/therealutkarshpriyadarshi/logscope/internal/registry"
	"github.com/therealutkarshpriyadarshi/logscope/internal/tracing"
	"github.com/therealutkarshpriyadarshi/logscope/internal/watcher"
	"github.com/therealutkarshpriyadarshi/logscope/internal/worker"
	"github.com/therealutkarshpriyadarshi/logscope/pkg/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrScanInProgress = errors.New("scan already in progress")
	ErrDeviceNotFound = errors.New("device not found")
	ErrFileNotFound   = analyzer.ErrFileNotFound
	ErrLogRootMissing = errors.New("log root does not exist")
	ErrStopped        = errors.New("scanner stopped")
)

// State is the full-scan state
type State int32

const (
	StateIdle State = iota
	StateScanning
)

func (s State) String() string {
	if s == StateScanning {
		return "scanning"
	}
	return "idle"
}

// Trigger names what caused a full scan
type Trigger string

const (
	TriggerStartup  Trigger = "startup"
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
)

// EventSource supplies file change notifications for device directories
type EventSource interface {
	Events() <-chan watcher.Event
	Sync(deviceIDs []string)
}

// Config holds scanner configuration
type Config struct {
	Root string
	// Schedule is a cron spec for periodic scans; empty disables them
	Schedule  string
	Workers   int
	Bootstrap bool
	Analyzer  DeviceAnalyzer
	Registry  *registry.Registry
	Events    EventSource
	Logger    *logging.Logger
	Metrics   *metrics.Collector
	Tracer    trace.Tracer
}

// DeviceAnalyzer turns a device directory into a snapshot. *analyzer.Analyzer
// is the implementation used outside tests.
type DeviceAnalyzer interface {
	AnalyzeDevice(ctx context.Context, dir string) (*types.Device, error)
	AnalyzeLogs(ctx context.Context, deviceID string, files []types.LogFileDescriptor) (types.DeviceStats, []types.Session)
	ReadEntries(ctx context.Context, device types.Device, maxLines int, fileName string) ([]types.LogEntry, error)
}

type taskKind int

const (
	taskFullScan taskKind = iota
	taskChange
)

// task is one unit of work on the scanner queue
type task struct {
	kind     taskKind
	trigger  Trigger
	deviceID string
	ctx      context.Context
	reply    chan scanReply
}

type scanReply struct {
	devices []types.Device
	result  *types.ScanResult
	err     error
}

// Scanner owns the registry and every path that writes to it
type Scanner struct {
	root      string
	schedule  string
	bootstrap bool
	analyzer  DeviceAnalyzer
	registry  *registry.Registry
	events    EventSource
	logger    *logging.Logger
	metrics   *metrics.Collector
	tracer    trace.Tracer

	pool  *worker.WorkerPool
	cron  *cron.Cron
	tasks chan task

	state    atomic.Int32
	lastScan atomic.Pointer[types.ScanResult]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	scans  sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a new Scanner
func New(cfg Config) (*Scanner, error) {
	if cfg.Root == "" {
		return nil, errors.New("log root is required")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve log root: %w", err)
	}

	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.Analyzer == nil {
		cfg.Analyzer = analyzer.New(analyzer.Config{
			Logger:  cfg.Logger,
			Metrics: cfg.Metrics,
		})
	}
	if cfg.Registry == nil {
		cfg.Registry = registry.New()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("logscope/scanner")
	}

	logger := cfg.Logger.WithComponent("scanner")

	var c *cron.Cron
	if cfg.Schedule != "" {
		if _, err := config.ScheduleParser.Parse(cfg.Schedule); err != nil {
			return nil, fmt.Errorf("invalid scan schedule %q: %w", cfg.Schedule, err)
		}
		c = cron.New(
			cron.WithParser(config.ScheduleParser),
			cron.WithLogger(cronLogger{logger: logger}),
		)
	}

	pool := worker.NewWorkerPool(worker.PoolConfig{NumWorkers: cfg.Workers})
	if cfg.Metrics != nil {
		cfg.Metrics.WatchPool(pool)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scanner{
		root:      root,
		schedule:  cfg.Schedule,
		bootstrap: cfg.Bootstrap,
		analyzer:  cfg.Analyzer,
		registry:  cfg.Registry,
		events:    cfg.Events,
		logger:    logger,
		metrics:   cfg.Metrics,
		tracer:    cfg.Tracer,
		pool:      pool,
		cron:      c,
		tasks:     make(chan task, 256),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start runs the startup scan to completion, then begins consuming the
// task queue and the periodic schedule. A failed startup scan is logged and
// leaves the registry empty; the schedule retries it.
func (s *Scanner) Start(ctx context.Context) error {
	var startErr error
	s.startOnce.Do(func() {
		s.pool.Start()

		if _, err := s.ScanNow(ctx, TriggerStartup); err != nil {
			s.logger.Error().Err(err).Msg("Startup scan failed")
		}

		if s.cron != nil {
			if _, err := s.cron.AddFunc(s.schedule, func() {
				s.enqueue(task{kind: taskFullScan, trigger: TriggerSchedule, ctx: context.Background()})
			}); err != nil {
				startErr = fmt.Errorf("failed to schedule scans: %w", err)
				return
			}
			s.cron.Start()
		}

		if s.events != nil {
			s.wg.Add(1)
			go s.forwardEvents()
		}

		s.wg.Add(1)
		go s.loop()

		s.logger.Info().
			Str("root", s.root).
			Str("schedule", s.schedule).
			Int("devices", s.registry.Len()).
			Msg("Scanner started")
	})
	return startErr
}

// Stop stops the schedule and the loop, then waits for an in-flight scan.
func (s *Scanner) Stop(ctx context.Context) error {
	var stopErr error
	s.stopOnce.Do(func() {
		if s.cron != nil {
			<-s.cron.Stop().Done()
		}

		s.cancel()
		s.wg.Wait()

		done := make(chan struct{})
		go func() {
			s.scans.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			stopErr = fmt.Errorf("waiting for in-flight scan: %w", ctx.Err())
		}

		s.pool.Stop()
		s.logger.Info().Msg("Scanner stopped")
	})
	return stopErr
}

// State returns the current full-scan state
func (s *Scanner) State() State {
	return State(s.state.Load())
}

// LastScan returns the most recent full scan result, if any
func (s *Scanner) LastScan() *types.ScanResult {
	return copyResult(s.lastScan.Load())
}

func copyResult(r *types.ScanResult) *types.ScanResult {
	if r == nil {
		return nil
	}
	c := *r
	c.Failed = append([]string(nil), r.Failed...)
	return &c
}

// Root returns the absolute log root
func (s *Scanner) Root() string {
	return s.root
}

// ListDevices returns every device, ordered by id
func (s *Scanner) ListDevices() []types.Device {
	return s.registry.List()
}

// GetDevice returns one device
func (s *Scanner) GetDevice(id string) (types.Device, error) {
	d, ok := s.registry.Get(id)
	if !ok {
		return types.Device{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return d, nil
}

// GetDeviceLogs reads a device's log entries fresh from disk, newest first.
func (s *Scanner) GetDeviceLogs(ctx context.Context, id string, maxLines int, fileName string) ([]types.LogEntry, error) {
	d, err := s.GetDevice(id)
	if err != nil {
		return nil, err
	}

	ctx, span := tracing.TraceLogRead(ctx, s.tracer, id, maxLines)
	defer span.End()

	entries, err := s.analyzer.ReadEntries(ctx, d, maxLines, fileName)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	return entries, nil
}

// ListActiveSessions returns active sessions, newest first. An empty
// deviceID means all devices.
func (s *Scanner) ListActiveSessions(deviceID string) []types.Session {
	return s.registry.Sessions(deviceID)
}

// ScanStatus reports whether a scan is running and how the last one went
func (s *Scanner) ScanStatus() types.ScanStatus {
	return types.ScanStatus{
		Scanning:    s.State() == StateScanning,
		DeviceCount: s.registry.Len(),
		LastScan:    s.LastScan(),
	}
}

// TriggerFullScan queues a manual full scan and waits for its result. The
// returned ScanResult describes this scan, not whichever scan ran last. The
// scan itself is not aborted when ctx is cancelled; only the wait is.
func (s *Scanner) TriggerFullScan(ctx context.Context) ([]types.Device, *types.ScanResult, error) {
	reply := make(chan scanReply, 1)
	t := task{kind: taskFullScan, trigger: TriggerManual, ctx: ctx, reply: reply}

	select {
	case s.tasks <- t:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case <-s.ctx.Done():
		return nil, nil, ErrStopped
	}

	select {
	case r := <-reply:
		return r.devices, r.result, r.err
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case <-s.ctx.Done():
		return nil, nil, ErrStopped
	}
}

// ScanNow runs a full scan on the calling goroutine, subject to the same
// single-scan guard as queued scans.
func (s *Scanner) ScanNow(ctx context.Context, trigger Trigger) ([]types.Device, error) {
	if !s.tryBegin(trigger) {
		return nil, ErrScanInProgress
	}
	defer s.state.Store(int32(StateIdle))

	s.pool.Start()

	_, devices, err := s.fullScan(context.WithoutCancel(ctx), trigger)
	return devices, err
}

func (s *Scanner) tryBegin(trigger Trigger) bool {
	if s.state.CompareAndSwap(int32(StateIdle), int32(StateScanning)) {
		return true
	}

	if trigger == TriggerSchedule {
		s.logger.Info().Str("trigger", string(trigger)).Msg("Scan already running, skipping scheduled scan")
		if s.metrics != nil {
			s.metrics.ScanSkipped.WithLabelValues(string(trigger)).Inc()
		}
	} else {
		s.logger.Warn().Str("trigger", string(trigger)).Msg("Scan already running, rejecting request")
		if s.metrics != nil {
			s.metrics.ScansTotal.WithLabelValues(string(trigger), metrics.ResultRejected).Inc()
		}
	}
	return false
}

func (s *Scanner) enqueue(t task) {
	select {
	case s.tasks <- t:
	case <-s.ctx.Done():
	}
}

// forwardEvents turns file change notifications into change tasks
func (s *Scanner) forwardEvents() {
	defer s.wg.Done()

	events := s.events.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.Changed(ev.DeviceID)
		case <-s.ctx.Done():
			return
		}
	}
}

// loop is the single consumer of the task queue
func (s *Scanner) loop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case t := <-s.tasks:
			s.handleBatch(s.drain(t))
		}
	}
}

// drain collects t and whatever else is already queued
func (s *Scanner) drain(t task) []task {
	batch := []task{t}
	for {
		select {
		case next := <-s.tasks:
			batch = append(batch, next)
		default:
			return batch
		}
	}
}

func (s *Scanner) handleBatch(batch []task) {
	var changed []string
	seen := make(map[string]bool)

	for _, t := range batch {
		switch t.kind {
		case taskFullScan:
			s.startFullScan(t)
		case taskChange:
			if !seen[t.deviceID] {
				seen[t.deviceID] = true
				changed = append(changed, t.deviceID)
			}
		}
	}

	if len(changed) > 0 {
		s.applyChanges(changed)
	}
}

// startFullScan launches a scan goroutine, or rejects t if one is running
func (s *Scanner) startFullScan(t task) {
	if !s.tryBegin(t.trigger) {
		if t.reply != nil {
			t.reply <- scanReply{err: ErrScanInProgress}
		}
		return
	}

	s.scans.Add(1)
	go func() {
		defer s.scans.Done()

		result, devices, err := s.fullScan(context.WithoutCancel(t.ctx), t.trigger)
		s.state.Store(int32(StateIdle))

		if t.reply != nil {
			t.reply <- scanReply{devices: devices, result: result, err: err}
		}
	}()
}

// fullScan rebuilds the registry from the log root. The caller holds the
// Scanning state.
func (s *Scanner) fullScan(ctx context.Context, trigger Trigger) (*types.ScanResult, []types.Device, error) {
	id := uuid.NewString()
	started := time.Now()
	logger := s.logger.WithScan(id, string(trigger))

	ctx, span := tracing.TraceScan(ctx, s.tracer, id, string(trigger))
	defer span.End()

	result := &types.ScanResult{ID: id, Trigger: string(trigger), StartedAt: started}

	devices, failed, err := s.analyzeRoot(ctx, logger)
	result.Duration = time.Since(started)
	result.Failed = failed

	if err != nil {
		result.Err = err.Error()
		s.lastScan.Store(result)
		tracing.RecordError(ctx, err)
		if s.metrics != nil {
			s.metrics.ScansTotal.WithLabelValues(string(trigger), metrics.ResultFailed).Inc()
		}
		logger.Error().Err(err).Dur("duration", result.Duration).Msg("Full scan failed")
		return copyResult(result), nil, err
	}

	s.registry.ReplaceAll(devices)

	ids := s.registry.IDs()
	if s.events != nil {
		s.events.Sync(ids)
	}

	result.Devices = len(devices)
	s.lastScan.Store(result)

	list := s.registry.List()
	if s.metrics != nil {
		s.metrics.ScansTotal.WithLabelValues(string(trigger), metrics.ResultSuccess).Inc()
		s.metrics.ScanDuration.Observe(result.Duration.Seconds())
		s.metrics.ObserveRegistry(list)
	}

	tracing.SetAttributes(ctx,
		attribute.Int("scan.devices", len(devices)),
		attribute.Int("scan.failed", len(failed)),
	)
	logger.Info().
		Int("devices", len(devices)).
		Int("failed", len(failed)).
		Dur("duration", result.Duration).
		Msg("Full scan complete")

	return copyResult(result), list, nil
}

// analyzeRoot analyzes every device directory through the worker pool
func (s *Scanner) analyzeRoot(ctx context.Context, logger *logging.Logger) ([]*types.Device, []string, error) {
	if err := s.ensureRoot(); err != nil {
		return nil, nil, err
	}

	dirs, err := s.deviceDirs()
	if err != nil {
		return nil, nil, err
	}

	results := make([]*types.Device, len(dirs))
	jobs := make([]worker.Job, len(dirs))
	for i, dir := range dirs {
		i, dir := i, dir
		jobs[i] = func(ctx context.Context) error {
			d, err := s.analyzer.AnalyzeDevice(ctx, dir)
			if err != nil {
				return err
			}
			results[i] = d
			return nil
		}
	}

	errs := s.pool.Run(ctx, jobs)

	devices := make([]*types.Device, 0, len(dirs))
	var failed []string
	for i, err := range errs {
		if errors.Is(err, worker.ErrPoolClosed) {
			return nil, nil, fmt.Errorf("scan interrupted: %w", err)
		}
		if err != nil {
			id := filepath.Base(dirs[i])
			logger.Warn().Err(err).Str("device", id).Msg("Failed to analyze device, omitting it from this scan")
			failed = append(failed, id)
			continue
		}
		devices = append(devices, results[i])
	}

	return devices, failed, nil
}

// ensureRoot makes sure the log root is a directory, bootstrapping sample
// devices when it is missing and bootstrap is enabled.
func (s *Scanner) ensureRoot() error {
	info, err := os.Stat(s.root)
	switch {
	case err == nil && info.IsDir():
		return nil
	case err == nil:
		return fmt.Errorf("log root %s is not a directory", s.root)
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("failed to stat log root: %w", err)
	case !s.bootstrap:
		return fmt.Errorf("%w: %s", ErrLogRootMissing, s.root)
	}

	s.logger.Info().Str("root", s.root).Msg("Log root missing, creating sample devices")
	return Bootstrap(s.root, time.Now())
}

// deviceDirs lists the immediate subdirectories of the root
func (s *Scanner) deviceDirs() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read log root: %w", err)
	}

	dirs := make([]string, 0, len(entries))
	for _, e := range entries {
		path := filepath.Join(s.root, e.Name())
		isDir := e.IsDir()
		if e.Type()&fs.ModeSymlink != 0 {
			if info, err := os.Stat(path); err == nil {
				isDir = info.IsDir()
			}
		}
		if isDir {
			dirs = append(dirs, path)
		}
	}
	return dirs, nil
}

// applyChanges re-analyzes the logs of each changed device and swaps in the
// result, unless a full scan replaced the registry in the meantime.
func (s *Scanner) applyChanges(deviceIDs []string) {
	for _, id := range deviceIDs {
		result := s.updateDevice(id)
		if s.metrics != nil {
			s.metrics.IncrementalUpdates.WithLabelValues(result).Inc()
		}
	}

	if s.metrics != nil {
		s.metrics.ObserveRegistry(s.registry.List())
	}
}

func (s *Scanner) updateDevice(id string) string {
	snap, gen, ok := s.registry.Snapshot(id)
	if !ok {
		s.logger.Debug().Str("device", id).Msg("Change for unknown device ignored")
		return metrics.UpdateUnknown
	}

	ctx, span := tracing.TraceIncremental(s.ctx, s.tracer, id, len(snap.LogFiles))
	defer span.End()

	snap.Stats, snap.ActiveSessions = s.analyzer.AnalyzeLogs(context.WithoutCancel(ctx), id, snap.LogFiles)

	var outcome string
	switch s.registry.UpdateIf(gen, &snap) {
	case registry.Applied:
		s.logger.Debug().Str("device", id).Int("lines", snap.Stats.TotalLines).Msg("Device updated")
		outcome = metrics.UpdateApplied
	case registry.Unknown:
		outcome = metrics.UpdateUnknown
	default:
		s.logger.Debug().Str("device", id).Msg("Device update superseded by full scan")
		outcome = metrics.UpdateSuperseded
	}

	tracing.AddEvent(ctx, "registry.update", attribute.String("update.result", outcome))
	return outcome
}

// Changed queues an incremental update for a device. It is what the watcher
// feeds; callers that learn of changes elsewhere may use it directly.
func (s *Scanner) Changed(deviceID string) {
	s.enqueue(task{kind: taskChange, deviceID: deviceID})
}

// cronLogger adapts the scanner logger to cron's logging interface
type cronLogger struct {
	logger *logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
