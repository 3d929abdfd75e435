package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/therealutkarshpriyadarshi/logscope/internal/worker"
	"github.com/therealutkarshpriyadarshi/logscope/pkg/types"
)

// Namespace for all metrics
const namespace = "logscope"

// Scan results used as label values
const (
	ResultSuccess  = "success"
	ResultFailed   = "failed"
	ResultRejected = "rejected"
)

// Incremental update results used as label values
const (
	UpdateApplied    = "applied"
	UpdateUnknown    = "unknown_device"
	UpdateSuperseded = "superseded"
)

// Collector provides a central place for all application metrics
type Collector struct {
	// Scan metrics
	ScansTotal   *prometheus.CounterVec
	ScanSkipped  *prometheus.CounterVec
	ScanDuration prometheus.Histogram

	// Scan worker pool metrics, polled with the system metrics
	ScanWorkers          prometheus.Gauge
	ScanWorkersActive    prometheus.Gauge
	ScanQueueUtilization prometheus.Gauge

	// Registry metrics
	Devices        *prometheus.GaugeVec
	ActiveSessions prometheus.Gauge

	// Analysis metrics
	IncrementalUpdates *prometheus.CounterVec
	LinesProcessed     prometheus.Counter
	FileReadErrors     prometheus.Counter
	WatcherEvents      *prometheus.CounterVec

	// API metrics
	APIRequests *prometheus.CounterVec

	// System metrics
	SystemGoroutines prometheus.Gauge
	SystemMemAlloc   prometheus.Gauge

	registry *prometheus.Registry
	mu       sync.Mutex
	stopCh   chan struct{}
	pool     PoolReporter
}

// PoolReporter is implemented by *worker.WorkerPool
type PoolReporter interface {
	Metrics() worker.PoolMetrics
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
	}

	c.initScanMetrics()
	c.initPoolMetrics()
	c.initRegistryMetrics()
	c.initAnalysisMetrics()
	c.initAPIMetrics()
	c.initSystemMetrics()

	return c
}

func (c *Collector) initScanMetrics() {
	c.ScansTotal = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "total",
			Help:      "Full scans by trigger and result",
		},
		[]string{"trigger", "result"},
	)

	c.ScanSkipped = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "skipped_total",
			Help:      "Scan triggers dropped because a scan was already running",
		},
		[]string{"trigger"},
	)

	c.ScanDuration = promauto.With(c.registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "duration_seconds",
			Help:      "Time taken by a full scan",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to ~32s
		},
	)
}

func (c *Collector) initPoolMetrics() {
	c.ScanWorkers = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "workers",
			Help:      "Configured scan workers",
		},
	)

	c.ScanWorkersActive = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "workers_active",
			Help:      "Scan workers currently analyzing a device",
		},
	)

	c.ScanQueueUtilization = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "queue_utilization",
			Help:      "Scan job queue fill level in percent",
		},
	)
}

// WatchPool registers the scan worker pool polled by the collector
func (c *Collector) WatchPool(pool PoolReporter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pool = pool
}

func (c *Collector) initRegistryMetrics() {
	c.Devices = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices",
			Help:      "Devices in the registry by status",
		},
		[]string{"status"},
	)

	c.ActiveSessions = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Active SSH sessions across all devices",
		},
	)
}

func (c *Collector) initAnalysisMetrics() {
	c.IncrementalUpdates = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "incremental",
			Name:      "updates_total",
			Help:      "Incremental device re-analyses by result",
		},
		[]string{"result"},
	)

	c.LinesProcessed = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analyzer",
			Name:      "lines_processed_total",
			Help:      "Log lines classified and correlated",
		},
	)

	c.FileReadErrors = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analyzer",
			Name:      "file_read_errors_total",
			Help:      "Log files skipped because they could not be read",
		},
	)

	c.WatcherEvents = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "events_total",
			Help:      "File system notifications received by operation",
		},
		[]string{"op"},
	)
}

func (c *Collector) initAPIMetrics() {
	c.APIRequests = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "API requests by route pattern and status code",
		},
		[]string{"route", "code"},
	)
}

func (c *Collector) initSystemMetrics() {
	c.SystemGoroutines = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "goroutines_total",
			Help:      "Current number of goroutines",
		},
	)

	c.SystemMemAlloc = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "memory_allocated_bytes",
			Help:      "Bytes of allocated heap objects",
		},
	)
}

// ObserveRegistry sets the device and session gauges from a registry listing
func (c *Collector) ObserveRegistry(devices []types.Device) {
	counts := map[types.DeviceStatus]int{
		types.StatusOnline:  0,
		types.StatusWarning: 0,
		types.StatusOffline: 0,
	}
	sessions := 0
	for _, d := range devices {
		counts[d.Status]++
		sessions += len(d.ActiveSessions)
	}

	for status, n := range counts {
		c.Devices.WithLabelValues(string(status)).Set(float64(n))
	}
	c.ActiveSessions.Set(float64(sessions))
}

// Start begins collecting system metrics periodically
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopCh != nil {
		return
	}

	stopCh := make(chan struct{})
	c.stopCh = stopCh

	// Collect system metrics every 15 seconds
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		c.collectSystemMetrics()
		for {
			select {
			case <-ticker.C:
				c.collectSystemMetrics()
			case <-stopCh:
				return
			}
		}
	}()
}

// Stop stops the metrics collector
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopCh != nil {
		close(c.stopCh)
		c.stopCh = nil
	}
}

// collectSystemMetrics gathers runtime metrics
func (c *Collector) collectSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	c.SystemGoroutines.Set(float64(runtime.NumGoroutine()))
	c.SystemMemAlloc.Set(float64(m.Alloc))

	c.mu.Lock()
	pool := c.pool
	c.mu.Unlock()
	if pool != nil {
		pm := pool.Metrics()
		c.ScanWorkers.Set(float64(pm.NumWorkers))
		c.ScanWorkersActive.Set(float64(pm.WorkersActive))
		c.ScanQueueUtilization.Set(pm.Utilization())
	}
}

// Registry returns the Prometheus registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
