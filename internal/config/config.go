package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the main configuration
type Config struct {
	Monitor   MonitorConfig    `yaml:"monitor"`
	API       APIConfig        `yaml:"api"`
	Logging   LoggingConfig    `yaml:"logging"`
	Metrics   *MetricsConfig   `yaml:"metrics,omitempty"`
	Health    *HealthConfig    `yaml:"health,omitempty"`
	Tracing   *TracingConfig   `yaml:"tracing,omitempty"`
	Profiling *ProfilingConfig `yaml:"profiling,omitempty"`
	Shutdown  ShutdownConfig   `yaml:"shutdown"`
}

// MonitorConfig defines the log root and how it is scanned
type MonitorConfig struct {
	LogRoot         string   `yaml:"log_root"`
	MaxLinesPerFile int      `yaml:"max_lines_per_file"`
	ScanSchedule    string   `yaml:"scan_schedule"`
	Workers         int      `yaml:"workers"`
	Watch           *bool    `yaml:"watch,omitempty"`
	BootstrapSample *bool    `yaml:"bootstrap_sample,omitempty"`
	KnownLogNames   []string `yaml:"known_log_names,omitempty"`
	Exclude         []string `yaml:"exclude,omitempty"`
}

// APIConfig defines the HTTP API listener
type APIConfig struct {
	Address       string  `yaml:"address"`
	ScanRateLimit float64 `yaml:"scan_rate_limit"`
	ScanBurst     int     `yaml:"scan_burst"`
}

// LoggingConfig defines logging configuration
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"` // json or console
	OutputDir string `yaml:"output_dir,omitempty"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path,omitempty"`
}

// HealthConfig holds health check configuration
type HealthConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Address       string        `yaml:"address"`
	LivenessPath  string        `yaml:"liveness_path,omitempty"`
	ReadinessPath string        `yaml:"readiness_path,omitempty"`
	Timeout       time.Duration `yaml:"timeout,omitempty"`
}

// TracingConfig holds tracing configuration
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint,omitempty"`
	SampleRate float64 `yaml:"sample_rate,omitempty"`
}

// ProfilingConfig enables pprof handlers on the metrics listener
type ProfilingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// ShutdownConfig bounds graceful shutdown
type ShutdownConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// EnvOverrides are LOGSCOPE_* variables applied on top of the file
type EnvOverrides struct {
	LogRoot      string `envconfig:"LOG_ROOT"`
	APIAddress   string `envconfig:"API_ADDRESS"`
	LogLevel     string `envconfig:"LOG_LEVEL"`
	ScanSchedule string `envconfig:"SCAN_SCHEDULE"`
}

// EnvPrefix is the prefix for environment overrides
const EnvPrefix = "LOGSCOPE"

// Default values
const (
	DefaultLogRoot         = "./logs"
	DefaultMaxLinesPerFile = 1000
	DefaultScanSchedule    = "@every 5m"
	DefaultWorkers         = 4
	DefaultAPIAddress      = ":3001"
	DefaultScanRateLimit   = 1.0
	DefaultScanBurst       = 3
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "json"
	DefaultShutdownTimeout = 30 * time.Second
)

// DefaultKnownLogNames are basenames recognized as logs regardless of extension
var DefaultKnownLogNames = []string{"syslog", "messages", "auth", "secure", "kern", "daemon", "dmesg"}

// ScheduleParser accepts standard five-field specs and descriptors like "@every 5m"
var ScheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Load loads configuration from a YAML file with environment variable overrides.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		// Expand environment variables in the YAML content
		expandedData := []byte(os.ExpandEnv(string(data)))
		if err := yaml.Unmarshal(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyEnv() error {
	var env EnvOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("failed to read environment overrides: %w", err)
	}

	if env.LogRoot != "" {
		c.Monitor.LogRoot = env.LogRoot
	}
	if env.APIAddress != "" {
		c.API.Address = env.APIAddress
	}
	if env.LogLevel != "" {
		c.Logging.Level = env.LogLevel
	}
	if env.ScanSchedule != "" {
		c.Monitor.ScanSchedule = env.ScanSchedule
	}
	return nil
}

// applyDefaults sets default values for unspecified configuration
func (c *Config) applyDefaults() {
	if c.Monitor.LogRoot == "" {
		c.Monitor.LogRoot = DefaultLogRoot
	}
	if c.Monitor.MaxLinesPerFile == 0 {
		c.Monitor.MaxLinesPerFile = DefaultMaxLinesPerFile
	}
	if c.Monitor.ScanSchedule == "" {
		c.Monitor.ScanSchedule = DefaultScanSchedule
	}
	if c.Monitor.Workers == 0 {
		c.Monitor.Workers = DefaultWorkers
	}
	if c.Monitor.Watch == nil {
		c.Monitor.Watch = boolPtr(true)
	}
	if c.Monitor.BootstrapSample == nil {
		c.Monitor.BootstrapSample = boolPtr(true)
	}
	if len(c.Monitor.KnownLogNames) == 0 {
		c.Monitor.KnownLogNames = append([]string(nil), DefaultKnownLogNames...)
	}

	if c.API.Address == "" {
		c.API.Address = DefaultAPIAddress
	}
	if c.API.ScanRateLimit == 0 {
		c.API.ScanRateLimit = DefaultScanRateLimit
	}
	if c.API.ScanBurst == 0 {
		c.API.ScanBurst = DefaultScanBurst
	}

	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}

	if c.Metrics != nil && c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Health != nil {
		if c.Health.LivenessPath == "" {
			c.Health.LivenessPath = "/health/live"
		}
		if c.Health.ReadinessPath == "" {
			c.Health.ReadinessPath = "/health/ready"
		}
		if c.Health.Timeout == 0 {
			c.Health.Timeout = 5 * time.Second
		}
	}
	if c.Tracing != nil && c.Tracing.SampleRate == 0 {
		c.Tracing.SampleRate = 1.0
	}

	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultShutdownTimeout
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Monitor.LogRoot == "" {
		return fmt.Errorf("monitor.log_root is required")
	}
	if c.Monitor.MaxLinesPerFile <= 0 {
		return fmt.Errorf("monitor.max_lines_per_file must be positive, got %d", c.Monitor.MaxLinesPerFile)
	}
	if c.Monitor.Workers <= 0 {
		return fmt.Errorf("monitor.workers must be positive, got %d", c.Monitor.Workers)
	}
	if _, err := ScheduleParser.Parse(c.Monitor.ScanSchedule); err != nil {
		return fmt.Errorf("invalid monitor.scan_schedule %q: %w", c.Monitor.ScanSchedule, err)
	}
	for _, pattern := range c.Monitor.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid exclude pattern: %s", pattern)
		}
	}

	if c.API.ScanRateLimit < 0 || c.API.ScanBurst < 0 {
		return fmt.Errorf("api scan rate limit and burst must not be negative")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true, "console": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.Metrics != nil && c.Metrics.Enabled && c.Metrics.Address == "" {
		return fmt.Errorf("metrics.address is required when metrics are enabled")
	}
	if c.Health != nil && c.Health.Enabled && c.Health.Address == "" {
		return fmt.Errorf("health.address is required when health checks are enabled")
	}
	if c.Tracing != nil && (c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1) {
		return fmt.Errorf("tracing.sample_rate must be within [0, 1], got %v", c.Tracing.SampleRate)
	}

	return nil
}

// WatchEnabled reports whether file-change notifications drive incremental updates
func (c *Config) WatchEnabled() bool {
	return c.Monitor.Watch == nil || *c.Monitor.Watch
}

// BootstrapEnabled reports whether a missing log root is filled with sample devices
func (c *Config) BootstrapEnabled() bool {
	return c.Monitor.BootstrapSample == nil || *c.Monitor.BootstrapSample
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	cfg := &Config{
		Metrics: &MetricsConfig{Enabled: true, Address: ":9091"},
		Health:  &HealthConfig{Enabled: true, Address: ":8081"},
	}
	cfg.applyDefaults()
	return cfg
}

func boolPtr(b bool) *bool {
	return &b
}
