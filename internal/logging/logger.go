package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// FileName is the process log written inside Config.OutputDir
const FileName = "logscope.log"

// Logger wraps zerolog.Logger
type Logger struct {
	zerolog.Logger
	file *os.File
}

// Config holds logger configuration
type Config struct {
	Level     string
	Format    string // "json" or "console"
	Output    io.Writer
	OutputDir string // optional; also write FileName here
}

// New creates a new logger instance
func New(cfg Config) *Logger {
	logger, _ := build(cfg, nil)
	return logger
}

// NewWithFile creates a logger that also writes to OutputDir. The directory is
// created if needed; failure to create it is returned so startup can abort.
func NewWithFile(cfg Config) (*Logger, error) {
	if cfg.OutputDir == "" {
		return New(cfg), nil
	}

	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log output directory: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(cfg.OutputDir, FileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return build(cfg, f)
}

func build(cfg Config, file *os.File) (*Logger, error) {
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	if file != nil {
		output = zerolog.MultiLevelWriter(output, file)
	}

	return &Logger{
		Logger: zerolog.New(output).With().Timestamp().Logger(),
		file:   file,
	}, nil
}

// ParseLevel maps a config level name to a zerolog level, defaulting to info
func ParseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// Close releases the log file, if any
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// SetGlobal sets the global logger
func SetGlobal(logger *Logger) {
	log.Logger = logger.Logger
}

// Global returns the global logger
func Global() *Logger {
	return &Logger{Logger: log.Logger}
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

// WithComponent creates a child logger with a component field
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.Logger.With().Str("component", component).Logger(),
	}
}

// WithDevice creates a child logger scoped to one device
func (l *Logger) WithDevice(deviceID string) *Logger {
	return &Logger{
		Logger: l.Logger.With().Str("device", deviceID).Logger(),
	}
}

// WithScan creates a child logger scoped to one full scan
func (l *Logger) WithScan(scanID, trigger string) *Logger {
	return &Logger{
		Logger: l.Logger.With().Str("scan_id", scanID).Str("trigger", trigger).Logger(),
	}
}
