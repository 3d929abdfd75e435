// Package analyzer turns one device directory into a Device snapshot.
//
// A device is a directory under the log root; its log files are classified
// line by line and fed through the session correlator. Statistics accumulate
// across every file of the device. Reading a single file may fail without
// failing the device; failing to read the directory itself fails the device.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/therealutkarshpriyadarshi/logscope/internal/classify"
	"github.com/therealutkarshpriyadarshi/logscope/internal/logging"
	"github.com/therealutkarshpriyadarshi/logscope/internal/metrics"
	"github.com/therealutkarshpriyadarshi/logscope/internal/session"
	"github.com/therealutkarshpriyadarshi/logscope/internal/tracing"
	"github.com/therealutkarshpriyadarshi/logscope/pkg/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrFileNotFound = errors.New("log file not found")
)

// Staleness thresholds for device status
const (
	OnlineWindow  = time.Hour
	WarningWindow = 24 * time.Hour
)

// Config holds analyzer configuration
type Config struct {
	MaxLinesPerFile int
	KnownLogNames   []string
	Exclude         []string
	Logger          *logging.Logger
	Metrics         *metrics.Collector
	Tracer          trace.Tracer
	// Now overrides the analysis clock, mainly for tests
	Now func() time.Time
}

// Analyzer produces device snapshots. It holds no per-device state and is
// safe for concurrent use.
type Analyzer struct {
	maxLines   int
	knownNames []string
	exclude    []string
	logger     *logging.Logger
	metrics    *metrics.Collector
	tracer     trace.Tracer
	now        func() time.Time
}

// New creates a new Analyzer
func New(cfg Config) *Analyzer {
	if cfg.MaxLinesPerFile <= 0 {
		cfg.MaxLinesPerFile = 1000
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("logscope/analyzer")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	known := make([]string, len(cfg.KnownLogNames))
	for i, n := range cfg.KnownLogNames {
		known[i] = strings.ToLower(n)
	}

	return &Analyzer{
		maxLines:   cfg.MaxLinesPerFile,
		knownNames: known,
		exclude:    cfg.Exclude,
		logger:     cfg.Logger.WithComponent("analyzer"),
		metrics:    cfg.Metrics,
		tracer:     cfg.Tracer,
		now:        cfg.Now,
	}
}

// IsLogFile reports whether a file name falls under the log-file policy:
// a .log/.txt extension or a known log basename, and no exclude match.
func (a *Analyzer) IsLogFile(name string) bool {
	for _, pattern := range a.exclude {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return false
		}
	}

	lower := strings.ToLower(name)
	switch filepath.Ext(lower) {
	case ".log", ".txt":
		return true
	}

	for _, known := range a.knownNames {
		if strings.Contains(lower, known) {
			return true
		}
	}
	return false
}

// AnalyzeDevice builds a complete snapshot for the device directory dir.
func (a *Analyzer) AnalyzeDevice(ctx context.Context, dir string) (*types.Device, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve device directory: %w", err)
	}
	id := filepath.Base(abs)

	ctx, span := tracing.TraceDevice(ctx, a.tracer, id)
	defer span.End()

	files, err := a.ListLogFiles(abs)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	now := a.now()
	stats, sessions := a.analyzeLogs(id, files, now)

	lastSeen := LastSeen(files)
	ip, ok := ExtractIP(id)
	if !ok {
		ip = SyntheticIP()
	}

	return &types.Device{
		ID:             id,
		Name:           DisplayName(id),
		IP:             ip,
		Status:         StatusFor(lastSeen, now),
		LastSeen:       lastSeen,
		LogFiles:       files,
		Stats:          stats,
		ActiveSessions: sessions,
		AnalyzedAt:     now,
	}, nil
}

// ListLogFiles enumerates the recognized log files of a device directory in
// name order.
func (a *Analyzer) ListLogFiles(dir string) ([]types.LogFileDescriptor, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read device directory %s: %w", dir, err)
	}

	files := make([]types.LogFileDescriptor, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !a.IsLogFile(entry.Name()) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		info, err := os.Stat(path)
		if err != nil {
			a.logger.Warn().Err(err).Str("path", path).Msg("Failed to stat log file")
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}

		files = append(files, types.LogFileDescriptor{
			Name:    entry.Name(),
			Path:    path,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	return files, nil
}

// AnalyzeLogs re-reads the given files and returns fresh statistics and
// active sessions for the device.
func (a *Analyzer) AnalyzeLogs(ctx context.Context, deviceID string, files []types.LogFileDescriptor) (types.DeviceStats, []types.Session) {
	_, span := tracing.TraceDevice(ctx, a.tracer, deviceID)
	defer span.End()

	return a.analyzeLogs(deviceID, files, a.now())
}

func (a *Analyzer) analyzeLogs(deviceID string, files []types.LogFileDescriptor, now time.Time) (types.DeviceStats, []types.Session) {
	var stats types.DeviceStats
	correlator := session.NewCorrelator(deviceID, now)

	for _, f := range files {
		lines, err := TailLines(f.Path, a.maxLines)
		if err != nil {
			a.logger.WithDevice(deviceID).Warn().Err(err).Str("path", f.Path).Msg("Failed to read log file, skipping")
			if a.metrics != nil {
				a.metrics.FileReadErrors.Inc()
			}
			continue
		}

		for _, line := range lines {
			stats.TotalLines++
			switch classify.Severity(line) {
			case types.LevelError:
				stats.Errors++
			case types.LevelWarning:
				stats.Warnings++
			}
			correlator.Process(line)
		}
	}

	stats.SSHConnections = correlator.SSHConnections()
	stats.FailedLogins = correlator.FailedLogins()

	if a.metrics != nil {
		a.metrics.LinesProcessed.Add(float64(stats.TotalLines))
	}

	return stats, correlator.Active()
}

// ReadEntries reads the device's log files fresh from disk and returns up to
// maxLines classified entries, newest first. A non-empty fileName restricts
// the read to that file.
func (a *Analyzer) ReadEntries(ctx context.Context, device types.Device, maxLines int, fileName string) ([]types.LogEntry, error) {
	files := device.LogFiles
	if fileName != "" {
		files = nil
		for _, f := range device.LogFiles {
			if f.Name == fileName {
				files = append(files, f)
			}
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, fileName)
		}
	}

	entries := make([]types.LogEntry, 0)
	if maxLines <= 0 {
		return entries, nil
	}

	now := a.now()
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		lines, err := TailLines(f.Path, maxLines)
		if err != nil {
			a.logger.WithDevice(device.ID).Warn().Err(err).Str("path", f.Path).Msg("Failed to read log file for entries")
			continue
		}

		// later lines in a file are newer
		for i := len(lines) - 1; i >= 0; i-- {
			entries = append(entries, classify.Entry(lines[i], f.Name, device.ID, now))
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})

	if len(entries) > maxLines {
		entries = entries[:maxLines]
	}
	return entries, nil
}

// LastSeen returns the newest modification time among files, or nil.
func LastSeen(files []types.LogFileDescriptor) *time.Time {
	var latest *time.Time
	for i := range files {
		mt := files[i].ModTime
		if latest == nil || mt.After(*latest) {
			latest = &mt
		}
	}
	return latest
}

// StatusFor derives device status from how long ago it was last seen.
func StatusFor(lastSeen *time.Time, now time.Time) types.DeviceStatus {
	if lastSeen == nil {
		return types.StatusOffline
	}

	age := now.Sub(*lastSeen)
	switch {
	case age < OnlineWindow:
		return types.StatusOnline
	case age < WarningWindow:
		return types.StatusWarning
	default:
		return types.StatusOffline
	}
}
