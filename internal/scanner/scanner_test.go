package scanner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/therealutkarshpriyadarshi/logscope/internal/analyzer"
	"github.com/therealutkarshpriyadarshi/logscope/internal/logging"
	"github.com/therealutkarshpriyadarshi/logscope/internal/metrics"
	"github.com/therealutkarshpriyadarshi/logscope/internal/watcher"
	"github.com/therealutkarshpriyadarshi/logscope/pkg/types"
)

func stamp(ago time.Duration) string {
	return time.Now().Add(-ago).Format("Jan _2 15:04:05")
}

func mkDevice(t *testing.T, root, id string, files map[string]string) {
	t.Helper()
	dir := filepath.Join(root, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

type testEnv struct {
	scanner *Scanner
	metrics *metrics.Collector
}

func newTestScanner(t *testing.T, root string, bootstrap bool, events EventSource) *testEnv {
	t.Helper()
	logger := logging.New(logging.Config{Level: "debug", Format: "json"})
	collector := metrics.NewCollector()

	s, err := New(Config{
		Root:      root,
		Workers:   2,
		Bootstrap: bootstrap,
		Analyzer: analyzer.New(analyzer.Config{
			MaxLinesPerFile: 1000,
			KnownLogNames:   []string{"syslog", "auth"},
			Logger:          logger,
			Metrics:         collector,
		}),
		Events:  events,
		Logger:  logger,
		Metrics: collector,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return &testEnv{scanner: s, metrics: collector}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func deviceIDs(devices []types.Device) string {
	ids := make([]string, len(devices))
	for i, d := range devices {
		ids[i] = d.ID
	}
	return strings.Join(ids, ",")
}

func TestEndToEndAuthLog(t *testing.T) {
	root := t.TempDir()
	auth := strings.Join([]string{
		stamp(30*time.Minute) + " srv-a sshd[201]: Failed password for root from 203.0.113.9 port 4001 ssh2",
		stamp(29*time.Minute) + " srv-a sshd[202]: Failed password for root from 203.0.113.9 port 4002 ssh2",
		stamp(28*time.Minute) + " srv-a sshd[203]: Failed password for admin from 203.0.113.9 port 4003 ssh2",
		stamp(10*time.Minute) + " srv-a sshd[300]: Accepted publickey for alice from 10.0.0.5 port 5000 ssh2",
	}, "\n") + "\n"
	mkDevice(t, root, "srv-a", map[string]string{"auth.log": auth})

	env := newTestScanner(t, root, false, nil)
	s := env.scanner
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	d, err := s.GetDevice("srv-a")
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}

	if d.Stats.FailedLogins != 3 {
		t.Errorf("Expected 3 failed logins, got %d", d.Stats.FailedLogins)
	}
	if d.Stats.SSHConnections != 1 {
		t.Errorf("Expected 1 ssh connection, got %d", d.Stats.SSHConnections)
	}
	if d.Stats.Errors != 3 {
		t.Errorf("Expected 3 error lines, got %d", d.Stats.Errors)
	}
	if d.Status != types.StatusOnline {
		t.Errorf("Expected online, got %s", d.Status)
	}

	sessions := s.ListActiveSessions("")
	if len(sessions) != 1 {
		t.Fatalf("Expected 1 active session, got %d", len(sessions))
	}
	if sessions[0].Username != "alice" || sessions[0].SourceIP != "10.0.0.5" || sessions[0].DeviceID != "srv-a" {
		t.Errorf("Unexpected session %+v", sessions[0])
	}

	entries, err := s.GetDeviceLogs(context.Background(), "srv-a", 2, "")
	if err != nil {
		t.Fatalf("GetDeviceLogs() error = %v", err)
	}
	if len(entries) != 2 || !strings.Contains(entries[0].Message, "Accepted publickey") {
		t.Errorf("Expected newest entries first, got %+v", entries)
	}

	status := s.ScanStatus()
	if status.Scanning || status.DeviceCount != 1 || status.LastScan == nil || status.LastScan.Trigger != string(TriggerStartup) {
		t.Errorf("Unexpected scan status %+v", status)
	}
}

func TestFullScanReplacesRegistry(t *testing.T) {
	root := t.TempDir()
	mkDevice(t, root, "a", map[string]string{"app.log": "hello\n"})
	mkDevice(t, root, "b", map[string]string{"app.log": "hello\n"})

	env := newTestScanner(t, root, false, nil)
	s := env.scanner
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := deviceIDs(s.ListDevices()); got != "a,b" {
		t.Fatalf("Expected a,b after startup scan, got %s", got)
	}

	if err := os.RemoveAll(filepath.Join(root, "b")); err != nil {
		t.Fatal(err)
	}
	mkDevice(t, root, "c", map[string]string{"app.log": "error one\nerror two\n"})
	if err := os.WriteFile(filepath.Join(root, "a", "app.log"), []byte("warning\n"), 0644); err != nil {
		t.Fatal(err)
	}

	devices, result, err := s.TriggerFullScan(context.Background())
	if err != nil {
		t.Fatalf("TriggerFullScan() error = %v", err)
	}
	if got := deviceIDs(devices); got != "a,c" {
		t.Errorf("Expected a,c after rescan, got %s", got)
	}
	if result == nil || result.Trigger != string(TriggerManual) || result.Devices != 2 {
		t.Errorf("Expected manual scan result for 2 devices, got %+v", result)
	}

	if _, err := s.GetDevice("b"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Expected deleted device to be dropped, got %v", err)
	}

	a, _ := s.GetDevice("a")
	if a.Stats.Warnings != 1 || a.Stats.TotalLines != 1 {
		t.Errorf("Expected a to be fully re-analyzed, got %+v", a.Stats)
	}

	if v := testutil.ToFloat64(env.metrics.ScansTotal.WithLabelValues("manual", metrics.ResultSuccess)); v != 1 {
		t.Errorf("Expected 1 successful manual scan, got %f", v)
	}
}

func TestUnknownDeviceChangeIsNoop(t *testing.T) {
	root := t.TempDir()
	mkDevice(t, root, "a", map[string]string{"app.log": "hello\n"})

	env := newTestScanner(t, root, false, nil)
	s := env.scanner
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	before := s.ListDevices()

	s.Changed("ghost")

	eventually(t, "unknown update to be counted", func() bool {
		return testutil.ToFloat64(env.metrics.IncrementalUpdates.WithLabelValues(metrics.UpdateUnknown)) == 1
	})

	after := s.ListDevices()
	if deviceIDs(after) != deviceIDs(before) {
		t.Errorf("Registry changed: %s -> %s", deviceIDs(before), deviceIDs(after))
	}
}

func TestIncrementalUpdate(t *testing.T) {
	root := t.TempDir()
	mkDevice(t, root, "a", map[string]string{"app.log": "hello\n"})

	env := newTestScanner(t, root, false, nil)
	s := env.scanner
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	f, err := os.OpenFile(filepath.Join(root, "a", "app.log"), os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	fmt.Fprintf(f, "%s a sshd[9]: Accepted password for bob from 10.1.1.1 port 22 ssh2\nerror: disk\n", stamp(time.Minute))
	f.Close()

	s.Changed("a")

	eventually(t, "incremental update", func() bool {
		d, _ := s.GetDevice("a")
		return d.Stats.TotalLines == 3
	})

	d, _ := s.GetDevice("a")
	if d.Stats.Errors != 1 || d.Stats.SSHConnections != 1 || len(d.ActiveSessions) != 1 {
		t.Errorf("Unexpected stats after update: %+v sessions=%d", d.Stats, len(d.ActiveSessions))
	}
	if s.ScanStatus().LastScan.Trigger != string(TriggerStartup) {
		t.Error("Incremental update must not run a full scan")
	}
}

func TestChangesCoalescedPerDevice(t *testing.T) {
	root := t.TempDir()
	mkDevice(t, root, "a", map[string]string{"app.log": "hello\n"})
	mkDevice(t, root, "b", map[string]string{"app.log": "hello\n"})

	env := newTestScanner(t, root, false, nil)
	s := env.scanner
	if _, err := s.ScanNow(context.Background(), TriggerManual); err != nil {
		t.Fatal(err)
	}

	s.handleBatch([]task{
		{kind: taskChange, deviceID: "a"},
		{kind: taskChange, deviceID: "a"},
		{kind: taskChange, deviceID: "b"},
		{kind: taskChange, deviceID: "a"},
	})

	if v := testutil.ToFloat64(env.metrics.IncrementalUpdates.WithLabelValues(metrics.UpdateApplied)); v != 2 {
		t.Errorf("Expected 2 applied updates, got %f", v)
	}
}

func TestConcurrentScanRejected(t *testing.T) {
	root := t.TempDir()
	mkDevice(t, root, "a", map[string]string{"app.log": "hello\n"})

	env := newTestScanner(t, root, false, nil)
	s := env.scanner
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	// hold the guard as an in-flight scan would
	s.state.Store(int32(StateScanning))

	if _, _, err := s.TriggerFullScan(context.Background()); !errors.Is(err, ErrScanInProgress) {
		t.Errorf("Expected ErrScanInProgress, got %v", err)
	}
	if _, err := s.ScanNow(context.Background(), TriggerManual); !errors.Is(err, ErrScanInProgress) {
		t.Errorf("Expected ErrScanInProgress from ScanNow, got %v", err)
	}
	if !s.ScanStatus().Scanning {
		t.Error("Expected status to report scanning")
	}

	s.state.Store(int32(StateIdle))
	if _, _, err := s.TriggerFullScan(context.Background()); err != nil {
		t.Errorf("Expected scan to run once idle, got %v", err)
	}
}

func TestConcurrentTriggers(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 20; i++ {
		mkDevice(t, root, fmt.Sprintf("dev-%02d", i), map[string]string{"app.log": strings.Repeat("line\n", 200)})
	}

	env := newTestScanner(t, root, false, nil)
	s := env.scanner
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, rejected := 0, 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := s.TriggerFullScan(context.Background())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrScanInProgress):
				rejected++
			default:
				t.Errorf("Unexpected error %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded == 0 {
		t.Error("Expected at least one scan to succeed")
	}
	if succeeded+rejected != 8 {
		t.Errorf("Expected every trigger to be answered, got %d+%d", succeeded, rejected)
	}
	if s.State() != StateIdle {
		t.Error("Expected scanner to return to idle")
	}
}

func TestScheduledScanSkippedWhileScanning(t *testing.T) {
	env := newTestScanner(t, t.TempDir(), false, nil)
	s := env.scanner

	s.state.Store(int32(StateScanning))
	s.startFullScan(task{kind: taskFullScan, trigger: TriggerSchedule, ctx: context.Background()})

	if v := testutil.ToFloat64(env.metrics.ScanSkipped.WithLabelValues(string(TriggerSchedule))); v != 1 {
		t.Errorf("Expected skipped scheduled scan to be counted, got %f", v)
	}
}

func TestMissingRootWithoutBootstrap(t *testing.T) {
	root := filepath.Join(t.TempDir(), "absent")
	env := newTestScanner(t, root, false, nil)
	s := env.scanner

	_, err := s.ScanNow(context.Background(), TriggerManual)
	if !errors.Is(err, ErrLogRootMissing) {
		t.Fatalf("Expected ErrLogRootMissing, got %v", err)
	}
	if s.ScanStatus().DeviceCount != 0 {
		t.Error("Expected registry untouched")
	}
	if last := s.LastScan(); last == nil || last.Err == "" {
		t.Errorf("Expected failed scan to be recorded, got %+v", last)
	}
	if s.State() != StateIdle {
		t.Error("Expected idle after failed scan")
	}
}

func TestMissingRootBootstrapsSamples(t *testing.T) {
	root := filepath.Join(t.TempDir(), "logs")
	env := newTestScanner(t, root, true, nil)
	s := env.scanner

	devices, err := s.ScanNow(context.Background(), TriggerStartup)
	if err != nil {
		t.Fatalf("ScanNow() error = %v", err)
	}
	if got := deviceIDs(devices); got != "db-server-192.168.1.20,firewall-main,web-server-01" {
		t.Errorf("Unexpected sample devices: %s", got)
	}

	db, err := s.GetDevice("db-server-192.168.1.20")
	if err != nil {
		t.Fatal(err)
	}
	if db.IP != "192.168.1.20" {
		t.Errorf("Expected IP from directory name, got %s", db.IP)
	}
}

func TestGetDeviceLogsErrors(t *testing.T) {
	root := t.TempDir()
	mkDevice(t, root, "a", map[string]string{"app.log": "hello\n"})

	env := newTestScanner(t, root, false, nil)
	s := env.scanner
	if _, err := s.ScanNow(context.Background(), TriggerManual); err != nil {
		t.Fatal(err)
	}

	if _, err := s.GetDeviceLogs(context.Background(), "nope", 10, ""); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Expected ErrDeviceNotFound, got %v", err)
	}
	if _, err := s.GetDeviceLogs(context.Background(), "a", 10, "other.log"); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("Expected ErrFileNotFound, got %v", err)
	}
	if sessions := s.ListActiveSessions("nope"); len(sessions) != 0 {
		t.Errorf("Expected no sessions for unknown device, got %d", len(sessions))
	}
}

func TestWatcherDrivesIncrementalUpdates(t *testing.T) {
	root := t.TempDir()
	mkDevice(t, root, "edge", map[string]string{"syslog": "boot ok\n"})

	w, err := watcher.New(root, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Stop)

	env := newTestScanner(t, root, false, w)
	s := env.scanner
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	f, err := os.OpenFile(filepath.Join(root, "edge", "syslog"), os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("link down: error\n")
	f.Close()

	eventually(t, "watcher-driven update", func() bool {
		d, _ := s.GetDevice("edge")
		return d.Stats.Errors == 1
	})
}

func TestStopIsIdempotent(t *testing.T) {
	env := newTestScanner(t, t.TempDir(), false, nil)
	s := env.scanner
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}

	if _, _, err := s.TriggerFullScan(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Expected ErrStopped after Stop, got %v", err)
	}
}

// flakyAnalyzer fails AnalyzeDevice for one device directory
type flakyAnalyzer struct {
	DeviceAnalyzer
	fail string
}

func (f *flakyAnalyzer) AnalyzeDevice(ctx context.Context, dir string) (*types.Device, error) {
	if filepath.Base(dir) == f.fail {
		return nil, fmt.Errorf("read %s: permission denied", dir)
	}
	return f.DeviceAnalyzer.AnalyzeDevice(ctx, dir)
}

func TestFullScanOmitsFailedDevice(t *testing.T) {
	root := t.TempDir()
	mkDevice(t, root, "a", map[string]string{"app.log": "warning\n"})
	mkDevice(t, root, "b", map[string]string{"app.log": "error\n"})
	mkDevice(t, root, "c", map[string]string{"app.log": "ok\n"})

	collector := metrics.NewCollector()
	flaky := &flakyAnalyzer{DeviceAnalyzer: analyzer.New(analyzer.Config{Metrics: collector})}
	s, err := New(Config{Root: root, Workers: 2, Analyzer: flaky, Logger: logging.Nop(), Metrics: collector})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Stop(context.Background()) })

	if _, err := s.ScanNow(context.Background(), TriggerManual); err != nil {
		t.Fatal(err)
	}
	if got := deviceIDs(s.ListDevices()); got != "a,b,c" {
		t.Fatalf("Expected a,b,c, got %s", got)
	}

	flaky.fail = "b"
	devices, err := s.ScanNow(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("a failing device must not fail the scan: %v", err)
	}
	if got := deviceIDs(devices); got != "a,c" {
		t.Errorf("Expected a,c, got %s", got)
	}
	if _, err := s.GetDevice("b"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Expected b to be omitted, got %v", err)
	}

	last := s.LastScan()
	if last == nil || last.Err != "" || last.Devices != 2 {
		t.Fatalf("Unexpected scan result %+v", last)
	}
	if len(last.Failed) != 1 || last.Failed[0] != "b" {
		t.Errorf("Expected Failed=[b], got %v", last.Failed)
	}
	if got := testutil.ToFloat64(collector.ScansTotal.WithLabelValues("manual", metrics.ResultSuccess)); got != 2 {
		t.Errorf("Expected 2 successful scans, got %v", got)
	}
}

func TestScannerExportsPoolGauges(t *testing.T) {
	env := newTestScanner(t, t.TempDir(), false, nil)
	env.metrics.Start()
	defer env.metrics.Stop()

	eventually(t, "scan worker gauge", func() bool {
		return testutil.ToFloat64(env.metrics.ScanWorkers) == 2
	})
	if got := testutil.ToFloat64(env.metrics.ScanWorkersActive); got != 0 {
		t.Errorf("Expected idle scan workers, got %f", got)
	}
}
