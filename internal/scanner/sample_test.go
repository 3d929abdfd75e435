package scanner

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/therealutkarshpriyadarshi/logscope/internal/analyzer"
	"github.com/therealutkarshpriyadarshi/logscope/pkg/types"
)

func TestBootstrapSampleContent(t *testing.T) {
	root := filepath.Join(t.TempDir(), "logs")
	now := time.Now()

	if err := Bootstrap(root, now); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}

	a := analyzer.New(analyzer.Config{
		KnownLogNames: []string{"syslog", "auth"},
		Now:           func() time.Time { return now },
	})

	web, err := a.AnalyzeDevice(context.Background(), filepath.Join(root, "web-server-01"))
	if err != nil {
		t.Fatalf("AnalyzeDevice() error = %v", err)
	}

	if len(web.LogFiles) != 3 {
		t.Errorf("Expected 3 sample log files, got %d", len(web.LogFiles))
	}
	if web.Status != types.StatusOnline {
		t.Errorf("Expected freshly written samples to be online, got %s", web.Status)
	}
	if web.Stats.SSHConnections != 2 || web.Stats.FailedLogins != 2 {
		t.Errorf("Unexpected ssh stats %+v", web.Stats)
	}
	if len(web.ActiveSessions) != 1 || web.ActiveSessions[0].Username != "alice" {
		t.Errorf("Expected alice as the only active session, got %+v", web.ActiveSessions)
	}
	if web.Stats.Errors == 0 || web.Stats.Warnings == 0 {
		t.Errorf("Expected sample errors and warnings, got %+v", web.Stats)
	}

	// a second bootstrap over existing content is harmless
	if err := Bootstrap(root, now); err != nil {
		t.Errorf("Bootstrap() over existing root error = %v", err)
	}
}
