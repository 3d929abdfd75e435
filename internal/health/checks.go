package health

import (
	"fmt"
	"os"
	"time"

	"github.com/therealutkarshpriyadarshi/logscope/pkg/types"
)

// ScanReporter exposes the scanner state a health check needs
type ScanReporter interface {
	ScanStatus() types.ScanStatus
}

// ScannerCheck is degraded until the first full scan completes and
// unhealthy while the most recent full scan failed.
func ScannerCheck(scanner ScanReporter) HealthCheck {
	return CheckWithMetadata(func() (Status, string, map[string]interface{}) {
		status := scanner.ScanStatus()
		metadata := map[string]interface{}{
			"devices":  status.DeviceCount,
			"scanning": status.Scanning,
		}

		last := status.LastScan
		if last == nil {
			return StatusDegraded, "no full scan completed yet", metadata
		}

		metadata["last_scan_id"] = last.ID
		metadata["last_scan_at"] = last.StartedAt.Format(time.RFC3339)
		metadata["last_scan_trigger"] = last.Trigger
		if len(last.Failed) > 0 {
			metadata["failed_devices"] = last.Failed
		}

		if last.Err != "" {
			return StatusUnhealthy, fmt.Sprintf("last full scan failed: %s", last.Err), metadata
		}
		return StatusHealthy, fmt.Sprintf("%d devices", status.DeviceCount), metadata
	})
}

// LogRootCheck is unhealthy when root is not a readable directory
func LogRootCheck(root string) HealthCheck {
	return CheckFunc(func() (bool, string) {
		info, err := os.Stat(root)
		if err != nil {
			return false, fmt.Sprintf("log root unavailable: %v", err)
		}
		if !info.IsDir() {
			return false, fmt.Sprintf("log root %s is not a directory", root)
		}
		return true, root
	})
}
