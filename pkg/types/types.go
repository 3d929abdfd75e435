package types

import "time"

// DeviceStatus is the staleness-derived state of a device
type DeviceStatus string

const (
	StatusOnline  DeviceStatus = "online"
	StatusWarning DeviceStatus = "warning"
	StatusOffline DeviceStatus = "offline"
)

// Level is the severity assigned to a log line
type Level string

const (
	LevelError   Level = "error"
	LevelWarning Level = "warning"
	LevelInfo    Level = "info"
)

// SessionStatus is the correlated state of an SSH session
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionClosed SessionStatus = "closed"
)

// Device is the derived snapshot for one log-root subdirectory
type Device struct {
	ID             string              `json:"id"`
	Name           string              `json:"name"`
	IP             string              `json:"ip"`
	Status         DeviceStatus        `json:"status"`
	LastSeen       *time.Time          `json:"lastSeen"`
	LogFiles       []LogFileDescriptor `json:"logFiles"`
	Stats          DeviceStats         `json:"stats"`
	ActiveSessions []Session           `json:"activeSessions"`
	AnalyzedAt     time.Time           `json:"analyzedAt"`
}

// DeviceStats aggregates counters across all log files of a device
type DeviceStats struct {
	TotalLines     int `json:"totalLines"`
	Errors         int `json:"errors"`
	Warnings       int `json:"warnings"`
	SSHConnections int `json:"sshConnections"`
	FailedLogins   int `json:"failedLogins"`
}

// LogFileDescriptor is filesystem metadata captured at analysis time
type LogFileDescriptor struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modified"`
}

// Session is an SSH login reconstructed from log lines
type Session struct {
	ID        string        `json:"id"`
	DeviceID  string        `json:"deviceId"`
	Username  string        `json:"username"`
	SourceIP  string        `json:"sourceIp"`
	StartTime time.Time     `json:"startTime"`
	Status    SessionStatus `json:"status"`
	EndTime   *time.Time    `json:"endTime,omitempty"`
}

// LogEntry is a classified log line produced on demand
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	File      string    `json:"file"`
	DeviceID  string    `json:"deviceId"`
}

// ScanResult describes one completed full scan
type ScanResult struct {
	ID        string        `json:"id"`
	Trigger   string        `json:"trigger"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Devices   int           `json:"devices"`
	Failed    []string      `json:"failed,omitempty"`
	Err       string        `json:"error,omitempty"`
}

// ScanStatus reports the scanner state to callers
type ScanStatus struct {
	Scanning    bool        `json:"scanning"`
	DeviceCount int         `json:"deviceCount"`
	LastScan    *ScanResult `json:"lastScan,omitempty"`
}

// Clone returns a deep copy so callers never share slices with the registry.
func (d *Device) Clone() Device {
	c := *d
	if d.LastSeen != nil {
		ls := *d.LastSeen
		c.LastSeen = &ls
	}
	c.LogFiles = make([]LogFileDescriptor, len(d.LogFiles))
	copy(c.LogFiles, d.LogFiles)
	c.ActiveSessions = make([]Session, len(d.ActiveSessions))
	for i, s := range d.ActiveSessions {
		c.ActiveSessions[i] = s.Clone()
	}
	return c
}

// Clone returns a copy of the session with its own EndTime.
func (s Session) Clone() Session {
	if s.EndTime != nil {
		end := *s.EndTime
		s.EndTime = &end
	}
	return s
}
