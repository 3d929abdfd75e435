// Package session reconstructs SSH session lifecycles from a device's log lines.
package session

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/logscope/internal/classify"
	"github.com/therealutkarshpriyadarshi/logscope/pkg/types"
)

// ActiveWindow bounds how old an unclosed session may be and still count as active.
const ActiveWindow = time.Hour

// daemonMarker must appear in a line before any session parsing happens
const daemonMarker = "sshd"

var (
	sessionIDPattern = regexp.MustCompile(`sshd\[(\d+)\]`)
	loginPattern     = regexp.MustCompile(`for (\S+) from (\d{1,3}(?:\.\d{1,3}){3})`)
)

// Event is the lifecycle meaning of an sshd line
type Event int

const (
	EventNone Event = iota
	EventOpen
	EventClose
)

// Marker maps lowercase substrings to an Event
type Marker struct {
	Event  Event
	Tokens []string
}

// Markers is evaluated in order; the first match decides the event.
var Markers = []Marker{
	{Event: EventOpen, Tokens: []string{"accepted publickey", "accepted password"}},
	{Event: EventClose, Tokens: []string{"session closed", "connection closed", "disconnected from", "received disconnect"}},
}

// FailureTokens mark a failed login. They are checked on every sshd line
// regardless of the lifecycle event, so "Disconnected from invalid user"
// both closes and counts.
var FailureTokens = []string{"failed password", "invalid user", "authentication failure"}

// Classify returns the lifecycle event for a line.
func Classify(line string) Event {
	lower := strings.ToLower(line)
	for _, m := range Markers {
		for _, token := range m.Tokens {
			if strings.Contains(lower, token) {
				return m.Event
			}
		}
	}
	return EventNone
}

// IsFailure reports whether a line records a failed authentication attempt.
func IsFailure(line string) bool {
	lower := strings.ToLower(line)
	for _, token := range FailureTokens {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

// Correlator tracks sessions for a single device during one analysis pass.
// It is not safe for concurrent use.
type Correlator struct {
	deviceID       string
	now            time.Time
	sessions       map[string]*types.Session
	sshConnections int
	failedLogins   int
}

// NewCorrelator creates a correlator whose timestamps default to now.
func NewCorrelator(deviceID string, now time.Time) *Correlator {
	return &Correlator{
		deviceID: deviceID,
		now:      now,
		sessions: make(map[string]*types.Session),
	}
}

// Process feeds one line. Lines must arrive in file order, then line order.
func (c *Correlator) Process(line string) {
	if !strings.Contains(line, daemonMarker) {
		return
	}

	m := sessionIDPattern.FindStringSubmatch(line)
	if m == nil {
		return
	}
	id := m[1]

	if IsFailure(line) {
		c.failedLogins++
	}

	switch Classify(line) {
	case EventOpen:
		login := loginPattern.FindStringSubmatch(line)
		if login == nil {
			return
		}
		c.sessions[id] = &types.Session{
			ID:        id,
			DeviceID:  c.deviceID,
			Username:  login[1],
			SourceIP:  login[2],
			StartTime: classify.Timestamp(line, c.now),
			Status:    types.SessionActive,
		}
		c.sshConnections++

	case EventClose:
		if s, ok := c.sessions[id]; ok {
			end := classify.Timestamp(line, c.now)
			s.Status = types.SessionClosed
			s.EndTime = &end
		}
	}
}

// SSHConnections returns the number of successful logins seen.
func (c *Correlator) SSHConnections() int {
	return c.sshConnections
}

// FailedLogins returns the number of failed authentication lines seen.
func (c *Correlator) FailedLogins() int {
	return c.failedLogins
}

// Active returns open sessions that started within ActiveWindow of now,
// newest first. A session that was never closed silently ages out.
func (c *Correlator) Active() []types.Session {
	active := make([]types.Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		if s.Status != types.SessionActive {
			continue
		}
		if c.now.Sub(s.StartTime) >= ActiveWindow {
			continue
		}
		active = append(active, *s)
	}

	sort.Slice(active, func(i, j int) bool {
		if active[i].StartTime.Equal(active[j].StartTime) {
			return active[i].ID < active[j].ID
		}
		return active[i].StartTime.After(active[j].StartTime)
	})

	return active
}
