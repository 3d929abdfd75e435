// Package classify maps raw log lines to a severity and a best-effort timestamp.
// Everything here is pure and safe for concurrent use.
package classify

import (
	"regexp"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/logscope/pkg/types"
)

// Rule assigns Level to any line containing one of Tokens (case-insensitive)
type Rule struct {
	Level  types.Level
	Tokens []string
}

// Rules is evaluated in order; the first rule with a matching token wins.
// Lines matching no rule are info.
var Rules = []Rule{
	{Level: types.LevelError, Tokens: []string{"error", "err", "failed", "denied"}},
	{Level: types.LevelWarning, Tokens: []string{"warning", "warn"}},
}

// timestampPattern pairs a recognizer with the layout used to parse its match
type timestampPattern struct {
	re     *regexp.Regexp
	layout string
	// normalize rewrites the match into the layout's shape
	normalize func(string) string
	yearless  bool
}

var timestampPatterns = []timestampPattern{
	{
		re:     regexp.MustCompile(`\b[A-Z][a-z]{2}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2}\b`),
		layout: "Jan 2 15:04:05",
		normalize: func(s string) string {
			return strings.Join(strings.Fields(s), " ")
		},
		yearless: true,
	},
	{
		re:     regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}[ T]\d{2}:\d{2}:\d{2}`),
		layout: "2006-01-02 15:04:05",
		normalize: func(s string) string {
			return strings.Replace(s, "T", " ", 1)
		},
	},
}

// Severity classifies a line as error, warning or info.
func Severity(line string) types.Level {
	lower := strings.ToLower(line)
	for _, rule := range Rules {
		for _, token := range rule.Tokens {
			if strings.Contains(lower, token) {
				return rule.Level
			}
		}
	}
	return types.LevelInfo
}

// Timestamp extracts a syslog or ISO timestamp from line. When neither
// pattern matches, or the match does not parse, now is returned.
func Timestamp(line string, now time.Time) time.Time {
	for _, p := range timestampPatterns {
		match := p.re.FindString(line)
		if match == "" {
			continue
		}

		ts, err := time.ParseInLocation(p.layout, p.normalize(match), now.Location())
		if err != nil {
			return now
		}

		if p.yearless {
			ts = withYear(ts, now)
		}
		return ts
	}
	return now
}

// withYear places a yearless syslog time in now's year, stepping back one
// year when that would put it more than a day into the future.
func withYear(ts, now time.Time) time.Time {
	ts = time.Date(now.Year(), ts.Month(), ts.Day(), ts.Hour(), ts.Minute(), ts.Second(), 0, now.Location())
	if ts.Sub(now) > 24*time.Hour {
		ts = ts.AddDate(-1, 0, 0)
	}
	return ts
}

// Entry builds a LogEntry for line as read from file on device.
func Entry(line, file, deviceID string, now time.Time) types.LogEntry {
	return types.LogEntry{
		Timestamp: Timestamp(line, now),
		Level:     Severity(line),
		Message:   line,
		File:      file,
		DeviceID:  deviceID,
	}
}
