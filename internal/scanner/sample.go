package scanner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// sampleLine is one bootstrap log line written `ago` before now
type sampleLine struct {
	ago  time.Duration
	text string
}

type sampleFile struct {
	name  string
	iso   bool
	lines []sampleLine
}

type sampleDevice struct {
	id    string
	files []sampleFile
}

var sampleDevices = []sampleDevice{
	{
		id: "web-server-01",
		files: []sampleFile{
			{name: "auth.log", lines: []sampleLine{
				{50 * time.Minute, "web-server-01 sshd[2101]: Accepted publickey for deploy from 10.0.0.15 port 52144 ssh2"},
				{35 * time.Minute, "web-server-01 sshd[2140]: Failed password for invalid user admin from 203.0.113.7 port 40022 ssh2"},
				{34 * time.Minute, "web-server-01 sshd[2141]: Failed password for root from 203.0.113.7 port 40031 ssh2"},
				{20 * time.Minute, "web-server-01 sshd[2188]: Accepted password for alice from 10.0.0.23 port 50412 ssh2"},
				{10 * time.Minute, "web-server-01 sshd[2101]: pam_unix(sshd:session): session closed for user deploy"},
			}},
			{name: "syslog", lines: []sampleLine{
				{45 * time.Minute, "web-server-01 systemd[1]: Started nginx.service - A high performance web server."},
				{30 * time.Minute, "web-server-01 kernel: WARNING: CPU temperature above threshold, cpu clock throttled"},
				{5 * time.Minute, "web-server-01 nginx[812]: upstream timed out while reading response header"},
			}},
			{name: "app.log", iso: true, lines: []sampleLine{
				{40 * time.Minute, "INFO request served path=/health status=200"},
				{25 * time.Minute, "WARN slow query took 1532ms"},
				{3 * time.Minute, "ERROR connection refused by backend 10.0.0.31:8080"},
			}},
		},
	},
	{
		id: "db-server-192.168.1.20",
		files: []sampleFile{
			{name: "auth.log", lines: []sampleLine{
				{15 * time.Minute, "db-server sshd[3301]: Accepted publickey for dba from 192.168.1.5 port 60110 ssh2"},
				{12 * time.Minute, "db-server sshd[3322]: Invalid user oracle from 198.51.100.44 port 51515"},
			}},
			{name: "syslog", lines: []sampleLine{
				{55 * time.Minute, "db-server postgres[1200]: checkpoint complete: wrote 812 buffers"},
				{8 * time.Minute, "db-server postgres[1200]: WARNING: autovacuum is running behind"},
			}},
		},
	},
	{
		id: "firewall-main",
		files: []sampleFile{
			{name: "syslog", lines: []sampleLine{
				{58 * time.Minute, "firewall-main kernel: [UFW BLOCK] IN=eth0 SRC=203.0.113.7 DST=10.0.0.1 PROTO=TCP DPT=22"},
				{42 * time.Minute, "firewall-main kernel: [UFW ALLOW] IN=eth0 SRC=10.0.0.23 DST=10.0.0.1 PROTO=TCP DPT=443"},
				{6 * time.Minute, "firewall-main iptables: packet denied from 198.51.100.44"},
			}},
		},
	},
}

// Bootstrap creates root and fills it with sample devices whose log lines are
// stamped relative to now.
func Bootstrap(root string, now time.Time) error {
	for _, device := range sampleDevices {
		dir := filepath.Join(root, device.id)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create sample device %s: %w", device.id, err)
		}

		for _, file := range device.files {
			var b strings.Builder
			for _, line := range file.lines {
				ts := now.Add(-line.ago)
				if file.iso {
					fmt.Fprintf(&b, "%s %s\n", ts.Format("2006-01-02 15:04:05"), line.text)
				} else {
					fmt.Fprintf(&b, "%s %s\n", ts.Format("Jan _2 15:04:05"), line.text)
				}
			}

			path := filepath.Join(dir, file.name)
			if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
				return fmt.Errorf("failed to write sample log %s: %w", path, err)
			}
		}
	}
	return nil
}
