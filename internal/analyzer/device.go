package analyzer

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var ipPattern = regexp.MustCompile(`\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}`)

// DisplayName turns a directory name into a human name:
// "web-server_01" becomes "Web Server 01".
func DisplayName(dirName string) string {
	name := strings.NewReplacer("-", " ", "_", " ").Replace(dirName)
	// Casers carry state, so one per call
	return cases.Title(language.English, cases.NoLower).String(name)
}

// ExtractIP returns the first IPv4-shaped substring of a directory name.
func ExtractIP(dirName string) (string, bool) {
	ip := ipPattern.FindString(dirName)
	return ip, ip != ""
}

// SyntheticIP fabricates a private address for devices without one in their name.
func SyntheticIP() string {
	return fmt.Sprintf("192.168.1.%d", rand.Intn(254)+1)
}

// TailLines returns the last n non-blank lines of a file, in file order.
// The file is streamed once; only n lines are held in memory.
func TailLines(path string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ring := make([]string, n)
	count := 0

	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			line = strings.TrimRight(line, "\r\n")
			if strings.TrimSpace(line) != "" {
				ring[count%n] = line
				count++
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	}

	if count <= n {
		return ring[:count], nil
	}

	start := count % n
	lines := make([]string, 0, n)
	lines = append(lines, ring[start:]...)
	lines = append(lines, ring[:start]...)
	return lines, nil
}
