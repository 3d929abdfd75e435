// Package watcher reports file changes inside device directories.
//
// The log root and each device directory directly below it are watched
// non-recursively. Only changes to entries inside a device directory are
// forwarded; devices appearing or disappearing at the root are left to the
// next full scan.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/therealutkarshpriyadarshi/logscope/internal/logging"
	"github.com/therealutkarshpriyadarshi/logscope/internal/metrics"
)

// Op is the kind of change observed
type Op string

const (
	OpWrite  Op = "write"
	OpCreate Op = "create"
	OpRemove Op = "remove"
	OpRename Op = "rename"
)

// Event is a change to a file inside a device directory
type Event struct {
	DeviceID string
	Path     string
	Op       Op
}

// Watcher watches the log root for changes
type Watcher struct {
	root    string
	logger  *logging.Logger
	metrics *metrics.Collector
	watcher *fsnotify.Watcher
	dirs    map[string]struct{}
	mu      sync.Mutex
	eventCh chan Event
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stop    sync.Once
}

// New creates a new Watcher for root
func New(root string, logger *logging.Logger, collector *metrics.Collector) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve log root: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	if logger == nil {
		logger = logging.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Watcher{
		root:    abs,
		logger:  logger.WithComponent("watcher"),
		metrics: collector,
		watcher: fw,
		dirs:    make(map[string]struct{}),
		eventCh: make(chan Event, 1024),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start watches the root and every directory currently below it
func (w *Watcher) Start() error {
	if err := w.watcher.Add(w.root); err != nil {
		return fmt.Errorf("failed to watch log root %s: %w", w.root, err)
	}

	entries, err := os.ReadDir(w.root)
	if err != nil {
		return fmt.Errorf("failed to read log root %s: %w", w.root, err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	w.Sync(ids)

	w.wg.Add(1)
	go w.watchLoop()

	w.logger.Info().Str("root", w.root).Int("devices", len(ids)).Msg("Watching log root")
	return nil
}

// Stop stops watching and closes the event channel
func (w *Watcher) Stop() {
	w.stop.Do(func() {
		w.cancel()
		w.watcher.Close()
		w.wg.Wait()
		close(w.eventCh)
	})
}

// Events returns the channel of device file changes
func (w *Watcher) Events() <-chan Event {
	return w.eventCh
}

// Sync makes the watched device directories match deviceIDs
func (w *Watcher) Sync(deviceIDs []string) {
	want := make(map[string]struct{}, len(deviceIDs))
	for _, id := range deviceIDs {
		want[filepath.Join(w.root, id)] = struct{}{}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for dir := range w.dirs {
		if _, ok := want[dir]; !ok {
			// fsnotify drops watches of deleted directories on its own
			_ = w.watcher.Remove(dir)
			delete(w.dirs, dir)
		}
	}

	for dir := range want {
		if _, ok := w.dirs[dir]; ok {
			continue
		}
		if err := w.watcher.Add(dir); err != nil {
			w.logger.Warn().Err(err).Str("dir", dir).Msg("Failed to watch device directory")
			continue
		}
		w.dirs[dir] = struct{}{}
	}
}

// Watched returns the number of device directories being watched
func (w *Watcher) Watched() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.dirs)
}

// watchLoop watches for file events
func (w *Watcher) watchLoop() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("File watcher error")

		case <-w.ctx.Done():
			return
		}
	}
}

// handleEvent handles file system events
func (w *Watcher) handleEvent(event fsnotify.Event) {
	op, ok := classifyOp(event.Op)
	if !ok {
		return
	}

	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")

	if len(parts) == 1 {
		// a new device directory: watch it so its files are seen before the next scan
		if op == OpCreate {
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				w.mu.Lock()
				if err := w.watcher.Add(event.Name); err == nil {
					w.dirs[event.Name] = struct{}{}
				}
				w.mu.Unlock()
				w.logger.Info().Str("dir", event.Name).Msg("Device directory created")
			}
		}
		return
	}

	if w.metrics != nil {
		w.metrics.WatcherEvents.WithLabelValues(string(op)).Inc()
	}

	w.logger.Debug().Str("path", event.Name).Str("op", string(op)).Msg("Device file changed")

	select {
	case w.eventCh <- Event{DeviceID: parts[0], Path: event.Name, Op: op}:
	case <-w.ctx.Done():
	}
}

func classifyOp(op fsnotify.Op) (Op, bool) {
	switch {
	case op&fsnotify.Write == fsnotify.Write:
		return OpWrite, true
	case op&fsnotify.Create == fsnotify.Create:
		return OpCreate, true
	case op&fsnotify.Remove == fsnotify.Remove:
		return OpRemove, true
	case op&fsnotify.Rename == fsnotify.Rename:
		return OpRename, true
	}
	return "", false
}
