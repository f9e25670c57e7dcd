// Package watch triggers configuration reloads when the config file changes.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/rennerdo30/proxyreg/internal/logging"
)

// DefaultDebounce is used when a zero interval is given.
const DefaultDebounce = 200 * time.Millisecond

// ErrRunning is returned when Watch is called on a watcher that is already running.
var ErrRunning = errors.New("watcher already running")

// FileWatcher watches a single file. The parent directory is watched so
// that editors replacing the file through a rename are still noticed.
type FileWatcher struct {
	path     string
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
}

// New creates a watcher for path.
func New(path string, interval time.Duration, logger *slog.Logger) *FileWatcher {
	if interval <= 0 {
		interval = DefaultDebounce
	}
	if logger == nil {
		logger = logging.WithComponent("watch")
	}
	return &FileWatcher{
		path:     filepath.Clean(path),
		interval: interval,
		logger:   logger,
	}
}

// Path returns the watched file.
func (fw *FileWatcher) Path() string {
	return fw.path
}

// Watch blocks until ctx is cancelled, calling onReload once per burst
// of changes to the file.
func (fw *FileWatcher) Watch(ctx context.Context, onReload func() error) error {
	fw.mu.Lock()
	if fw.running {
		fw.mu.Unlock()
		return ErrRunning
	}
	fw.running = true
	fw.mu.Unlock()

	defer func() {
		fw.mu.Lock()
		fw.running = false
		fw.mu.Unlock()
	}()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer w.Close()

	debounce := NewDebouncer(fw.interval)
	defer debounce.Stop()

	dir := filepath.Dir(fw.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	fw.logger.Info("config watcher started", "path", fw.path)

	for {
		select {
		case <-ctx.Done():
			fw.logger.Info("config watcher stopped")
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return errors.New("watcher events channel closed")
			}
			if !fw.relevant(event) {
				continue
			}

			fw.logger.Debug("config file event", "op", event.Op.String())

			debounce.Trigger(func() {
				fw.logger.Info("config file changed, reloading", "path", fw.path)
				if err := onReload(); err != nil {
					fw.logger.Error("config reload failed", "error", err)
				}
			})

		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("watcher errors channel closed")
			}
			fw.logger.Error("config watcher error", "error", err)
		}
	}
}

func (fw *FileWatcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != fw.path {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}

// Debouncer collapses rapid triggers into one callback after a quiet period.
type Debouncer struct {
	interval time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	callback func()
	stopped  bool
}

// NewDebouncer creates a debouncer with the given quiet period.
func NewDebouncer(interval time.Duration) *Debouncer {
	return &Debouncer{interval: interval}
}

// Trigger schedules callback, replacing any pending one.
func (d *Debouncer) Trigger(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.callback = callback
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, d.fire)
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	cb := d.callback
	d.callback = nil
	stopped := d.stopped
	d.mu.Unlock()

	if cb != nil && !stopped {
		cb()
	}
}

// Stop cancels any pending callback. Later triggers are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.callback = nil
}
