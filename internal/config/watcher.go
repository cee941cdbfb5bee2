package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"prwatch/pkg/logging"
)

// Watcher watches the configuration file and reports reloaded configurations.
//
// It uses fsnotify on the file's directory (editors typically replace the file
// rather than write it in place, which would drop a watch on the file itself)
// and debounces bursts of write events. A reload that fails to parse or
// validate is logged and discarded; the last good configuration stays active.
type Watcher struct {
	mu sync.Mutex

	path             string
	debounceInterval time.Duration

	watcher *fsnotify.Watcher
	timer   *time.Timer
	running bool
}

// NewWatcher creates a watcher for the configuration file at path.
func NewWatcher(path string, debounceInterval time.Duration) *Watcher {
	if debounceInterval == 0 {
		debounceInterval = 500 * time.Millisecond
	}
	return &Watcher{
		path:             path,
		debounceInterval: debounceInterval,
	}
}

// Start begins watching. Successfully reloaded configurations are sent on
// reloads until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context, reloads chan<- Config) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		w.mu.Unlock()
		return err
	}

	w.watcher = watcher
	w.running = true
	w.mu.Unlock()

	go w.processEvents(ctx, reloads)

	logging.Info("Config", "Watching %s for configuration changes", w.path)
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}
	w.running = false
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	return w.watcher.Close()
}

func (w *Watcher) processEvents(ctx context.Context, reloads chan<- Config) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload(ctx, reloads)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn("Config", "Filesystem watch error: %v", err)
		}
	}
}

// scheduleReload (re)arms the debounce timer for a pending reload.
func (w *Watcher) scheduleReload(ctx context.Context, reloads chan<- Config) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounceInterval, func() {
		cfg, err := Load(w.path)
		if err != nil {
			logging.Error("Config", err, "Ignoring invalid configuration reload from %s", w.path)
			return
		}
		select {
		case reloads <- cfg:
			logging.Info("Config", "Configuration reloaded from %s", w.path)
		case <-ctx.Done():
		}
	})
}
