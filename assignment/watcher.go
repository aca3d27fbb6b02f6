package assignment

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 250 * time.Millisecond

// PoolWatcher reloads a Pool from its YAML file whenever the file changes.
// Invalid files are logged and ignored; the previous entries stay in place.
type PoolWatcher struct {
	path      string
	pool      *Pool
	log       *slog.Logger
	fsWatcher *fsnotify.Watcher

	mu       sync.Mutex
	onReload func(entries int)
}

// NewPoolWatcher loads path into pool and prepares to watch it.
// The containing directory is watched so editors that replace the file on
// save are handled.
func NewPoolWatcher(path string, pool *Pool, log *slog.Logger) (*PoolWatcher, error) {
	if log == nil {
		log = slog.Default()
	}
	path = filepath.Clean(path)

	entries, err := LoadPoolFile(path)
	if err != nil {
		return nil, err
	}
	if err := pool.Replace(entries); err != nil {
		return nil, err
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	if err := fsWatcher.Add(filepath.Dir(path)); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(path), err)
	}

	return &PoolWatcher{path: path, pool: pool, log: log, fsWatcher: fsWatcher}, nil
}

// OnReload registers a callback run after each successful reload.
func (w *PoolWatcher) OnReload(cb func(entries int)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = cb
}

// Run watches until ctx is cancelled, then closes the underlying watcher.
func (w *PoolWatcher) Run(ctx context.Context) {
	defer w.fsWatcher.Close()

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, w.reload)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("pool watcher error", "err", err)
		}
	}
}

func (w *PoolWatcher) reload() {
	entries, err := LoadPoolFile(w.path)
	if err != nil {
		w.log.Warn("pool reload failed, keeping previous entries", "path", w.path, "err", err)
		return
	}
	if err := w.pool.Replace(entries); err != nil {
		w.log.Warn("pool reload rejected", "path", w.path, "err", err)
		return
	}
	w.log.Info("message pool reloaded", "path", w.path, "entries", len(entries))

	w.mu.Lock()
	cb := w.onReload
	w.mu.Unlock()
	if cb != nil {
		cb(len(entries))
	}
}
