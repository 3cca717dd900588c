// Package watcher triggers pipeline runs when the input directory settles.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// PartialSuffix marks files still being written; events for them are ignored.
const PartialSuffix = ".partial"

// Watcher watches one directory and calls OnSettle once no relevant event
// has arrived for the settle duration.
type Watcher struct {
	dir      string
	settle   time.Duration
	onSettle func(ctx context.Context)
	logger   *slog.Logger

	mu    sync.Mutex
	timer *time.Timer
}

// New creates a Watcher for dir.
func New(dir string, settle time.Duration, onSettle func(ctx context.Context), logger *slog.Logger) *Watcher {
	return &Watcher{
		dir:      dir,
		settle:   settle,
		onSettle: onSettle,
		logger:   logger,
	}
}

// Run blocks until ctx is cancelled or the underlying watcher fails.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	w.logger.Info("Watching input directory", "dir", w.dir, "settle", w.settle)

	defer w.stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !relevant(event) {
				continue
			}
			w.logger.Debug("Input change", "file", filepath.Base(event.Name), "op", event.Op.String())
			w.schedule(ctx)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Watcher error", "error", err)
		}
	}
}

func relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return false
	}
	base := filepath.Base(event.Name)
	return !strings.HasSuffix(base, PartialSuffix) && !strings.HasPrefix(base, ".")
}

// schedule restarts the settle timer.
func (w *Watcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.settle, func() {
		if ctx.Err() != nil {
			return
		}
		w.onSettle(ctx)
	})
}

func (w *Watcher) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}
