package manifest

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/stagehand/internal/logging"
)

// DefaultDebounce collapses the burst of events editors emit for one save.
const DefaultDebounce = 100 * time.Millisecond

// Watcher reloads a manifest when its file changes. It watches the parent
// directory so saves that replace the file by rename are seen.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *logging.Logger
	watcher  *fsnotify.Watcher
}

// NewWatcher starts watching path. Close releases the underlying watcher.
func NewWatcher(path string, debounce time.Duration, logger *logging.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = logging.NopLogger()
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve manifest path: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	return &Watcher{
		path:     abs,
		debounce: debounce,
		logger:   logger.WithPhase("watch"),
		watcher:  fw,
	}, nil
}

// Run delivers each successfully reloaded manifest to onChange until ctx is
// done or the watcher is closed. A manifest that fails to parse is logged and
// skipped; the previous one stays in effect.
func (w *Watcher) Run(ctx context.Context, onChange func(*Manifest)) error {
	debounceTimer := time.NewTimer(0)
	<-debounceTimer.C
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = true
			debounceTimer.Reset(w.debounce)

		case <-debounceTimer.C:
			if !pending {
				continue
			}
			pending = false

			m, err := Load(w.path)
			if err != nil {
				w.logger.Warn("manifest reload failed", "path", w.path, "error", err.Error())
				continue
			}
			w.logger.Info("manifest changed", "path", w.path, "steps", len(m.Steps))
			onChange(m)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err.Error())
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
