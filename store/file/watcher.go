package filestore

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-commit-hooks/core"
)

const DefaultWatchDebounce = 250 * time.Millisecond

// Watched is a snapshot file the watcher follows.
type Watched interface {
	Path() string
	ChangedOnDisk() (bool, error)
}

type WatcherOption func(*Watcher)

func WithWatchDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

func WithWatchLogger(logger core.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = glog.Ensure(logger)
	}
}

// Watcher calls reload when a snapshot file is replaced by someone other than
// this process, e.g. a second instance sharing the data directory.
type Watcher struct {
	targets  []Watched
	reload   func(context.Context) error
	debounce time.Duration
	logger   core.Logger
}

func NewWatcher(reload func(context.Context) error, targets []Watched, opts ...WatcherOption) (*Watcher, error) {
	if reload == nil {
		return nil, fmt.Errorf("filestore: reload function is required")
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("filestore: at least one snapshot file is required")
	}
	w := &Watcher{
		targets:  targets,
		reload:   reload,
		debounce: DefaultWatchDebounce,
		logger:   glog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w, nil
}

// Run watches until ctx is cancelled. Parent directories are watched instead
// of the files so atomic renames are seen.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("filestore: start watcher: %w", err)
	}
	defer func() { _ = fsw.Close() }()

	paths := make(map[string]struct{}, len(w.targets))
	dirs := map[string]struct{}{}
	for _, target := range w.targets {
		path := filepath.Clean(target.Path())
		paths[path] = struct{}{}
		dirs[filepath.Dir(path)] = struct{}{}
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			return fmt.Errorf("filestore: watch %s: %w", dir, err)
		}
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if _, tracked := paths[filepath.Clean(event.Name)]; !tracked {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Rename) {
				timer.Reset(w.debounce)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.WithContext(ctx).Warn("snapshot watcher error", "error", err.Error())
		case <-timer.C:
			w.check(ctx)
		}
	}
}

func (w *Watcher) check(ctx context.Context) {
	logger := w.logger.WithContext(ctx)
	changed := false
	for _, target := range w.targets {
		diff, err := target.ChangedOnDisk()
		if err != nil {
			logger.Warn("snapshot check failed", "path", target.Path(), "error", err.Error())
			continue
		}
		if diff {
			logger.Info("snapshot changed on disk", "path", target.Path())
			changed = true
		}
	}
	if !changed {
		return
	}
	if err := w.reload(ctx); err != nil {
		logger.Error("snapshot reload failed", "error", err.Error())
	}
}
