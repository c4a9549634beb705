// Package watch turns fsnotify events under the markdown root into change
// events for the link graph.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/mdlinks/internal/coordinator"
	"github.com/starford/mdlinks/internal/pathnorm"
)

// reconcileDelay debounces reconciliation after directory renames.
const reconcileDelay = 200 * time.Millisecond

// Sink receives change events and can rescan the root on demand.
type Sink interface {
	HandleEvent(ev coordinator.Event) error
	Reconcile(ctx context.Context) error
}

// Files reads files under the root and decides which paths are ignored.
type Files interface {
	Read(path string) ([]byte, error)
	Skip(rel string) bool
}

// Watcher forwards fsnotify events under a markdown root to a Sink.
type Watcher struct {
	w      *fsnotify.Watcher
	files  Files
	root   string
	logger *slog.Logger
}

// New registers root and every non-skipped directory below it with
// fsnotify. Changes made after New returns are reported by Run, so New can
// be called before the initial scan of the root.
func New(files Files, root string, logger *slog.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := addDirsRecursive(w, files, root, root); err != nil {
		_ = w.Close()
		return nil, err
	}
	return &Watcher{w: w, files: files, root: root, logger: logger}, nil
}

// Watch registers root and forwards markdown changes to sink until ctx is
// cancelled.
func Watch(ctx context.Context, sink Sink, files Files, root string, logger *slog.Logger) error {
	w, err := New(files, root, logger)
	if err != nil {
		return err
	}
	return w.Run(ctx, sink)
}

// Run forwards events to sink until ctx is cancelled, then releases the
// fsnotify watcher.
//
// Creates and writes become change events carrying the new content; removes
// and renames become deletions. New directories are added to the watch list
// and their markdown files reported. A rename of anything that is not a
// markdown file (typically a directory) triggers a debounced reconciliation
// since fsnotify does not report the files that moved with it.
func (wt *Watcher) Run(ctx context.Context, sink Sink) error {
	w, files, root, logger := wt.w, wt.files, wt.root, wt.logger
	defer w.Close()

	logger.Info("watcher: started", slog.String("root", root))

	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(reconcileDelay)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(reconcileDelay)
		}
	}

	emit := func(ev coordinator.Event) {
		if err := sink.HandleEvent(ev); err != nil {
			logger.Warn("watcher: event rejected",
				slog.String("path", ev.Path), slog.String("error", err.Error()))
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			if err := sink.Reconcile(ctx); err != nil {
				logger.Warn("watcher: reconcile failed", slog.String("error", err.Error()))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			rel, relErr := filepath.Rel(root, ev.Name)
			if relErr != nil {
				continue
			}
			rel = filepath.ToSlash(rel)
			if files.Skip(rel) {
				continue
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, files, root, ev.Name); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", rel),
							slog.String("error", addErr.Error()))
					} else {
						logger.Debug("watcher: watching new dir", slog.String("path", rel))
					}
					emitNewDir(files, root, ev.Name, emit)
					continue
				}
			}

			if !pathnorm.IsMarkdown(rel) {
				if ev.Op&(fsnotify.Rename|fsnotify.Remove) != 0 {
					scheduleReconcile()
				}
				continue
			}

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				data, readErr := files.Read(rel)
				if readErr != nil {
					// Removed again before we got to it; the Remove event follows.
					logger.Debug("watcher: read failed", slog.String("path", rel), slog.String("error", readErr.Error()))
					continue
				}
				emit(coordinator.Changed(rel, data))

			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				// fsnotify fires Rename on the OLD path only; the new path
				// arrives as a separate Create.
				emit(coordinator.Deleted(rel))
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// emitNewDir reports every markdown file already present in a newly
// created directory.
func emitNewDir(files Files, root, dir string, emit func(coordinator.Event)) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if files.Skip(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !pathnorm.IsMarkdown(rel) {
			return nil
		}
		if data, readErr := files.Read(rel); readErr == nil {
			emit(coordinator.Changed(rel, data))
		}
		return nil
	})
}

// addDirsRecursive adds dir and all its non-skipped subdirectories to the
// watcher. Skipping is decided on paths relative to root.
func addDirsRecursive(w *fsnotify.Watcher, files Files, root, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root {
			if rel, relErr := filepath.Rel(root, path); relErr == nil && files.Skip(filepath.ToSlash(rel)) {
				return filepath.SkipDir
			}
		}
		return w.Add(path)
	})
}
