// Package watch rebuilds project files as they change.
package watch

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// BuildFunc builds one file.
type BuildFunc func(ctx context.Context, path string) error

// Watcher triggers a BuildFunc for every changed file under root.
//
// A file is never built twice at once: a change reported while that file is
// still building is dropped.
type Watcher struct {
	root     string
	build    BuildFunc
	excluded func(path string) bool
	logger   *slog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
	wg       sync.WaitGroup
}

// New creates a Watcher. excluded may be nil; a nil logger discards output.
func New(root string, build BuildFunc, excluded func(string) bool, logger *slog.Logger) *Watcher {
	if excluded == nil {
		excluded = func(string) bool { return false }
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Watcher{
		root:     root,
		build:    build,
		excluded: excluded,
		logger:   logger.With("component", "watch"),
		inFlight: make(map[string]struct{}),
	}
}

// Trigger starts a build of path unless it is excluded or already building.
// It reports whether a build was started.
func (w *Watcher) Trigger(ctx context.Context, path string) bool {
	if w.excluded(path) {
		return false
	}

	w.mu.Lock()
	if _, busy := w.inFlight[path]; busy {
		w.mu.Unlock()
		w.logger.Debug("already building", "path", path)
		return false
	}
	w.inFlight[path] = struct{}{}
	w.wg.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.wg.Done()
		defer func() {
			w.mu.Lock()
			delete(w.inFlight, path)
			w.mu.Unlock()
		}()

		if err := w.build(ctx, path); err != nil {
			w.logger.Error("rebuild failed", "path", path, "error", err)
			return
		}
		w.logger.Info("rebuilt", "path", path)
	}()
	return true
}

// Wait blocks until every triggered build has returned.
func (w *Watcher) Wait() { w.wg.Wait() }

// Run watches root and its non-excluded subdirectories until ctx is done.
// Builds still running when ctx ends are waited for.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()
	defer w.Wait()

	if err := w.addTree(fw, w.root); err != nil {
		return err
	}
	w.logger.Info("watching", "root", w.root)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, fw, event)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("fsnotify error", "error", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, fw *fsnotify.Watcher, event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}
	st, err := os.Stat(event.Name)
	if err != nil {
		// Gone before we looked.
		return
	}
	if st.IsDir() {
		if event.Has(fsnotify.Create) {
			if err := w.addTree(fw, event.Name); err != nil {
				w.logger.Warn("watch directory", "dir", event.Name, "error", err)
			}
			w.buildTree(ctx, event.Name)
		}
		return
	}
	if st.Mode().IsRegular() {
		w.Trigger(ctx, event.Name)
	}
}

// addTree watches dir and every non-excluded directory below it.
func (w *Watcher) addTree(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.excluded(path) {
			return filepath.SkipDir
		}
		if err := fw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

// buildTree triggers every file of a directory that appeared with content
// already in it, such as one moved into the project.
func (w *Watcher) buildTree(ctx context.Context, dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if w.excluded(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			w.Trigger(ctx, path)
		}
		return nil
	})
}
