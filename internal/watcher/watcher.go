// Package watcher observes the index directory and drops cached ANN
// searchers whose artifact changed outside the serving process, for
// example when another process rebuilt an index. It is best-effort: a
// missed event only means a searcher stays stale until the next in-process
// rebuild or restart.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"lodestone/internal/store"
)

// DefaultDebounceWindow coalesces the event burst of an atomic artifact
// replacement into a single invalidation.
const DefaultDebounceWindow = 200 * time.Millisecond

// Invalidator drops a cached searcher. The search service satisfies it.
type Invalidator interface {
	Invalidate(index string)
}

// ArtifactWatcher watches <root>/<index>/index.leann across all index
// directories. fsnotify does not recurse, so the root and every index
// directory get their own watch; new index directories are picked up from
// their create events on the root.
type ArtifactWatcher struct {
	root        string
	invalidator Invalidator
	logger      *slog.Logger
	window      time.Duration

	fs       *fsnotify.Watcher
	debounce *debouncer

	mu      sync.Mutex
	stopped bool
	done    chan struct{}
}

// New creates a watcher over the index root directory.
func New(root string, invalidator Invalidator, logger *slog.Logger) (*ArtifactWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &ArtifactWatcher{
		root:        root,
		invalidator: invalidator,
		logger:      logger.With("component", "watcher"),
		window:      DefaultDebounceWindow,
		fs:          fs,
		debounce:    newDebouncer(DefaultDebounceWindow),
		done:        make(chan struct{}),
	}, nil
}

// Start registers watches and runs the event loops until the context is
// cancelled or Stop is called.
func (w *ArtifactWatcher) Start(ctx context.Context) error {
	if err := w.fs.Add(w.root); err != nil {
		return err
	}
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			w.watchIndexDir(filepath.Join(w.root, entry.Name()))
		}
	}

	go w.eventLoop(ctx)
	go w.invalidateLoop(ctx)
	w.logger.Info("watching index directory", "root", w.root)
	return nil
}

// watchIndexDir is best-effort; a race with index deletion is harmless.
func (w *ArtifactWatcher) watchIndexDir(dir string) {
	if err := w.fs.Add(dir); err != nil {
		w.logger.Debug("failed to watch index directory", "dir", dir, "error", err)
	}
}

func (w *ArtifactWatcher) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *ArtifactWatcher) handle(event fsnotify.Event) {
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		return
	}

	// A new directory directly under the root is a new index.
	if filepath.Dir(rel) == "." {
		if event.Op.Has(fsnotify.Create) {
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				w.watchIndexDir(event.Name)
			}
		}
		return
	}

	// Only artifact replacement matters; chunk and document writes are
	// already consistent without invalidation.
	if filepath.Base(rel) != store.ANNArtifactName {
		return
	}
	index := filepath.Dir(rel)
	if filepath.Dir(index) != "." {
		return
	}
	w.debounce.add(index)
}

func (w *ArtifactWatcher) invalidateLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case batch, ok := <-w.debounce.output:
			if !ok {
				return
			}
			for _, index := range batch {
				w.logger.Info("artifact changed on disk, invalidating searcher", "index", index)
				w.invalidator.Invalidate(index)
			}
		}
	}
}

// Stop halts watching. Safe to call multiple times.
func (w *ArtifactWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	close(w.done)
	w.debounce.stop()
	if err := w.fs.Close(); err != nil {
		w.logger.Warn("failed to close fs watcher", "error", err)
	}
}
