// Package fridge watches the head-local fridge directory — the source
// tree of file templates and secrets recipes copy out to souss (spec.md's
// "Fridge" glossary entry) — for changes made outside of any cook run, so
// a long-lived head process (spec.md §9's "--watch mode") can invalidate
// the dependency-cache entries of recipes that registered a
// RegisterFridgeFile dependency on a file that just changed underneath it.
package fridge

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sconehq/scone/internal/graph"
)

// Invalidator is the subset of Kitchen a Watcher needs: a way to mark a
// fridge resource as changed at a given time, matching the cache-skip
// comparison internal/kitchen already performs for Watch/Provide traffic
// within one run.
type Invalidator interface {
	MarkResourceChanged(resource graph.Resource, t int64)
}

// Watcher tails filesystem events under a fridge root directory and
// reports each changed file as a "fridge"-kind graph.Resource, matching
// the id shape RegisterFridgeFile registers against.
type Watcher struct {
	root string
	fsw  *fsnotify.Watcher
	log  *slog.Logger
}

// New creates a Watcher rooted at root, adding every directory beneath it
// (fsnotify watches are not recursive) to the underlying inotify/kqueue
// watch set.
func New(root string, log *slog.Logger) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fridge: new watcher: %w", err)
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if werr := fsw.Add(path); werr != nil {
				return fmt.Errorf("watch %s: %w", path, werr)
			}
		}
		return nil
	})
	if err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("fridge: walk %s: %w", root, err)
	}

	return &Watcher{root: root, fsw: fsw, log: log}, nil
}

// Close stops watching and releases the underlying OS resources.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// Run drains filesystem events until done is closed or the watcher is closed,
// calling invalidator.MarkResourceChanged for every changed fridge file.
// A newly-created directory is added to the watch set on the fly, so
// recipes that materialise whole directory trees into the fridge are
// picked up without a restart.
func (w *Watcher) Run(done <-chan struct{}, invalidator Invalidator) error {
	for {
		select {
		case <-done:
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event, invalidator)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("fridge watch error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event, invalidator Invalidator) {
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if werr := w.fsw.Add(event.Name); werr != nil {
				w.log.Warn("fridge: watch new directory", "path", event.Name, "error", werr)
			}
			return
		}
	}

	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		rel = event.Name
	}

	resource := graph.NewResource("fridge", rel, "", nil)
	w.log.Debug("fridge change", "path", rel, "op", event.Op.String())
	invalidator.MarkResourceChanged(resource, time.Now().UnixMilli())
}
