// Package watch monitors a notebook workspace and reports trust changes as
// files are written, removed or renamed.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/nbtrust/internal/nbformat"
	"github.com/starford/nbtrust/internal/storage"
)

// Event kinds passed to an EventCallback.
const (
	KindTrusted   = "trusted"
	KindUntrusted = "untrusted"
	KindRemoved   = "removed"
)

// Checker decides whether a notebook is trusted. Implementations must fail
// safe: errors are reported as untrusted.
type Checker interface {
	IsTrusted(ctx context.Context, nb *nbformat.Notebook) bool
}

// EventCallback is called after each notebook change with one of the Kind
// constants and the path relative to the workspace root.
type EventCallback func(kind string, path string)

const settleDelay = 150 * time.Millisecond

// Watch starts an fsnotify watcher on the workspace root and checks notebooks
// as they change until ctx is cancelled. Editors write a file in several
// steps, so checks for a path are deferred until it has been quiet for a
// short settle delay.
//
// New directories created at runtime are automatically added to the watch
// list. Hidden directories (checkpoints) are ignored.
func Watch(ctx context.Context, store storage.Provider, checker Checker, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	root := store.Root()
	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", root))

	pending := make(map[string]struct{})
	settle := time.NewTimer(settleDelay)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("watcher: stopped")
			return nil

		case <-settle.C:
			for rel := range pending {
				checkPath(ctx, store, checker, rel, logger, cb)
			}
			clear(pending)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if strings.HasPrefix(info.Name(), ".") {
						continue
					}
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
						continue
					}
					for _, rel := range notebooksUnder(root, ev.Name) {
						pending[rel] = struct{}{}
					}
					settle.Reset(settleDelay)
					continue
				}
			}

			if !strings.HasSuffix(ev.Name, storage.NotebookExt) {
				continue
			}
			rel, relErr := filepath.Rel(root, ev.Name)
			if relErr != nil {
				continue
			}

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				pending[rel] = struct{}{}
				settle.Reset(settleDelay)

			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				// Rename fires on the old path; the new path arrives as Create.
				delete(pending, rel)
				logger.Debug("watcher: removed", slog.String("path", rel))
				if cb != nil {
					cb(KindRemoved, rel)
				}
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func checkPath(ctx context.Context, store storage.Provider, checker Checker, rel string, logger *slog.Logger, cb EventCallback) {
	data, err := store.Read(rel)
	if err != nil {
		// Gone again before it settled; the Remove event has been reported.
		logger.Debug("watcher: read failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	kind := KindUntrusted
	nb, err := nbformat.ReadBytes(data)
	if err != nil {
		logger.Warn("watcher: invalid notebook", slog.String("path", rel), slog.String("error", err.Error()))
	} else if checker.IsTrusted(ctx, nb) {
		kind = KindTrusted
	}
	logger.Debug("watcher: checked", slog.String("path", rel), slog.String("trust", kind))
	if cb != nil {
		cb(kind, rel)
	}
}

// notebooksUnder lists notebooks already present in a newly created directory.
func notebooksUnder(root, dir string) []string {
	var out []string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, storage.NotebookExt) {
			return nil
		}
		if rel, relErr := filepath.Rel(root, path); relErr == nil {
			out = append(out, rel)
		}
		return nil
	})
	return out
}

// addDirsRecursive adds root and all its non-hidden subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
