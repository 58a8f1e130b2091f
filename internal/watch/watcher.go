// Package watch rewrites documents as they change on disk.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/linkfix/internal/rewriter"
	"github.com/starford/linkfix/internal/storage"
)

// debounce groups the bursts of events editors produce for one save.
const debounce = 150 * time.Millisecond

// DocumentRewriter rewrites one document.
type DocumentRewriter interface {
	RewriteDocument(ctx context.Context, path string, dryRun bool) (rewriter.Result, error)
}

// Watch starts an fsnotify watcher on the tree root and rewrites every
// created or modified document until ctx is cancelled.
//
// New directories created at runtime are added to the watch list and
// their documents rewritten. The rewriter's own atomic replace shows up as
// a create event; the second pass finds nothing to change, so it does not
// loop.
func Watch(ctx context.Context, svc DocumentRewriter, store *storage.FS, dryRun bool, logger *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	root := store.Root()
	if err := addDirsRecursive(w, root, logger); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", root), slog.Bool("dry_run", dryRun))

	pending := make(map[string]struct{})
	var flushTimer *time.Timer
	var flushCh <-chan time.Time

	schedule := func(rel string) {
		pending[rel] = struct{}{}
		if flushTimer == nil {
			flushTimer = time.NewTimer(debounce)
			flushCh = flushTimer.C
		} else {
			flushTimer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if flushTimer != nil {
				flushTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-flushCh:
			for rel := range pending {
				delete(pending, rel)
				if _, rwErr := svc.RewriteDocument(ctx, rel, dryRun); rwErr != nil && ctx.Err() == nil {
					logger.Warn("watcher: rewrite failed", slog.String("path", rel), slog.String("error", rwErr.Error()))
				}
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			info, statErr := os.Lstat(ev.Name)
			if statErr != nil {
				// Already gone, e.g. a temp file renamed away.
				continue
			}

			if info.IsDir() && ev.Op&fsnotify.Create != 0 {
				if addErr := addDirsRecursive(w, ev.Name, logger); addErr != nil {
					logger.Warn("watcher: add new dir failed",
						slog.String("path", ev.Name),
						slog.String("error", addErr.Error()))
				} else {
					logger.Debug("watcher: watching new dir", slog.String("path", ev.Name))
				}
				// Documents may land before the watch is in place.
				for _, rel := range documentsIn(store, ev.Name) {
					schedule(rel)
				}
				continue
			}

			if !info.Mode().IsRegular() || !store.IsDocument(ev.Name) {
				continue
			}
			rel, relErr := store.Rel(ev.Name)
			if relErr != nil {
				continue
			}
			schedule(rel)

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// documentsIn lists documents under a newly created directory.
func documentsIn(store *storage.FS, dir string) []string {
	var out []string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() || !store.IsDocument(d.Name()) {
			return nil
		}
		if rel, relErr := store.Rel(path); relErr == nil {
			out = append(out, rel)
		}
		return nil
	})
	return out
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
// Unreadable directories are logged and skipped; linked directories are
// not followed.
func addDirsRecursive(w *fsnotify.Watcher, root string, logger *slog.Logger) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			logger.Warn("watcher: skip dir", slog.String("path", path), slog.String("error", err.Error()))
			return filepath.SkipDir
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
