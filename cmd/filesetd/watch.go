package main

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/dyule/crdt-fileset/internal/fileset"
	"github.com/dyule/crdt-fileset/internal/transport"
)

// watcher feeds local filesystem events into a replica's process_* entry
// points and broadcasts the resulting operations to connected peers.
type watcher struct {
	fsw     *fsnotify.Watcher
	root    string
	replica *fileset.Replica
	server  *transport.Server
	logger  *slog.Logger
}

func newWatcher(root string, replica *fileset.Replica, server *transport.Server, logger *slog.Logger) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: creating fsnotify watcher: %w", err)
	}

	w := &watcher{fsw: fsw, root: root, replica: replica, server: server, logger: logger}

	if err := w.addRecursive(root); err != nil {
		fsw.Close()

		return nil, err
	}

	return w, nil
}

func (w *watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if err := w.fsw.Add(path); err != nil {
				return fmt.Errorf("watcher: watching %s: %w", path, err)
			}
		}

		return nil
	})
}

func (w *watcher) Close() error {
	return w.fsw.Close()
}

// Run processes filesystem events until ctx is canceled.
func (w *watcher) Run(ctx context.Context) error {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}

			w.handleEvent(ctx, event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}

			w.logger.Warn("watcher error", "err", err)
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil || rel == "." {
		return
	}

	components := splitRelPath(rel)

	switch {
	case event.Has(fsnotify.Create):
		w.handleCreate(ctx, event.Name, rel, components)
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		w.handleRemove(ctx, components)
	case event.Has(fsnotify.Write):
		w.handleWrite(ctx, rel, components)
	}
}

func (w *watcher) handleCreate(ctx context.Context, fullPath, rel string, components []string) {
	info, err := os.Stat(fullPath)
	if err == nil && info.IsDir() {
		if err := w.fsw.Add(fullPath); err != nil {
			w.logger.Warn("watcher: failed to watch new directory", "path", fullPath, "err", err)
		}

		return
	}

	if w.replica.HasPath(components) {
		return
	}

	op, err := w.replica.ProcessCreate(components)
	if err != nil {
		w.logger.Warn("watcher: process_create failed", "path", rel, "err", err)

		return
	}

	w.broadcast(ctx, op)

	if info != nil && info.Size() > 0 {
		w.handleWrite(ctx, rel, components)
	}
}

func (w *watcher) handleRemove(ctx context.Context, components []string) {
	if !w.replica.HasPath(components) {
		return
	}

	op, err := w.replica.ProcessRemove(components)
	if err != nil {
		w.logger.Warn("watcher: process_remove failed", "path", filepath.Join(components...), "err", err)

		return
	}

	w.broadcast(ctx, op)
}

func (w *watcher) handleWrite(ctx context.Context, rel string, components []string) {
	if !w.replica.HasPath(components) {
		return
	}

	transaction, lookup, err := w.replica.Updater().GetLocalChanges(rel)
	if err != nil {
		w.logger.Warn("watcher: get_local_changes failed", "path", rel, "err", err)

		return
	}

	if transaction == nil {
		return
	}

	op, err := w.replica.ProcessUpdate(components, transaction, lookup)
	if err != nil {
		w.logger.Warn("watcher: process_update failed", "path", rel, "err", err)

		return
	}

	w.broadcast(ctx, op)
}

func (w *watcher) broadcast(ctx context.Context, op fileset.Operation) {
	if err := w.server.Broadcast(ctx, op); err != nil {
		w.logger.Warn("watcher: broadcast failed", "op", op.String(), "err", err)
	}
}

func splitRelPath(rel string) []string {
	return strings.Split(filepath.ToSlash(rel), "/")
}
