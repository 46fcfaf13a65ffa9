// Package reconciler implements the one-shot directory walk that seeds or
// repairs a replica against a peer's manifest during a peering session
// (spec §4.4). It is a caller of internal/fileset, not part of the core
// state machine: the core never walks a filesystem on its own.
package reconciler

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dyule/crdt-fileset/internal/fileset"
	"github.com/dyule/crdt-fileset/internal/updater"
)

// Reconciler walks a replica's base directory against a peer-supplied
// manifest, treating the peer as authoritative for file presence while
// still surfacing local content as operations.
type Reconciler struct {
	replica *fileset.Replica
	logger  *slog.Logger
}

// New builds a Reconciler over replica. logger may be nil, in which case
// slog.Default() is used.
func New(replica *fileset.Replica, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Reconciler{replica: replica, logger: logger}
}

// Reconcile runs one reconciliation pass against remoteFiles, the manifest
// a peer reported for its own replica, and timestampLookup, the
// session-wide map from the updater's internal logical clocks to (site,
// timestamp) pairs that the peer shipped alongside it. It returns every
// operation the local replica contributed so the caller can broadcast
// them.
func (rc *Reconciler) Reconcile(remoteFiles map[fileset.FileID]fileset.FileHistory, timestampLookup updater.TimestampLookup) ([]fileset.Operation, error) {
	u := rc.replica.Updater()
	baseDir := u.GetBasePath()
	storageDir := rc.replica.StoragePath()

	var ops []fileset.Operation

	trackedBefore := rc.replica.Files()

	err := filepath.WalkDir(baseDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if d.IsDir() {
			if samePath(path, storageDir) {
				return filepath.SkipDir
			}

			return nil
		}

		rel, err := filepath.Rel(baseDir, path)
		if err != nil {
			return fmt.Errorf("reconciler: relative path for %s: %w", path, err)
		}

		components := splitPath(rel)

		if id, tracked := rc.replica.Lookup().Get(components); tracked {
			if _, inRemote := remoteFiles[id]; inRemote {
				op, err := rc.surfaceLocalEdits(rel, id)
				if err != nil {
					return err
				}

				if op != nil {
					ops = append(ops, *op)
				}

				if err := u.UpdateFile(rel, timestampLookup, remoteFiles[id].Operations); err != nil {
					return fmt.Errorf("reconciler: merge remote history for %s: %w", rel, err)
				}
			}

			return nil
		}

		op, err := rc.replica.ProcessCreate(components)
		if err != nil {
			return fmt.Errorf("reconciler: process_create for %s: %w", rel, err)
		}
		ops = append(ops, op)

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("reconciler: stat %s: %w", path, err)
		}

		if info.Size() > 0 {
			updateOp, err := rc.surfaceLocalEdits(rel, op.ID)
			if err != nil {
				return err
			}

			if updateOp != nil {
				ops = append(ops, *updateOp)
			}
		}

		return nil
	})
	if err != nil {
		return ops, err
	}

	if err := rc.pruneMissingFromRemote(trackedBefore, remoteFiles, baseDir); err != nil {
		return ops, err
	}

	if err := rc.adoptMissingLocally(remoteFiles, timestampLookup, baseDir); err != nil {
		return ops, err
	}

	if err := rc.replica.Save(); err != nil {
		return ops, err
	}

	return ops, nil
}

func (rc *Reconciler) surfaceLocalEdits(relPath string, id fileset.FileID) (*fileset.Operation, error) {
	u := rc.replica.Updater()

	transaction, lookup, err := u.GetLocalChanges(relPath)
	if err != nil {
		return nil, fmt.Errorf("reconciler: get_local_changes for %s: %w", relPath, err)
	}

	if transaction == nil {
		return nil, nil
	}

	path, ok := rc.replica.PrintedPath(id)
	if !ok {
		return nil, fmt.Errorf("reconciler: %s has no metadata after create", relPath)
	}

	op, err := rc.replica.ProcessUpdate(path, transaction, lookup)
	if err != nil {
		return nil, fmt.Errorf("reconciler: process_update for %s: %w", relPath, err)
	}

	return &op, nil
}

// pruneMissingFromRemote deletes everything the local replica tracked
// before this pass (tracked) that the peer no longer has: the peer's
// presence is authoritative during initial sync. Files created by this
// pass's walk are kept.
func (rc *Reconciler) pruneMissingFromRemote(tracked map[fileset.FileID][]string, remoteFiles map[fileset.FileID]fileset.FileHistory, baseDir string) error {
	for id := range tracked {
		if _, ok := remoteFiles[id]; ok {
			continue
		}

		path, ok := rc.replica.UntrackFile(id)
		if !ok {
			continue
		}

		full := filepath.Join(append([]string{baseDir}, path...)...)
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("reconciler: prune %s: %w", full, err)
		}

		rc.logger.Info("pruned file absent from peer manifest", "id", id.String(), "path", full)
	}

	return nil
}

// adoptMissingLocally creates and replays every file the peer has that
// this replica doesn't yet track.
func (rc *Reconciler) adoptMissingLocally(remoteFiles map[fileset.FileID]fileset.FileHistory, timestampLookup updater.TimestampLookup, baseDir string) error {
	tracked := rc.replica.Files()
	u := rc.replica.Updater()

	for id, history := range remoteFiles {
		if _, ok := tracked[id]; ok {
			continue
		}

		rc.replica.TrackFile(id, history.FilenameTimestamp, history.FilenameComponents, history.Attributes, id.Site)

		path, ok := rc.replica.PrintedPath(id)
		if !ok {
			return fmt.Errorf("reconciler: %s has no metadata after adoption", id.String())
		}

		relPath := filepath.Join(path...)
		if err := u.CreateFile(relPath); err != nil {
			return fmt.Errorf("reconciler: create_file for %s: %w", relPath, err)
		}

		if err := u.UpdateFile(relPath, timestampLookup, history.Operations); err != nil {
			return fmt.Errorf("reconciler: replay history for %s: %w", relPath, err)
		}

		rc.logger.Info("adopted file from peer manifest", "id", id.String(), "path", relPath)
	}

	return nil
}

func splitPath(rel string) []string {
	rel = filepath.ToSlash(rel)

	return strings.Split(rel, "/")
}

func samePath(a, b string) bool {
	if b == "" {
		return false
	}

	ca, err1 := filepath.Abs(a)
	cb, err2 := filepath.Abs(b)

	return err1 == nil && err2 == nil && ca == cb
}
