package sqliteupdater

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/dyule/crdt-fileset/internal/updater"
	"github.com/dyule/crdt-fileset/pkg/quickxorhash"
)

// Transaction is the content payload this updater produces and consumes.
// It is a whole-file snapshot plus the QuickXorHash of its bytes, rather
// than a true incremental content CRDT — see the package doc comment.
type Transaction struct {
	Hash    [quickxorhash.Size]byte
	Content []byte
}

var _ updater.Updater = (*Store)(nil)

// CreateFile materializes an empty tracked file on disk and registers it.
func (s *Store) CreateFile(path string) error {
	full := filepath.Join(s.basePath, path)

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("sqliteupdater: mkdir for %s: %w", path, err)
	}

	if err := os.WriteFile(full, nil, 0o644); err != nil {
		return fmt.Errorf("sqliteupdater: create %s: %w", path, err)
	}

	_, err := s.db.Exec(`INSERT INTO files (path, local_clock) VALUES (?, 0)
		ON CONFLICT(path) DO NOTHING`, path)
	if err != nil {
		return fmt.Errorf("sqliteupdater: register %s: %w", path, err)
	}

	return nil
}

// RemoveFile deletes a tracked file and its edit history.
func (s *Store) RemoveFile(path string) error {
	full := filepath.Join(s.basePath, path)

	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("sqliteupdater: remove %s: %w", path, err)
	}

	if _, err := s.db.Exec(`DELETE FROM files WHERE path = ?`, path); err != nil {
		return fmt.Errorf("sqliteupdater: deregister %s: %w", path, err)
	}

	return nil
}

// MoveFile renames a tracked file and repoints its edit history.
func (s *Store) MoveFile(oldPath, newPath string) error {
	oldFull := filepath.Join(s.basePath, oldPath)
	newFull := filepath.Join(s.basePath, newPath)

	if err := os.MkdirAll(filepath.Dir(newFull), 0o755); err != nil {
		return fmt.Errorf("sqliteupdater: mkdir for %s: %w", newPath, err)
	}

	if err := os.Rename(oldFull, newFull); err != nil {
		return fmt.Errorf("sqliteupdater: rename %s to %s: %w", oldPath, newPath, err)
	}

	if _, err := s.db.Exec(`UPDATE files SET path = ? WHERE path = ?`, newPath, oldPath); err != nil {
		return fmt.Errorf("sqliteupdater: repoint %s: %w", oldPath, err)
	}

	if _, err := s.db.Exec(`UPDATE edits SET path = ? WHERE path = ?`, newPath, oldPath); err != nil {
		return fmt.Errorf("sqliteupdater: repoint edit history for %s: %w", oldPath, err)
	}

	return nil
}

// UpdateFile applies a remote Transaction, overwriting the file's bytes and
// recording the edit under the stamps lookup supplies.
func (s *Store) UpdateFile(path string, lookup updater.TimestampLookup, transaction any) error {
	if transaction == nil {
		return nil
	}

	var txn Transaction
	switch t := transaction.(type) {
	case Transaction:
		txn = t
	case json.RawMessage:
		if err := json.Unmarshal(t, &txn); err != nil {
			return fmt.Errorf("sqliteupdater: update_file %s: decoding transaction: %w", path, err)
		}
	default:
		return fmt.Errorf("sqliteupdater: update_file %s: unexpected transaction type %T", path, transaction)
	}

	full := filepath.Join(s.basePath, path)
	if err := os.WriteFile(full, txn.Content, 0o644); err != nil {
		return fmt.Errorf("sqliteupdater: write %s: %w", path, err)
	}

	stamp := updater.TimestampPair{Site: s.siteID}
	if len(lookup) > 0 {
		for _, pair := range lookup {
			stamp = pair
			break
		}
	}

	return s.recordEdit(context.Background(), path, txn, stamp)
}

// GetLocalChanges diffs the on-disk file against the last recorded edit
// hash and, if it changed, returns a Transaction carrying the new content
// plus the timestamp lookup to ship alongside it.
func (s *Store) GetLocalChanges(path string) (any, updater.TimestampLookup, error) {
	full := filepath.Join(s.basePath, path)

	content, err := os.ReadFile(full)
	if err != nil {
		return nil, nil, fmt.Errorf("sqliteupdater: read %s: %w", path, err)
	}

	h := quickxorhash.New()
	if _, err := h.Write(content); err != nil {
		return nil, nil, fmt.Errorf("sqliteupdater: hash %s: %w", path, err)
	}

	var hash [quickxorhash.Size]byte
	copy(hash[:], h.Sum(nil))

	lastHash, ok, err := s.lastHash(context.Background(), path)
	if err != nil {
		return nil, nil, err
	}

	if ok && lastHash == hash {
		return nil, nil, nil
	}

	clock, err := s.nextClock(context.Background(), path)
	if err != nil {
		return nil, nil, err
	}

	timestamp := updater.TimestampPair{Site: s.siteID, Timestamp: clock}

	if err := s.recordEdit(context.Background(), path, Transaction{Hash: hash, Content: content}, timestamp); err != nil {
		return nil, nil, err
	}

	return Transaction{Hash: hash, Content: content}, updater.TimestampLookup{clock: timestamp}, nil
}

// GetChangesSince returns the latest recorded content for path, since this
// reference updater keeps whole-file snapshots rather than incremental
// diffs. A nil since still returns the latest snapshot, which is the full
// history in this scheme.
func (s *Store) GetChangesSince(path string, since *updater.TimestampPair) (any, error) {
	row := s.db.QueryRow(`SELECT hash, content, timestamp FROM edits
		WHERE path = ? ORDER BY timestamp DESC LIMIT 1`, path)

	var (
		hash      []byte
		content   []byte
		timestamp uint32
	)

	if err := row.Scan(&hash, &content, &timestamp); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("sqliteupdater: get_changes_since %s: %w", path, err)
	}

	if since != nil && timestamp <= since.Timestamp {
		return nil, nil
	}

	var txn Transaction
	copy(txn.Hash[:], hash)
	txn.Content = content

	return txn, nil
}

// GetBasePath returns the directory tracked files are relative to.
func (s *Store) GetBasePath() string {
	return s.basePath
}

func (s *Store) recordEdit(ctx context.Context, path string, txn Transaction, stamp updater.TimestampPair) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO edits (id, path, clock, site_id, timestamp, hash, content, applied_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), path, stamp.Timestamp, stamp.Site, stamp.Timestamp, txn.Hash[:], txn.Content, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("sqliteupdater: record edit for %s: %w", path, err)
	}

	return nil
}

func (s *Store) lastHash(ctx context.Context, path string) ([quickxorhash.Size]byte, bool, error) {
	var hash []byte

	err := s.db.QueryRowContext(ctx, `SELECT hash FROM edits WHERE path = ? ORDER BY timestamp DESC LIMIT 1`, path).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return [quickxorhash.Size]byte{}, false, nil
	}

	if err != nil {
		return [quickxorhash.Size]byte{}, false, fmt.Errorf("sqliteupdater: last hash for %s: %w", path, err)
	}

	var out [quickxorhash.Size]byte
	copy(out[:], hash)

	return out, true, nil
}

func (s *Store) nextClock(ctx context.Context, path string) (uint32, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqliteupdater: begin clock tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO files (path, local_clock) VALUES (?, 0)
		ON CONFLICT(path) DO NOTHING`, path); err != nil {
		return 0, fmt.Errorf("sqliteupdater: register %s: %w", path, err)
	}

	var clock uint32
	if err := tx.QueryRowContext(ctx, `SELECT local_clock FROM files WHERE path = ?`, path).Scan(&clock); err != nil {
		return 0, fmt.Errorf("sqliteupdater: read clock for %s: %w", path, err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE files SET local_clock = ? WHERE path = ?`, clock+1, path); err != nil {
		return 0, fmt.Errorf("sqliteupdater: advance clock for %s: %w", path, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqliteupdater: commit clock tx: %w", err)
	}

	return clock, nil
}
