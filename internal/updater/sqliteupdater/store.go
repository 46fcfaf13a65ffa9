// Package sqliteupdater is a reference implementation of
// internal/updater.Updater. It treats each tracked file's content as a
// single whole-file last-writer-wins snapshot, the simplest content CRDT
// that satisfies the updater contract, and keeps its edit history in an
// embedded SQLite database so GetChangesSince can replay history a peer
// missed.
//
// A production content CRDT (a real per-file merge algorithm, chunked
// diffs, etc.) is out of scope for the file-set core by design (spec
// §4.5) and would implement the same interface; this package exists to
// give the core something concrete to drive in tests and in the demo
// daemon.
package sqliteupdater

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	_ "modernc.org/sqlite" // pure Go driver, registers as "sqlite"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const walJournalSizeLimit = 67108864 // 64 MiB

// Config configures a new Store.
type Config struct {
	// SiteID stamps every edit this updater records with the owning
	// replica's site identifier.
	SiteID uint32

	// BasePath is the directory tracked files live under.
	BasePath string

	// DBPath is the SQLite database file. Use ":memory:" for tests.
	DBPath string

	Logger *slog.Logger
}

// Store is the sqliteupdater's handle: it implements updater.Updater and
// owns the SQLite connection behind it.
type Store struct {
	db       *sql.DB
	logger   *slog.Logger
	siteID   uint32
	basePath string
}

// Open opens (creating if necessary) the database at cfg.DBPath, applies
// pending migrations, and returns a ready Store.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("opening content store", "path", cfg.DBPath)

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("sqliteupdater: open: %w", err)
	}

	if err := setPragmas(ctx, db); err != nil {
		db.Close()

		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()

		return nil, err
	}

	return &Store{db: db, logger: logger, siteID: cfg.SiteID, basePath: cfg.BasePath}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func setPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit),
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("sqliteupdater: set pragma %q: %w", p, err)
		}
	}

	return nil
}

func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("sqliteupdater: migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("sqliteupdater: migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("sqliteupdater: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Debug("applied migration", "source", r.Source.Path, "duration_ms", r.Duration.Milliseconds())
	}

	return nil
}
