// Package updater defines the contract between the file-set core and a
// pluggable per-file content CRDT (spec §4.5). The core carries opaque
// transactions and timestamp lookups on the updater's behalf and never
// introspects them.
package updater

// TimestampPair maps an updater-internal logical clock to the (site,
// timestamp) state stamp it corresponds to, for replay ordering across
// sites.
type TimestampPair struct {
	Site      uint32
	Timestamp uint32
}

// TimestampLookup maps an updater's internal logical clocks to the
// (site, timestamp) pairs they represent.
type TimestampLookup map[uint32]TimestampPair

// Updater owns all byte-level disk I/O and per-file content CRDT state for
// the files the file-set core tracks. The core treats FileTransaction
// values as opaque: it stores, forwards and replays them but never
// interprets their contents.
type Updater interface {
	// CreateFile materializes an empty tracked file at path.
	CreateFile(path string) error

	// RemoveFile deletes the tracked file at path.
	RemoveFile(path string) error

	// MoveFile renames a tracked file from oldPath to newPath.
	MoveFile(oldPath, newPath string) error

	// UpdateFile applies a remote content transaction to the file at path.
	// lookup maps the transaction's internal logical clocks to (site,
	// timestamp) pairs.
	UpdateFile(path string, lookup TimestampLookup, transaction any) error

	// GetLocalChanges computes the not-yet-broadcast local diff for path
	// and the timestamps to ship alongside it.
	GetLocalChanges(path string) (transaction any, lookup TimestampLookup, err error)

	// GetChangesSince synthesizes a transaction replayable from since. A
	// nil since means "full history".
	GetChangesSince(path string, since *TimestampPair) (transaction any, err error)

	// GetBasePath returns the directory all tracked files are relative to.
	GetBasePath() string
}
