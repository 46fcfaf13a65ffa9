// Package fileset implements the convergent file-set state machine: the
// set of tracked files keyed by FileID, creation/removal/rename/attribute
// semantics, and the last-writer-wins resolution rules that let two sites
// which have exchanged the same operations converge to the same logical
// file set.
//
// The state machine delegates persistence to internal/snapshot, path
// resolution to internal/trie, and all byte-level file content to a
// pluggable internal/updater.Updater — the core never interprets file
// bytes.
package fileset

import (
	"fmt"

	"github.com/dyule/crdt-fileset/internal/trie"
	"github.com/dyule/crdt-fileset/internal/updater"
)

// FileID globally identifies a tracked file. Re-exported from internal/trie
// so callers of this package never need to import trie directly.
type FileID = trie.FileID

// State is a Lamport-like (timestamp, site) stamp used for last-writer-wins
// comparisons on filenames and attributes.
type State struct {
	Timestamp uint32
	Site      uint32
}

// OperationKind distinguishes the four operation variants of the wire
// envelope (spec §6).
type OperationKind string

// Operation kinds.
const (
	OpCreate         OperationKind = "create"
	OpRemove         OperationKind = "remove"
	OpUpdate         OperationKind = "update"
	OpUpdateMetadata OperationKind = "update_metadata"
)

// MetadataKind distinguishes the two payloads an UpdateMetadata operation
// can carry.
type MetadataKind string

// Metadata payload kinds.
const (
	MetadataFilename MetadataKind = "filename"
	MetadataCustom   MetadataKind = "custom"
)

// Operation is the wire envelope the file-set core emits from local events
// and consumes from peers. It is a flat, tagged struct rather than a sum
// type: only the fields relevant to Kind (and, for UpdateMetadata,
// MetadataKind) are populated. The concrete byte-level encoding for
// transport is a transport-layer concern (internal/transport); this type
// only fixes the fields that must round-trip.
type Operation struct {
	Kind OperationKind

	// Create, UpdateMetadata.
	State State
	ID    FileID

	// Create payload, and UpdateMetadata/Filename payload.
	Filename []string

	// Update payload. Transaction is opaque to the core — it is whatever
	// the updater produced or expects.
	Transaction     any
	TimestampLookup updater.TimestampLookup

	// UpdateMetadata payload selector and fields.
	MetadataKind   MetadataKind
	AttributeKey   string
	AttributeValue string
}

// String renders an operation for logging.
func (o Operation) String() string {
	switch o.Kind {
	case OpCreate:
		return fmt.Sprintf("Create{id=%s, filename=%v}", o.ID, o.Filename)
	case OpRemove:
		return fmt.Sprintf("Remove{id=%s}", o.ID)
	case OpUpdate:
		return fmt.Sprintf("Update{id=%s}", o.ID)
	case OpUpdateMetadata:
		if o.MetadataKind == MetadataFilename {
			return fmt.Sprintf("UpdateMetadata{id=%s, filename=%v}", o.ID, o.Filename)
		}

		return fmt.Sprintf("UpdateMetadata{id=%s, key=%s}", o.ID, o.AttributeKey)
	default:
		return fmt.Sprintf("Operation{kind=%s}", o.Kind)
	}
}

// AttributeSnapshot is the last-writer-wins value and timestamp of one
// attribute, as returned by read-side accessors.
type AttributeSnapshot struct {
	Timestamp uint32
	Value     string
}

// FileHistory is the replayable state of one tracked file, used to build
// and consume the manifest a peering session exchanges (spec §4.4). It
// bundles the logical filename, the attribute map, and whatever content
// history the updater can produce for that file.
type FileHistory struct {
	FilenameTimestamp  uint32
	FilenameComponents []string
	Attributes         map[string]AttributeSnapshot
	Operations         any
}

// fileMetadata is the in-memory record for one tracked FileID (spec §3).
// FilenameAuthorSite and the per-attribute author site are not part of the
// persisted snapshot (spec §6 freezes that format); they default to the
// file's own originating site on load. See SPEC_FULL.md's open-question
// decision on the metadata tie-break.
type fileMetadata struct {
	filenameTimestamp  uint32
	filenameComponents []string
	filenameAuthorSite uint32
	printedFilename    string
	attributes         map[string]attributeValue
}

type attributeValue struct {
	timestamp  uint32
	value      string
	authorSite uint32
}

// localPathOf returns the on-disk path for m: its filename's parent
// components, plus its (possibly collision-renamed) printed filename.
func localPathOf(m *fileMetadata) []string {
	path := make([]string, 0, len(m.filenameComponents))
	if len(m.filenameComponents) > 1 {
		path = append(path, m.filenameComponents[:len(m.filenameComponents)-1]...)
	}

	return append(path, m.printedFilename)
}
