package fileset

import (
	"fmt"
	"log/slog"

	"github.com/dyule/crdt-fileset/internal/snapshot"
	"github.com/dyule/crdt-fileset/internal/trie"
	"github.com/dyule/crdt-fileset/internal/updater"
)

// TieBreakMode selects how integrate_update_metadata resolves a timestamp
// tie (spec §9's open question).
type TieBreakMode int

const (
	// TieBreakStoredAuthor compares the operation's site against the
	// stored value's own author site_id. Commutative across replicas —
	// this is the corrected behavior.
	TieBreakStoredAuthor TieBreakMode = iota

	// TieBreakBugCompatible compares the operation's site against this
	// replica's own site_id, reproducing the original implementation's
	// tie-break bug-for-bug. Use this only to interoperate with a peer
	// running the original.
	TieBreakBugCompatible
)

// Config configures a new or reopened Replica.
type Config struct {
	// SiteID is this replica's site identifier. Ignored when reopening an
	// existing snapshot (the snapshot's site_id wins).
	SiteID uint32

	// StoragePath is the directory the snapshot lives under (at
	// <StoragePath>/crdt) and that the directory reconciler excludes from
	// its walk.
	StoragePath string

	// TieBreak selects the LWW tie-break comparison. Defaults to
	// TieBreakStoredAuthor.
	TieBreak TieBreakMode

	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Replica holds one site's view of the convergent file set: its tracked
// files, the name lookup trie, and the counters used to mint new FileIDs
// and state stamps.
//
// Replica is single-threaded and single-owner (spec §5): every exported
// method runs to completion without internal locking. Callers needing
// concurrent replicas must use independent Replica values.
type Replica struct {
	files   map[FileID]*fileMetadata
	lookup  *trie.Trie
	updater updater.Updater

	lastTimestamp uint32
	lastID        uint32
	siteID        uint32
	storagePath   string
	tieBreak      TieBreakMode
	logger        *slog.Logger
}

// Open loads the replica at cfg.StoragePath if a snapshot exists there, or
// creates a brand-new empty replica otherwise.
func Open(cfg Config, u updater.Updater) (*Replica, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Replica{
		files:       make(map[FileID]*fileMetadata),
		lookup:      trie.New(),
		updater:     u,
		siteID:      cfg.SiteID,
		storagePath: cfg.StoragePath,
		tieBreak:    cfg.TieBreak,
		logger:      logger,
	}

	state, ok, err := snapshot.Load(cfg.StoragePath)
	if err != nil {
		return nil, &IOError{Op: "load snapshot", Err: err}
	}

	if !ok {
		logger.Info("no existing snapshot, starting fresh replica", "site_id", cfg.SiteID, "storage_path", cfg.StoragePath)

		return r, nil
	}

	r.loadFrom(state)
	logger.Info("loaded replica snapshot",
		"site_id", r.siteID,
		"file_count", len(r.files),
		"last_timestamp", r.lastTimestamp,
		"last_id", r.lastID,
	)

	return r, nil
}

// loadFrom reconstructs files and the lookup trie from a decoded snapshot.
// Per spec §6, the trie is rebuilt by re-adding every file under its
// parent components plus printed_filename, with author = the file's own
// site_id.
func (r *Replica) loadFrom(state snapshot.State) {
	r.lastTimestamp = state.LastTimestamp
	r.lastID = state.LastID
	r.siteID = state.SiteID

	for _, f := range state.Files {
		attrs := make(map[string]attributeValue, len(f.Attributes))
		for _, a := range f.Attributes {
			attrs[a.Key] = attributeValue{timestamp: a.Timestamp, value: a.Value, authorSite: f.Site}
		}

		meta := &fileMetadata{
			filenameTimestamp:  f.FilenameTimestamp,
			filenameComponents: append([]string(nil), f.FilenameComponents...),
			filenameAuthorSite: f.Site,
			printedFilename:    f.PrintedFilename,
			attributes:         attrs,
		}

		id := FileID{Site: f.Site, ID: f.ID}
		r.files[id] = meta
		r.lookup.Add(localPathOf(meta), id, f.Site)
	}
}

// save persists the current state atomically to <storagePath>/crdt.
func (r *Replica) save() error {
	state := snapshot.State{
		LastTimestamp: r.lastTimestamp,
		LastID:        r.lastID,
		SiteID:        r.siteID,
		Files:         make([]snapshot.File, 0, len(r.files)),
	}

	for id, m := range r.files {
		attrs := make([]snapshot.Attribute, 0, len(m.attributes))
		for key, a := range m.attributes {
			attrs = append(attrs, snapshot.Attribute{Key: key, Timestamp: a.timestamp, Value: a.value})
		}

		state.Files = append(state.Files, snapshot.File{
			Site:               id.Site,
			ID:                 id.ID,
			FilenameTimestamp:  m.filenameTimestamp,
			FilenameComponents: append([]string(nil), m.filenameComponents...),
			PrintedFilename:    m.printedFilename,
			Attributes:         attrs,
		})
	}

	if err := snapshot.Save(r.storagePath, state); err != nil {
		return &IOError{Op: "save snapshot", Err: err}
	}

	return nil
}

func (r *Replica) nextID() uint32 {
	id := r.lastID
	r.lastID++

	return id
}

func (r *Replica) nextState() State {
	s := State{Timestamp: r.lastTimestamp, Site: r.siteID}
	r.lastTimestamp++

	return s
}

// --- Local event entry points (spec §4.2) ---

// ProcessCreate records a local file creation at path, returning the
// operation to broadcast.
func (r *Replica) ProcessCreate(path []string) (Operation, error) {
	id := FileID{Site: r.siteID, ID: r.nextID()}
	state := r.nextState()

	printed := r.lookup.Add(path, id, r.siteID)

	r.files[id] = &fileMetadata{
		filenameTimestamp:  state.Timestamp,
		filenameComponents: append([]string(nil), path...),
		filenameAuthorSite: r.siteID,
		printedFilename:    printed,
		attributes:         make(map[string]attributeValue),
	}

	op := Operation{Kind: OpCreate, State: state, ID: id, Filename: append([]string(nil), path...)}

	if err := r.save(); err != nil {
		return op, err
	}

	return op, nil
}

// ProcessRemove records a local file removal at path, returning the
// operation to broadcast. path must already resolve to a tracked file.
func (r *Replica) ProcessRemove(path []string) (Operation, error) {
	id, ok := r.lookup.RemoveFile(path)
	if !ok {
		return Operation{}, fmt.Errorf("fileset: process_remove: %v is not tracked", path)
	}

	delete(r.files, id)

	op := Operation{Kind: OpRemove, ID: id}

	if err := r.save(); err != nil {
		return op, err
	}

	return op, nil
}

// ProcessRemoveFolder records local removal of every tracked file at or
// under path, returning one Remove operation per file.
func (r *Replica) ProcessRemoveFolder(path []string) ([]Operation, error) {
	ids := r.lookup.RemoveFolder(path)

	ops := make([]Operation, 0, len(ids))
	for _, id := range ids {
		delete(r.files, id)
		ops = append(ops, Operation{Kind: OpRemove, ID: id})
	}

	if err := r.save(); err != nil {
		return ops, err
	}

	return ops, nil
}

// ProcessFileMove records a local rename from old to new, returning the
// UpdateMetadata operation to broadcast. The new printed name is
// disambiguated using the FileID's original author site, preserving rename
// authority across renames performed by a different site's replica.
func (r *Replica) ProcessFileMove(old, newPath []string) (Operation, error) {
	id, ok := r.lookup.RemoveFile(old)
	if !ok {
		return Operation{}, fmt.Errorf("fileset: process_file_move: %v is not tracked", old)
	}

	state := r.nextState()

	meta, ok := r.files[id]
	if !ok {
		return Operation{}, fmt.Errorf("fileset: process_file_move: %s has no metadata", id)
	}

	printed := r.lookup.Add(newPath, id, id.Site)

	meta.filenameTimestamp = state.Timestamp
	meta.filenameComponents = append([]string(nil), newPath...)
	meta.filenameAuthorSite = r.siteID
	meta.printedFilename = printed

	op := Operation{
		Kind:         OpUpdateMetadata,
		State:        state,
		ID:           id,
		MetadataKind: MetadataFilename,
		Filename:     append([]string(nil), newPath...),
	}

	if err := r.save(); err != nil {
		return op, err
	}

	return op, nil
}

// ProcessUpdate wraps an updater-supplied opaque transaction for path into
// an Update operation to broadcast. It is a pure pass-through: the core
// does not interpret transaction.
func (r *Replica) ProcessUpdate(path []string, transaction any, lookup updater.TimestampLookup) (Operation, error) {
	id, ok := r.lookup.Get(path)
	if !ok {
		return Operation{}, fmt.Errorf("fileset: process_update: %v is not tracked", path)
	}

	op := Operation{Kind: OpUpdate, ID: id, Transaction: transaction, TimestampLookup: lookup}

	if err := r.save(); err != nil {
		return op, err
	}

	return op, nil
}

// --- Remote integration (spec §4.3) ---

// IntegrateRemote applies a peer-originated operation. It always persists
// the snapshot afterward, whether or not integration itself succeeded —
// an I/O error from the updater leaves the in-memory mutation that
// preceded it in place, and that mutation is still saved (spec §5's
// documented mid-flight-failure behavior).
func (r *Replica) IntegrateRemote(op Operation) error {
	var err error

	switch op.Kind {
	case OpCreate:
		err = r.integrateCreate(op)
	case OpRemove:
		err = r.integrateRemove(op)
	case OpUpdate:
		err = r.integrateUpdate(op)
	case OpUpdateMetadata:
		err = r.integrateUpdateMetadata(op)
	default:
		err = fmt.Errorf("fileset: integrate_remote: unknown operation kind %q", op.Kind)
	}

	if saveErr := r.save(); saveErr != nil {
		if err != nil {
			r.logger.Error("snapshot save failed after integration error", "integration_error", err, "save_error", saveErr)
		}

		return saveErr
	}

	return err
}

func (r *Replica) integrateCreate(op Operation) error {
	printed := r.lookup.Add(op.Filename, op.ID, op.ID.Site)

	meta := &fileMetadata{
		filenameTimestamp:  op.State.Timestamp,
		filenameComponents: append([]string(nil), op.Filename...),
		filenameAuthorSite: op.State.Site,
		printedFilename:    printed,
		attributes:         make(map[string]attributeValue),
	}
	r.files[op.ID] = meta

	path := localPathOf(meta)
	if err := r.updater.CreateFile(joinPath(path)); err != nil {
		return &IOError{Op: "create_file", Err: err}
	}

	return nil
}

func (r *Replica) integrateRemove(op Operation) error {
	meta, ok := r.files[op.ID]
	if !ok {
		return &IDNotFoundError{ID: op.ID}
	}

	delete(r.files, op.ID)

	path := localPathOf(meta)
	r.lookup.RemoveFile(path)

	if err := r.updater.RemoveFile(joinPath(path)); err != nil {
		return &IOError{Op: "remove_file", Err: err}
	}

	return nil
}

func (r *Replica) integrateUpdate(op Operation) error {
	meta, ok := r.files[op.ID]
	if !ok {
		return &IDNotFoundError{ID: op.ID}
	}

	path := localPathOf(meta)
	if err := r.updater.UpdateFile(joinPath(path), op.TimestampLookup, op.Transaction); err != nil {
		return &IOError{Op: "update_file", Err: err}
	}

	return nil
}

func (r *Replica) integrateUpdateMetadata(op Operation) error {
	switch op.MetadataKind {
	case MetadataFilename:
		return r.integrateRename(op)
	case MetadataCustom:
		return r.integrateAttribute(op)
	default:
		return fmt.Errorf("fileset: integrate_update_metadata: unknown metadata kind %q", op.MetadataKind)
	}
}

func (r *Replica) integrateRename(op Operation) error {
	meta, ok := r.files[op.ID]
	if !ok {
		return &IDNotFoundError{ID: op.ID}
	}

	if !r.acceptStamp(meta.filenameTimestamp, meta.filenameAuthorSite, op.State) {
		return nil
	}

	oldPath := localPathOf(meta)
	r.lookup.RemoveFile(oldPath)

	printed := r.lookup.Add(op.Filename, op.ID, op.State.Site)

	meta.filenameTimestamp = op.State.Timestamp
	meta.filenameComponents = append([]string(nil), op.Filename...)
	meta.filenameAuthorSite = op.State.Site
	meta.printedFilename = printed

	newPath := localPathOf(meta)
	if err := r.updater.MoveFile(joinPath(oldPath), joinPath(newPath)); err != nil {
		return &IOError{Op: "move_file", Err: err}
	}

	return nil
}

func (r *Replica) integrateAttribute(op Operation) error {
	meta, ok := r.files[op.ID]
	if !ok {
		return &IDNotFoundError{ID: op.ID}
	}

	if cur, exists := meta.attributes[op.AttributeKey]; exists {
		if !r.acceptStamp(cur.timestamp, cur.authorSite, op.State) {
			return nil
		}
	}

	meta.attributes[op.AttributeKey] = attributeValue{
		timestamp:  op.State.Timestamp,
		value:      op.AttributeValue,
		authorSite: op.State.Site,
	}

	return nil
}

// acceptStamp implements the canonical LWW tie-break (spec §4.3): accept
// iff storedTimestamp < op.Timestamp, or they are equal and the
// tie-break-relevant site is <= op.Site. In TieBreakBugCompatible mode the
// comparison uses this replica's own site_id instead of storedAuthorSite,
// reproducing the original implementation's non-commutative behavior.
func (r *Replica) acceptStamp(storedTimestamp uint32, storedAuthorSite uint32, op State) bool {
	compareSite := storedAuthorSite
	if r.tieBreak == TieBreakBugCompatible {
		compareSite = r.siteID
	}

	if storedTimestamp < op.Timestamp {
		return true
	}

	return storedTimestamp == op.Timestamp && compareSite <= op.Site
}

// --- Read-side accessors supplementing the local/remote event API
// (SPEC_FULL.md, grounded in original_source/src/lib.rs's has_path,
// get_changes_since and get_file_history_for) ---

// HasPath reports whether path currently resolves to a tracked file.
func (r *Replica) HasPath(path []string) bool {
	_, ok := r.lookup.Get(path)

	return ok
}

// ChangesSince returns, for every currently tracked file, its filename,
// attributes, and the content history the updater can produce since the
// given point (nil means full history). This builds the manifest a
// peering session ships to a peer for it to integrate via the directory
// reconciler.
func (r *Replica) ChangesSince(since *updater.TimestampPair) (map[FileID]FileHistory, error) {
	out := make(map[FileID]FileHistory, len(r.files))

	for id, m := range r.files {
		ops, err := r.updater.GetChangesSince(joinPath(localPathOf(m)), since)
		if err != nil {
			return nil, &IOError{Op: "get_changes_since", Err: err}
		}

		out[id] = FileHistory{
			FilenameTimestamp:  m.filenameTimestamp,
			FilenameComponents: append([]string(nil), m.filenameComponents...),
			Attributes:         snapshotAttributes(m),
			Operations:         ops,
		}
	}

	return out, nil
}

// HistoryFor returns the full content history for one tracked file.
func (r *Replica) HistoryFor(id FileID) (any, bool, error) {
	m, ok := r.files[id]
	if !ok {
		return nil, false, nil
	}

	ops, err := r.updater.GetChangesSince(joinPath(localPathOf(m)), nil)
	if err != nil {
		return nil, true, &IOError{Op: "get_changes_since", Err: err}
	}

	return ops, true, nil
}

// Files returns a snapshot of every tracked FileID's logical filename
// components, for inspection and testing. The printed (on-disk) name is
// not included; see PrintedPath.
func (r *Replica) Files() map[FileID][]string {
	out := make(map[FileID][]string, len(r.files))
	for id, m := range r.files {
		out[id] = append([]string(nil), m.filenameComponents...)
	}

	return out
}

// PrintedPath returns the on-disk path of id, if tracked.
func (r *Replica) PrintedPath(id FileID) ([]string, bool) {
	m, ok := r.files[id]
	if !ok {
		return nil, false
	}

	return localPathOf(m), true
}

// Updater exposes the underlying content updater, for callers (such as the
// directory reconciler) that must call it directly.
func (r *Replica) Updater() updater.Updater {
	return r.updater
}

// SiteID returns this replica's site identifier.
func (r *Replica) SiteID() uint32 {
	return r.siteID
}

// StoragePath returns the directory this replica persists its snapshot
// under.
func (r *Replica) StoragePath() string {
	return r.storagePath
}

// Lookup exposes the path lookup trie for the reconciler, which resolves
// walked paths with Get. The reconciler changes the trie only through
// TrackFile and UntrackFile.
func (r *Replica) Lookup() *trie.Trie {
	return r.lookup
}

// TrackFile registers id at path in both the trie and the files map with
// the given filename metadata, without emitting an operation or calling
// the updater. Used by the directory reconciler when adopting a
// peer-authoritative file the local replica didn't have (spec §4.4).
func (r *Replica) TrackFile(id FileID, filenameTimestamp uint32, filenameComponents []string, attrs map[string]AttributeSnapshot, authorSite uint32) string {
	printed := r.lookup.Add(filenameComponents, id, authorSite)

	internalAttrs := make(map[string]attributeValue, len(attrs))
	for k, v := range attrs {
		internalAttrs[k] = attributeValue{timestamp: v.Timestamp, value: v.Value, authorSite: authorSite}
	}

	r.files[id] = &fileMetadata{
		filenameTimestamp:  filenameTimestamp,
		filenameComponents: append([]string(nil), filenameComponents...),
		filenameAuthorSite: authorSite,
		printedFilename:    printed,
		attributes:         internalAttrs,
	}

	return printed
}

// UntrackFile removes id from the files map and the trie without emitting
// an operation or calling the updater. Used by the directory reconciler
// when dropping a file the peer no longer has.
func (r *Replica) UntrackFile(id FileID) ([]string, bool) {
	meta, ok := r.files[id]
	if !ok {
		return nil, false
	}

	path := localPathOf(meta)
	r.lookup.RemoveFile(path)
	delete(r.files, id)

	return path, true
}

// Save persists the current state. Exposed for callers (the directory
// reconciler) that mutate the replica directly via TrackFile/UntrackFile
// and must flush afterward.
func (r *Replica) Save() error {
	return r.save()
}

func snapshotAttributes(m *fileMetadata) map[string]AttributeSnapshot {
	out := make(map[string]AttributeSnapshot, len(m.attributes))
	for k, v := range m.attributes {
		out[k] = AttributeSnapshot{Timestamp: v.timestamp, Value: v.value}
	}

	return out
}

func joinPath(components []string) string {
	out := ""
	for i, c := range components {
		if i > 0 {
			out += "/"
		}
		out += c
	}

	return out
}
