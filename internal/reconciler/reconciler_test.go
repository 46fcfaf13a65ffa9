package reconciler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dyule/crdt-fileset/internal/fileset"
	"github.com/dyule/crdt-fileset/internal/updater"
)

type fakeUpdater struct {
	baseDir string
	created []string
	updated []string
}

func (f *fakeUpdater) CreateFile(path string) error {
	f.created = append(f.created, path)

	full := filepath.Join(f.baseDir, path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}

	return os.WriteFile(full, nil, 0o644)
}

func (f *fakeUpdater) RemoveFile(path string) error {
	return os.Remove(filepath.Join(f.baseDir, path))
}

func (f *fakeUpdater) MoveFile(oldPath, newPath string) error {
	return os.Rename(filepath.Join(f.baseDir, oldPath), filepath.Join(f.baseDir, newPath))
}

func (f *fakeUpdater) UpdateFile(path string, lookup updater.TimestampLookup, transaction any) error {
	f.updated = append(f.updated, path)
	return nil
}

func (f *fakeUpdater) GetLocalChanges(path string) (any, updater.TimestampLookup, error) {
	info, err := os.Stat(filepath.Join(f.baseDir, path))
	if err != nil {
		return nil, nil, err
	}

	if info.Size() == 0 {
		return nil, nil, nil
	}

	return "diff:" + path, nil, nil
}

func (f *fakeUpdater) GetChangesSince(path string, since *updater.TimestampPair) (any, error) {
	return nil, nil
}

func (f *fakeUpdater) GetBasePath() string { return f.baseDir }

func newTestReplica(t *testing.T, baseDir string) (*fileset.Replica, *fakeUpdater) {
	t.Helper()

	u := &fakeUpdater{baseDir: baseDir}
	storageDir := filepath.Join(baseDir, ".filesetd")
	require.NoError(t, os.MkdirAll(storageDir, 0o755))

	r, err := fileset.Open(fileset.Config{SiteID: 1, StoragePath: storageDir}, u)
	require.NoError(t, err)

	return r, u
}

func TestReconcileAdoptsPeerOnlyFile(t *testing.T) {
	baseDir := t.TempDir()
	r, u := newTestReplica(t, baseDir)

	remote := map[fileset.FileID]fileset.FileHistory{
		{Site: 2, ID: 0}: {
			FilenameTimestamp:  0,
			FilenameComponents: []string{"remote.txt"},
			Attributes:         map[string]fileset.AttributeSnapshot{},
		},
	}

	ops, err := New(r, nil).Reconcile(remote, nil)
	require.NoError(t, err)
	require.Empty(t, ops)
	require.True(t, r.HasPath([]string{"remote.txt"}))
	require.Contains(t, u.created, "remote.txt")
}

func TestReconcilePrunesLocalOnlyFile(t *testing.T) {
	baseDir := t.TempDir()
	r, u := newTestReplica(t, baseDir)

	op, err := r.ProcessCreate([]string{"local-only.txt"})
	require.NoError(t, err)
	require.NoError(t, u.CreateFile("local-only.txt"))

	ops, err := New(r, nil).Reconcile(map[fileset.FileID]fileset.FileHistory{}, nil)
	require.NoError(t, err)
	require.Empty(t, ops)
	require.False(t, r.HasPath([]string{"local-only.txt"}))

	_, statErr := os.Stat(filepath.Join(baseDir, "local-only.txt"))
	require.True(t, os.IsNotExist(statErr))
	_ = op
}

func TestReconcileSurfacesUntrackedNonEmptyLocalFile(t *testing.T) {
	baseDir := t.TempDir()
	r, _ := newTestReplica(t, baseDir)

	require.NoError(t, os.WriteFile(filepath.Join(baseDir, "untracked.txt"), []byte("hello"), 0o644))

	ops, err := New(r, nil).Reconcile(map[fileset.FileID]fileset.FileHistory{}, nil)
	require.NoError(t, err)
	require.True(t, r.HasPath([]string{"untracked.txt"}))

	var sawCreate, sawUpdate bool
	for _, op := range ops {
		switch op.Kind {
		case fileset.OpCreate:
			sawCreate = true
		case fileset.OpUpdate:
			sawUpdate = true
		}
	}
	require.True(t, sawCreate)
	require.True(t, sawUpdate)
}

func TestReconcileSharedFileMergesBothDirections(t *testing.T) {
	baseDir := t.TempDir()
	r, u := newTestReplica(t, baseDir)

	op, err := r.ProcessCreate([]string{"shared.txt"})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(baseDir, "shared.txt"), []byte("local edit"), 0o644))

	remote := map[fileset.FileID]fileset.FileHistory{
		op.ID: {FilenameTimestamp: 0, FilenameComponents: []string{"shared.txt"}, Operations: "remote-history"},
	}

	ops, err := New(r, nil).Reconcile(remote, nil)
	require.NoError(t, err)
	require.Contains(t, u.updated, "shared.txt")

	var sawUpdate bool
	for _, o := range ops {
		if o.Kind == fileset.OpUpdate {
			sawUpdate = true
		}
	}
	require.True(t, sawUpdate)
}
