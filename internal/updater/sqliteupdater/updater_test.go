package sqliteupdater

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dyule/crdt-fileset/internal/updater"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dir := t.TempDir()
	s, err := Open(context.Background(), Config{SiteID: 1, BasePath: dir, DBPath: filepath.Join(dir, "content.db")})
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })

	return s
}

func TestCreateThenRemoveFile(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.CreateFile("a.txt"))
	_, err := os.Stat(filepath.Join(s.basePath, "a.txt"))
	require.NoError(t, err)

	require.NoError(t, s.RemoveFile("a.txt"))
	_, err = os.Stat(filepath.Join(s.basePath, "a.txt"))
	require.True(t, os.IsNotExist(err))
}

func TestGetLocalChangesReturnsNilWhenUnchanged(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateFile("a.txt"))

	require.NoError(t, os.WriteFile(filepath.Join(s.basePath, "a.txt"), []byte("hello"), 0o644))

	txn, lookup, err := s.GetLocalChanges("a.txt")
	require.NoError(t, err)
	require.NotNil(t, txn)
	require.Len(t, lookup, 1)

	txn2, _, err := s.GetLocalChanges("a.txt")
	require.NoError(t, err)
	require.Nil(t, txn2)
}

func TestUpdateFileWritesContentAndRecordsEdit(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateFile("a.txt"))

	txn := Transaction{Content: []byte("from peer")}
	lookup := updater.TimestampLookup{0: {Site: 2, Timestamp: 5}}

	require.NoError(t, s.UpdateFile("a.txt", lookup, txn))

	got, err := os.ReadFile(filepath.Join(s.basePath, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "from peer", string(got))

	changes, err := s.GetChangesSince("a.txt", nil)
	require.NoError(t, err)
	require.NotNil(t, changes)
}

func TestMoveFileRepointsHistory(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateFile("a.txt"))
	require.NoError(t, os.WriteFile(filepath.Join(s.basePath, "a.txt"), []byte("x"), 0o644))
	_, _, err := s.GetLocalChanges("a.txt")
	require.NoError(t, err)

	require.NoError(t, s.MoveFile("a.txt", "b.txt"))

	_, err = os.Stat(filepath.Join(s.basePath, "b.txt"))
	require.NoError(t, err)

	changes, err := s.GetChangesSince("b.txt", nil)
	require.NoError(t, err)
	require.NotNil(t, changes)
}
