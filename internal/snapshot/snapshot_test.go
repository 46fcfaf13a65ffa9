package snapshot

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleState() State {
	return State{
		LastTimestamp: 42,
		LastID:        7,
		SiteID:        3,
		Files: []File{
			{
				Site:               3,
				ID:                 0,
				FilenameTimestamp:  1,
				FilenameComponents: []string{"docs", "report.txt"},
				PrintedFilename:    "report.txt",
				Attributes: []Attribute{
					{Key: "readonly", Timestamp: 2, Value: "true"},
					{Key: "owner", Timestamp: 5, Value: "alice"},
				},
			},
			{
				Site:               3,
				ID:                 1,
				FilenameTimestamp:  3,
				FilenameComponents: []string{"a.txt"},
				PrintedFilename:    "a.txt",
				Attributes:         nil,
			},
		},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	want := sampleState()

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, want))

	got, err := Decode(&buf)
	require.NoError(t, err)

	require.Equal(t, want.LastTimestamp, got.LastTimestamp)
	require.Equal(t, want.LastID, got.LastID)
	require.Equal(t, want.SiteID, got.SiteID)
	require.ElementsMatch(t, want.Files, got.Files)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	want := sampleState()

	require.NoError(t, Save(dir, want))

	got, ok, err := Load(dir)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, want.LastTimestamp, got.LastTimestamp)
	require.ElementsMatch(t, want.Files, got.Files)
}

func TestLoadMissingSnapshotIsNotAnError(t *testing.T) {
	dir := t.TempDir()

	_, ok, err := Load(dir)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSaveReplacesSnapshotOnRepeatedWrites(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, Save(dir, State{LastTimestamp: 1, SiteID: 1}))
	require.NoError(t, Save(dir, State{LastTimestamp: 2, SiteID: 1}))

	got, ok, err := Load(dir)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(2), got.LastTimestamp)

	// The temp file must not linger after a successful save.
	leftovers, err := filepath.Glob(filepath.Join(dir, tmpFileName))
	require.NoError(t, err)
	require.Empty(t, leftovers)
}

func TestDecodeLossyUTF8(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeU32(&buf, 0))
	require.NoError(t, writeU32(&buf, 0))
	require.NoError(t, writeU32(&buf, 1))
	require.NoError(t, writeU32(&buf, 1))

	require.NoError(t, writeU32(&buf, 9))
	require.NoError(t, writeU32(&buf, 0))
	require.NoError(t, writeU32(&buf, 0))
	require.NoError(t, writeU32(&buf, 1))
	require.NoError(t, writeU32(&buf, 3))
	buf.Write([]byte{0xff, 0xfe, 'x'})

	require.NoError(t, writeString(&buf, "n"))
	require.NoError(t, writeU32(&buf, 0))

	got, err := Decode(&buf)
	require.NoError(t, err)
	require.Len(t, got.Files, 1)
	require.Equal(t, "��x", got.Files[0].FilenameComponents[0])
}
