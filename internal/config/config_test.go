package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "filesetd.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
site_id = 1
storage_path = "/var/lib/filesetd"
sync_root = "/home/alice/sync"
listen_address = ":7700"
metadata_tie_break = "stored_author"

[[peers]]
name = "bob"
address = "ws://bob.local:7700/sync"
`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	require.Equal(t, uint32(1), cfg.SiteID)
	require.Len(t, cfg.Peers, 1)
	require.Equal(t, "bob", cfg.Peers[0].Name)
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	path := writeConfig(t, `
site_id = 1
storage_path = "/var/lib/filesetd"
sync_root = "/home/alice/sync"
listen_address = ":7700"
metadata_tie_break = "stored_author"
bogus_key = true
`)

	_, err := Load(path, nil)
	require.Error(t, err)
}

func TestLoadRejectsMissingStoragePath(t *testing.T) {
	path := writeConfig(t, `
site_id = 1
sync_root = "/home/alice/sync"
listen_address = ":7700"
metadata_tie_break = "stored_author"
`)

	_, err := Load(path, nil)
	require.Error(t, err)
}

func TestLoadRejectsBadTieBreak(t *testing.T) {
	path := writeConfig(t, `
site_id = 1
storage_path = "/var/lib/filesetd"
sync_root = "/home/alice/sync"
listen_address = ":7700"
metadata_tie_break = "whatever"
`)

	_, err := Load(path, nil)
	require.Error(t, err)
}
