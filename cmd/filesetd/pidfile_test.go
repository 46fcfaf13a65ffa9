package main

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquirePIDFileWritesCurrentPID(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "filesetd.pid")

	release, err := acquirePIDFile(path)
	require.NoError(t, err)
	require.NotNil(t, release)
	defer release()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestAcquirePIDFileSecondAcquisitionFails(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "filesetd.pid")

	release1, err := acquirePIDFile(path)
	require.NoError(t, err)
	defer release1()

	release2, err := acquirePIDFile(path)
	require.Error(t, err)
	assert.Nil(t, release2)
	assert.Contains(t, err.Error(), "already running")
}

func TestAcquirePIDFileEmptyPath(t *testing.T) {
	t.Parallel()

	release, err := acquirePIDFile("")
	assert.Error(t, err)
	assert.Nil(t, release)
}

func TestSignalDaemonNoPIDFile(t *testing.T) {
	t.Parallel()

	err := signalDaemon(filepath.Join(t.TempDir(), "nonexistent.pid"), syscall.SIGHUP)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no running daemon")
}

func TestSignalDaemonStalePIDFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "filesetd.pid")
	require.NoError(t, os.WriteFile(path, []byte("999999999\n"), 0o644))

	err := signalDaemon(path, syscall.SIGHUP)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not running")

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}
