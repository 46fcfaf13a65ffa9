package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const (
	pidFilePermissions = 0o644
	pidDirPermissions  = 0o755
)

// acquirePIDFile writes the current process ID to path under an exclusive
// flock, so a second filesetd pointed at the same storage_path fails fast
// instead of racing the first one's snapshot writes. The returned release
// func removes the file and drops the lock.
func acquirePIDFile(path string) (release func(), err error) {
	if path == "" {
		return nil, fmt.Errorf("filesetd: PID file path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), pidDirPermissions); err != nil {
		return nil, fmt.Errorf("filesetd: creating PID file directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, pidFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("filesetd: opening PID file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		return nil, fmt.Errorf("filesetd: another instance is already running against this storage_path (could not lock %s)", path)
	}

	if err := f.Truncate(0); err != nil {
		f.Close()

		return nil, fmt.Errorf("filesetd: truncating PID file: %w", err)
	}

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		f.Close()

		return nil, fmt.Errorf("filesetd: writing PID file: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()

		return nil, fmt.Errorf("filesetd: syncing PID file: %w", err)
	}

	return func() {
		os.Remove(path)
		f.Close()
	}, nil
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("filesetd: reading PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("filesetd: invalid PID in %s: %w", path, err)
	}

	return pid, nil
}

// signalDaemon reads the PID from pidPath and delivers sig to it, removing
// the file if the recorded process is no longer alive.
func signalDaemon(pidPath string, sig syscall.Signal) error {
	pid, err := readPIDFile(pidPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("filesetd: no running daemon found (no PID file at %s)", pidPath)
		}

		return err
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("filesetd: finding process %d: %w", pid, err)
	}

	if err := proc.Signal(syscall.Signal(0)); err != nil {
		os.Remove(pidPath)

		return fmt.Errorf("filesetd: daemon (PID %d) is not running (stale PID file removed)", pid)
	}

	if err := proc.Signal(sig); err != nil {
		return fmt.Errorf("filesetd: signaling daemon (PID %d): %w", pid, err)
	}

	return nil
}
