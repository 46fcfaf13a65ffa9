package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dyule/crdt-fileset/internal/snapshot"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the replica's tracked files from its last saved snapshot",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	cfg := cc.Cfg

	state, ok, err := snapshot.Load(cfg.StoragePath)
	if err != nil {
		return fmt.Errorf("filesetd: status: %w", err)
	}

	if !ok {
		statusf(flagQuiet, "no snapshot at %s yet\n", cfg.StoragePath)

		return nil
	}

	headers := []string{"SITE", "ID", "PATH", "SIZE"}
	rows := make([][]string, 0, len(state.Files))

	for _, f := range state.Files {
		path := filepath.Join(append(append([]string(nil), f.FilenameComponents[:max(0, len(f.FilenameComponents)-1)]...), f.PrintedFilename)...)

		size := int64(0)
		if info, err := os.Stat(filepath.Join(cfg.SyncRoot, path)); err == nil {
			size = info.Size()
		}

		rows = append(rows, []string{
			fmt.Sprintf("%d", f.Site),
			fmt.Sprintf("%d", f.ID),
			path,
			humanSize(size),
		})
	}

	printTable(os.Stdout, headers, rows)
	statusf(flagQuiet, "%d files, last_timestamp=%d last_id=%d\n", len(state.Files), state.LastTimestamp, state.LastID)

	return nil
}
