package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dyule/crdt-fileset/internal/config"
)

var version = "dev"

var (
	flagConfigPath string
	flagQuiet      bool
	flagDebug      bool
)

// CLIContext bundles the loaded config and logger for a command's RunE.
type CLIContext struct {
	Cfg    *config.Config
	Logger *slog.Logger
}

type cliContextKey struct{}

func cliContextFrom(ctx context.Context) *CLIContext {
	cc, _ := ctx.Value(cliContextKey{}).(*CLIContext)

	return cc
}

func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("BUG: CLIContext missing — PersistentPreRunE did not run")
	}

	return cc
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "filesetd",
		Short:         "Convergent file-set replica daemon",
		Long:          "filesetd runs one site's replica of a convergent, peer-to-peer synced file set.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := loadCLIContext(cmd)
			if err != nil {
				return err
			}

			cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cc))

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "/etc/filesetd/filesetd.toml", "config file path")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newReloadCmd())

	return cmd
}

func loadCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	logger := buildLogger(flagDebug, flagQuiet)

	cfg, err := config.Load(flagConfigPath, logger)
	if err != nil {
		return nil, fmt.Errorf("filesetd: %w", err)
	}

	return &CLIContext{Cfg: cfg, Logger: logger}, nil
}

func buildLogger(debug, quiet bool) *slog.Logger {
	level := slog.LevelInfo

	switch {
	case debug:
		level = slog.LevelDebug
	case quiet:
		level = slog.LevelWarn
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func pidFilePath(cfg *config.Config) string {
	return cfg.StoragePath + "/filesetd.pid"
}
