package main

import (
	"context"
	"fmt"
	"log/slog"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dyule/crdt-fileset/internal/config"
	"github.com/dyule/crdt-fileset/internal/fileset"
	"github.com/dyule/crdt-fileset/internal/reconciler"
	"github.com/dyule/crdt-fileset/internal/transport"
	"github.com/dyule/crdt-fileset/internal/updater/sqliteupdater"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the replica daemon: watch sync_root, serve peers, and integrate their operations",
		RunE:  runDaemon,
	}
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	cfg := cc.Cfg
	logger := cc.Logger

	release, err := acquirePIDFile(pidFilePath(cfg))
	if err != nil {
		return err
	}
	defer release()

	ctx := shutdownContext(cmd.Context(), logger)

	store, err := sqliteupdater.Open(ctx, sqliteupdater.Config{
		SiteID:   cfg.SiteID,
		BasePath: cfg.SyncRoot,
		DBPath:   contentDBPath(cfg),
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("filesetd: opening content store: %w", err)
	}
	defer store.Close()

	replica, err := fileset.Open(fileset.Config{
		SiteID:      cfg.SiteID,
		StoragePath: cfg.StoragePath,
		TieBreak:    tieBreakMode(cfg.MetadataTieBreak),
		Logger:      logger,
	}, store)
	if err != nil {
		return fmt.Errorf("filesetd: opening replica: %w", err)
	}

	server := transport.NewServer(replica, cfg.ListenAddress, logger)

	watcher, err := newWatcher(cfg.SyncRoot, replica, server, logger)
	if err != nil {
		return fmt.Errorf("filesetd: starting watcher: %w", err)
	}
	defer watcher.Close()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error { return watcher.Run(gctx) })

	rc := reconciler.New(replica, logger)

	for _, peer := range cfg.Peers {
		peer := peer

		g.Go(func() error {
			if cfg.ReconcileOnStartup {
				reconcileWithPeer(gctx, rc, peer.Address, logger)
			}

			logger.Info("connecting to peer", "name", peer.Name, "address", peer.Address)

			if err := server.Connect(gctx, peer.Address); err != nil {
				logger.Warn("peer connection ended", "name", peer.Name, "err", err)
			}

			return nil
		})
	}

	logger.Info("filesetd ready", "site_id", cfg.SiteID, "sync_root", cfg.SyncRoot, "listen_address", cfg.ListenAddress)

	return g.Wait()
}

func reconcileWithPeer(ctx context.Context, rc *reconciler.Reconciler, peerAddr string, logger *slog.Logger) {
	manifest, err := transport.FetchManifest(ctx, peerAddr)
	if err != nil {
		logger.Warn("fetching peer manifest failed, skipping initial reconciliation", "peer", peerAddr, "err", err)

		return
	}

	ops, err := rc.Reconcile(manifest, nil)
	if err != nil {
		logger.Warn("reconciliation failed", "peer", peerAddr, "err", err)

		return
	}

	logger.Info("reconciled against peer", "peer", peerAddr, "local_operations", len(ops))
}

func tieBreakMode(m config.MetadataTieBreak) fileset.TieBreakMode {
	if m == config.TieBreakBugCompatible {
		return fileset.TieBreakBugCompatible
	}

	return fileset.TieBreakStoredAuthor
}

func contentDBPath(cfg *config.Config) string {
	if cfg.ContentDBPath != "" {
		return cfg.ContentDBPath
	}

	return cfg.StoragePath + "/content.db"
}

func newReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Send SIGHUP to a running daemon (filesetd run installs no SIGHUP handler, so the signal's default action applies)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			return signalDaemon(pidFilePath(cc.Cfg), syscall.SIGHUP)
		},
	}
}
