package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// shutdownContext returns a context canceled on the first SIGINT/SIGTERM,
// giving the daemon a chance to flush the reconciler and close peer
// connections. A second signal force-exits, for a hung websocket write
// or stuck updater call.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancel(parent)
	terminate := signalChannel(syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(terminate)

		sig, ok := waitFor(terminate, ctx.Done())
		if !ok {
			return
		}

		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()

		if sig, ok := waitFor(terminate, parent.Done()); ok {
			logger.Warn("received second signal, forcing exit", "signal", sig.String())
			os.Exit(1)
		}
	}()

	return ctx
}

func signalChannel(sigs ...os.Signal) chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)

	return ch
}

// waitFor blocks until either a signal arrives on sigCh (returned with ok
// true) or done closes (ok false).
func waitFor(sigCh <-chan os.Signal, done <-chan struct{}) (os.Signal, bool) {
	select {
	case sig := <-sigCh:
		return sig, true
	case <-done:
		return nil, false
	}
}
