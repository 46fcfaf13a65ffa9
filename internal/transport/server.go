package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/dyule/crdt-fileset/internal/fileset"
)

// Server accepts WebSocket connections from peer daemons, integrates every
// inbound operation into replica, and can broadcast locally produced
// operations to every connected peer.
type Server struct {
	replica    *fileset.Replica
	logger     *slog.Logger
	listenAddr string

	httpServer *http.Server

	mu    sync.Mutex
	peers map[string]*Peer
}

// NewServer builds a Server bound to listenAddr (e.g. ":7700"). It does
// not start listening until Run is called.
func NewServer(replica *fileset.Replica, listenAddr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		replica:    replica,
		logger:     logger,
		listenAddr: listenAddr,
		peers:      make(map[string]*Peer),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/sync", s.handleConn)
	mux.HandleFunc("/manifest", s.handleManifest)
	s.httpServer = &http.Server{Addr: listenAddr, Handler: mux}

	return s
}

// Run serves until ctx is canceled, then shuts the HTTP server down.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("transport listening", "addr", s.listenAddr)

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("transport: listen: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		return s.httpServer.Shutdown(context.Background())
	})

	return g.Wait()
}

func (s *Server) handleConn(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", "remote", r.RemoteAddr, "err", err)

		return
	}

	s.servePeer(r.Context(), Accept(conn, r.RemoteAddr))
}

// Connect dials addr, registers the resulting Peer for Broadcast, and
// serves its inbound operations until ctx is canceled or the connection
// drops. Callers that want an outbound session with a configured peer
// (rather than waiting for that peer to dial in) run this in its own
// goroutine.
func (s *Server) Connect(ctx context.Context, addr string) error {
	peer, err := Dial(ctx, addr)
	if err != nil {
		return err
	}

	s.servePeer(ctx, peer)

	return nil
}

// servePeer registers peer for Broadcast, reads operations from it until
// the connection drops or ctx is canceled, and deregisters it on exit.
func (s *Server) servePeer(ctx context.Context, peer *Peer) {
	s.mu.Lock()
	s.peers[peer.Addr()] = peer
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.peers, peer.Addr())
		s.mu.Unlock()
		peer.Close()
	}()

	for {
		wireOp, err := peer.Receive(ctx)
		if err != nil {
			s.logger.Info("peer disconnected", "peer", peer.Addr(), "err", err)

			return
		}

		op, err := DecodeOperation(wireOp)
		if err != nil {
			s.logger.Warn("dropping malformed operation", "peer", peer.Addr(), "err", err)

			continue
		}

		if err := s.replica.IntegrateRemote(op); err != nil {
			s.logger.Warn("integration failed", "peer", peer.Addr(), "op", op.String(), "err", err)
		}
	}
}

// Broadcast sends op to every currently connected peer, concurrently. A
// failed send to one peer is logged and does not stop the sends to the
// others; Broadcast returns an error only when op cannot be encoded.
// Peers that fail to receive it are not otherwise penalized — the next
// reconciliation pass will re-surface anything they missed.
func (s *Server) Broadcast(ctx context.Context, op fileset.Operation) error {
	wireOp, err := EncodeOperation(op)
	if err != nil {
		return err
	}

	s.mu.Lock()
	peers := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)

	for _, p := range peers {
		p := p

		g.Go(func() error {
			if err := p.Send(ctx, wireOp); err != nil {
				s.logger.Warn("broadcast failed", "peer", p.Addr(), "err", err)
			}

			return nil
		})
	}

	return g.Wait()
}
