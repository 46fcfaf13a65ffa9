package transport

import (
	"context"
	"fmt"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Peer wraps one WebSocket connection to another replica's daemon and
// moves WireOperation values across it.
type Peer struct {
	conn *websocket.Conn
	addr string
}

// Dial opens a Peer connection to a daemon listening at url (e.g.
// "ws://host:port/sync").
func Dial(ctx context.Context, url string) (*Peer, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", url, err)
	}

	return &Peer{conn: conn, addr: url}, nil
}

// Accept upgrades an already-accepted *websocket.Conn (from Server) into a
// Peer.
func Accept(conn *websocket.Conn, addr string) *Peer {
	return &Peer{conn: conn, addr: addr}
}

// Addr identifies the peer for logging.
func (p *Peer) Addr() string {
	return p.addr
}

// Send writes one operation to the peer.
func (p *Peer) Send(ctx context.Context, op WireOperation) error {
	if err := wsjson.Write(ctx, p.conn, op); err != nil {
		return fmt.Errorf("transport: send to %s: %w", p.addr, err)
	}

	return nil
}

// Receive blocks for the next operation from the peer.
func (p *Peer) Receive(ctx context.Context) (WireOperation, error) {
	var op WireOperation

	if err := wsjson.Read(ctx, p.conn, &op); err != nil {
		return WireOperation{}, fmt.Errorf("transport: receive from %s: %w", p.addr, err)
	}

	return op, nil
}

// Close closes the underlying connection with a normal closure code.
func (p *Peer) Close() error {
	return p.conn.Close(websocket.StatusNormalClosure, "closing")
}
