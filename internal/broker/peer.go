package broker

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

type Role int

const (
	RoleUnset Role = iota
	RoleProducer
	RoleConsumer
)

func (r Role) String() string {
	switch r {
	case RoleProducer:
		return "producer"
	case RoleConsumer:
		return "consumer"
	default:
		return "unset"
	}
}

// Peer is one authenticated websocket connection.
//
// Role and Meta are assigned by the peer's first setPeerStatus request and
// are only touched from the peer's own dispatch loop. Writes to the socket
// may come from other peers' loops, hence the write mutex (the websocket
// package allows at most one concurrent writer).
type Peer struct {
	ID       string
	WSConnID string

	// UserID is set for consumers only, from the verified browser session.
	UserID    int64
	HasUserID bool

	Role Role
	Meta map[string]any

	conn    *websocket.Conn
	writeMu sync.Mutex
	log     *slog.Logger
}

func newPeer(id string, conn *websocket.Conn, wsConnID string, userID int64, hasUserID bool, log *slog.Logger) *Peer {
	return &Peer{
		ID:        id,
		WSConnID:  wsConnID,
		UserID:    userID,
		HasUserID: hasUserID,
		conn:      conn,
		log:       log.With(slog.String("peer_id", id)),
	}
}

// Send encodes v as JSON and writes it as a single text frame.
func (p *Peer) Send(v any) error {
	b, err := encode(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	return p.SendRaw(b)
}

// SendRaw writes a pre-encoded text frame verbatim.
func (p *Peer) SendRaw(b []byte) error {
	p.log.Debug("send", slog.String("frame", string(b)))

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (p *Peer) Close() error {
	return p.conn.Close()
}
