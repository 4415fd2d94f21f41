// Package ws implements the delivery layer's Transport port over websockets.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bft-labs/relayvault/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeTimeout   = 10 * time.Second
	maxMessageSize = 64 << 10
)

// Envelope is the wire frame for every event pushed to a peer.
type Envelope struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
	TS      int64  `json:"ts"`
}

// LifecycleSink receives connection lifecycle events from the hub. The
// delivery layer satisfies it.
type LifecycleSink interface {
	Connected(clientID string)
	Disconnected(clientID string)
	Pong(clientID string)
}

type peer struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// writeJSON serializes one envelope to the socket under the peer's write
// lock; gorilla connections allow only one concurrent writer.
func (p *peer) writeJSON(v Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return p.conn.WriteJSON(v)
}

// Hub upgrades HTTP requests to websocket connections, tracks them by client
// ID, and implements the transport Send/Ping primitives on top.
//
// Hub and the delivery layer reference each other: construct the hub first,
// pass it to delivery.New as the transport, then call SetSink with the layer
// before serving.
type Hub struct {
	sink     LifecycleSink
	upgrader websocket.Upgrader
	log      zerolog.Logger

	mu    sync.RWMutex
	peers map[string]*peer
}

// NewHub builds a hub. Call SetSink before accepting connections.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The application surface in front of this hub handles origin
			// policy; the hub itself accepts any upgrade.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log:   log.With().Str("component", "ws").Logger(),
		peers: make(map[string]*peer),
	}
}

// SetSink wires the lifecycle event receiver.
func (h *Hub) SetSink(sink LifecycleSink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sink = sink
}

func (h *Hub) lifecycleSink() LifecycleSink {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sink
}

// ServeHTTP upgrades the request and runs the connection's read loop. The
// logical client identity comes from the client_id query parameter so a
// reconnecting client reclaims its queued backlog; absent that, a fresh UUID
// is assigned.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	sink := h.lifecycleSink()
	if sink == nil {
		http.Error(w, "hub not ready", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("client", clientID).Msg("upgrade failed")
		return
	}
	conn.SetReadLimit(maxMessageSize)

	p := &peer{conn: conn}
	h.mu.Lock()
	if prev, ok := h.peers[clientID]; ok {
		prev.conn.Close()
	}
	h.peers[clientID] = p
	h.mu.Unlock()

	sink.Connected(clientID)
	h.readLoop(clientID, p, sink)
}

func (h *Hub) readLoop(clientID string, p *peer, sink LifecycleSink) {
	defer func() {
		h.mu.Lock()
		if h.peers[clientID] == p {
			delete(h.peers, clientID)
		}
		h.mu.Unlock()
		p.conn.Close()
		sink.Disconnected(clientID)
	}()

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug().Err(err).Str("client", clientID).Msg("read loop closed")
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.log.Debug().Err(err).Str("client", clientID).Msg("dropping malformed frame")
			continue
		}
		if env.Event == "heartbeat:pong" {
			sink.Pong(clientID)
		}
	}
}

// Send implements ports.Transport.
func (h *Hub) Send(ctx context.Context, clientID, event string, payload any) error {
	p, ok := h.peer(clientID)
	if !ok {
		return fmt.Errorf("%w: %s not connected", domain.ErrTransport, clientID)
	}
	env := Envelope{Event: event, Payload: payload, TS: time.Now().UnixMilli()}
	if err := p.writeJSON(env); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrTransport, clientID, err)
	}
	return nil
}

// Ping implements ports.Transport with an application-level probe so peers
// behind intermediaries that eat control frames still answer.
func (h *Hub) Ping(ctx context.Context, clientID string, sentAt time.Time) error {
	return h.Send(ctx, clientID, "heartbeat:ping", map[string]int64{"sent_at": sentAt.UnixMilli()})
}

func (h *Hub) peer(clientID string) (*peer, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.peers[clientID]
	return p, ok
}

// Close drops every open connection.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, p := range h.peers {
		p.conn.Close()
		delete(h.peers, id)
	}
}
