package delivery

import (
	"context"
	"sync"
	"time"
)

// ConnState is the liveness state of one client connection.
type ConnState int

const (
	// StateConnected means the peer is live and deliverable.
	StateConnected ConnState = iota
	// StateDegraded means the heartbeat is overdue but the transport has not
	// reported a close yet.
	StateDegraded
	// StateDisconnected means the transport reported a close; messages queue
	// until the same logical client reconnects.
	StateDisconnected
)

// String returns a human-readable representation of the state.
func (s ConnState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Connection tracks one client's liveness bookkeeping. All fields are guarded
// by the owning registry's lock.
type Connection struct {
	ClientID        string
	ConnectedAt     time.Time
	LastHeartbeatAt time.Time
	State           ConnState
	BackoffAttempts int
	MessageCount    int64

	stopHeartbeat context.CancelFunc
}

// ConnectionInfo is a read-only snapshot of a Connection.
type ConnectionInfo struct {
	ClientID        string
	ConnectedAt     time.Time
	LastHeartbeatAt time.Time
	State           ConnState
	BackoffAttempts int
	MessageCount    int64
}

// registry owns the clientID to Connection map. It is constructed once per
// layer instance and never shared across instances.
type registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

func newRegistry() *registry {
	return &registry{conns: make(map[string]*Connection)}
}

// connect registers a new connection, or revives a disconnected one for the
// same logical client identity. It reports whether this was a reconnection.
func (r *registry) connect(clientID string, stop context.CancelFunc) (reconnected bool) {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.conns[clientID]; ok {
		if prev.stopHeartbeat != nil {
			prev.stopHeartbeat()
		}
		reconnected = prev.State == StateDisconnected
	}
	r.conns[clientID] = &Connection{
		ClientID:        clientID,
		ConnectedAt:     now,
		LastHeartbeatAt: now,
		State:           StateConnected,
		stopHeartbeat:   stop,
	}
	return reconnected
}

// disconnect marks the connection closed by the transport and stops its
// heartbeat. The entry is retained so queued messages have an owner until the
// client returns.
func (r *registry) disconnect(clientID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[clientID]
	if !ok || c.State == StateDisconnected {
		return false
	}
	if c.stopHeartbeat != nil {
		c.stopHeartbeat()
		c.stopHeartbeat = nil
	}
	c.State = StateDisconnected
	return true
}

// pong records a heartbeat acknowledgment: liveness timestamp refreshed,
// backoff attempts reset, degraded connections promoted back to connected.
// It reports whether the connection recovered from degraded.
func (r *registry) pong(clientID string) (recovered, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, found := r.conns[clientID]
	if !found || c.State == StateDisconnected {
		return false, false
	}
	c.LastHeartbeatAt = time.Now()
	c.BackoffAttempts = 0
	if c.State == StateDegraded {
		c.State = StateConnected
		return true, true
	}
	return false, true
}

// degradeIfOverdue transitions connected to degraded when the heartbeat is
// older than timeout, bumping the backoff attempt counter. Returns the
// attempt count and whether a transition happened.
func (r *registry) degradeIfOverdue(clientID string, timeout time.Duration) (attempts int, degraded bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[clientID]
	if !ok || c.State != StateConnected {
		return 0, false
	}
	if time.Since(c.LastHeartbeatAt) <= timeout {
		return c.BackoffAttempts, false
	}
	c.State = StateDegraded
	c.BackoffAttempts++
	return c.BackoffAttempts, true
}

// isConnected reports whether the client is currently deliverable.
func (r *registry) isConnected(clientID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[clientID]
	return ok && c.State == StateConnected
}

// countDelivered bumps the per-connection delivered counter.
func (r *registry) countDelivered(clientID string, n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[clientID]; ok {
		c.MessageCount += n
	}
}

// snapshot returns a point-in-time copy of every known connection.
func (r *registry) snapshot() []ConnectionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ConnectionInfo, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, ConnectionInfo{
			ClientID:        c.ClientID,
			ConnectedAt:     c.ConnectedAt,
			LastHeartbeatAt: c.LastHeartbeatAt,
			State:           c.State,
			BackoffAttempts: c.BackoffAttempts,
			MessageCount:    c.MessageCount,
		})
	}
	return out
}

// get returns a snapshot of one connection.
func (r *registry) get(clientID string) (ConnectionInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[clientID]
	if !ok {
		return ConnectionInfo{}, false
	}
	return ConnectionInfo{
		ClientID:        c.ClientID,
		ConnectedAt:     c.ConnectedAt,
		LastHeartbeatAt: c.LastHeartbeatAt,
		State:           c.State,
		BackoffAttempts: c.BackoffAttempts,
		MessageCount:    c.MessageCount,
	}, true
}

// clear stops every heartbeat and empties the registry.
func (r *registry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conns {
		if c.stopHeartbeat != nil {
			c.stopHeartbeat()
		}
	}
	r.conns = make(map[string]*Connection)
}
