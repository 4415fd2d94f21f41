package ports

import (
	"context"
	"time"
)

// Transport is the push-messaging primitive the delivery layer drives.
// Implementations handle framing and the wire protocol; the delivery layer
// handles liveness, queuing and retry bookkeeping on top.
//
// Connection lifecycle flows the other way: the transport calls the layer's
// Connected/Disconnected/Pong methods as peers come and go.
type Transport interface {
	// Send pushes one event to a single peer. An error means this peer's send
	// failed; it must not affect any other peer.
	Send(ctx context.Context, clientID, event string, payload any) error

	// Ping sends a liveness probe carrying the emission timestamp.
	Ping(ctx context.Context, clientID string, sentAt time.Time) error
}
