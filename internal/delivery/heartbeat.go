package delivery

import (
	"context"
	"time"
)

// heartbeatLoop runs one connection's liveness probing: every interval it
// either sends a timestamped ping or, once the last acknowledgment is older
// than the timeout, degrades the connection and notifies the peer with
// reconnection advice. The loop exits when its context is cancelled
// (disconnect or shutdown).
func (l *Layer) heartbeatLoop(ctx context.Context, clientID string) {
	defer l.wg.Done()

	t := time.NewTicker(l.opts.HeartbeatInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.heartbeatTick(ctx, clientID)
		}
	}
}

func (l *Layer) heartbeatTick(ctx context.Context, clientID string) {
	attempts, degraded := l.reg.degradeIfOverdue(clientID, l.opts.HeartbeatTimeout)
	if degraded {
		l.heartbeatFailures.Add(1)
		l.log.Warn().
			Str("client", clientID).
			Int("backoff_attempts", attempts).
			Msg("heartbeat overdue, connection degraded")
		advice := map[string]any{
			"reason":             "heartbeat timeout",
			"reconnect_delay_ms": l.backoff.Delay(attempts).Milliseconds(),
		}
		if err := l.transport.Send(ctx, clientID, "connection:degraded", advice); err != nil {
			l.log.Debug().Err(err).Str("client", clientID).Msg("degraded notice undeliverable")
		}
		return
	}

	// Degraded peers keep receiving probes: an answered ping is their way
	// back to connected without a full reconnect.
	if c, ok := l.reg.get(clientID); !ok || c.State == StateDisconnected {
		return
	}
	if err := l.transport.Ping(ctx, clientID, time.Now()); err != nil {
		l.log.Debug().Err(err).Str("client", clientID).Msg("ping failed")
	}
}
