// Package delivery implements the reliability layer between a push-messaging
// transport and offline clients: per-connection heartbeat monitoring with a
// connected/degraded/disconnected state machine, exponential-backoff
// reconnection advice, bounded TTL outboxes flushed in order on reconnect,
// and aggregated health/fallback reporting.
//
// The layer owns its connection registry and queues exclusively; the
// transport only supplies raw send/ping primitives and feeds lifecycle events
// in through Connected, Disconnected and Pong.
package delivery
