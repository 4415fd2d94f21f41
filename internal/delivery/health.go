package delivery

// HealthStatus aggregates connection and queue state for observability.
type HealthStatus struct {
	Status            string `json:"status"`
	Healthy           bool   `json:"healthy"`
	ActiveConnections int    `json:"active_connections"`
	TotalConnections  int    `json:"total_connections"`
	QueuedMessages    int    `json:"queued_messages"`
	DeliveredMessages int64  `json:"delivered_messages"`
	HeartbeatFailures int64  `json:"heartbeat_failures"`
	Reconnections     int64  `json:"reconnections"`
}

// FallbackStatus advises whether callers should switch to a non-push channel
// such as polling.
type FallbackStatus struct {
	RecommendPolling bool     `json:"recommend_polling"`
	Reasons          []string `json:"reasons,omitempty"`
}

// Health reports healthy iff at least one connection is currently connected.
func (l *Layer) Health() HealthStatus {
	hs := HealthStatus{
		QueuedMessages:    l.queues.totalQueued(),
		DeliveredMessages: l.delivered.Load(),
		HeartbeatFailures: l.heartbeatFailures.Load(),
		Reconnections:     l.reconnections.Load(),
	}
	for _, c := range l.reg.snapshot() {
		hs.TotalConnections++
		if c.State == StateConnected {
			hs.ActiveConnections++
		}
	}
	hs.Healthy = hs.ActiveConnections > 0
	if hs.Healthy {
		hs.Status = "healthy"
	} else {
		hs.Status = "degraded"
	}
	return hs
}

// Fallback recommends polling when push delivery looks unreliable: no healthy
// connections, too many heartbeat failures, or a queue backlog past the
// configured threshold.
func (l *Layer) Fallback() FallbackStatus {
	hs := l.Health()
	l.mu.Lock()
	hbThreshold := l.opts.FallbackHeartbeatFailures
	queueThreshold := l.opts.FallbackQueueDepth
	l.mu.Unlock()

	var fs FallbackStatus
	if !hs.Healthy {
		fs.Reasons = append(fs.Reasons, "no healthy connections")
	}
	if hbThreshold > 0 && hs.HeartbeatFailures > int64(hbThreshold) {
		fs.Reasons = append(fs.Reasons, "heartbeat failures over threshold")
	}
	if queueThreshold > 0 && hs.QueuedMessages > queueThreshold {
		fs.Reasons = append(fs.Reasons, "queue backlog over threshold")
	}
	fs.RecommendPolling = len(fs.Reasons) > 0
	return fs
}
