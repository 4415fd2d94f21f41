package delivery

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bft-labs/relayvault/internal/domain"
	"github.com/bft-labs/relayvault/internal/ports"
	"github.com/rs/zerolog"
)

// Default tuning values, overridable via Options.
const (
	DefaultHeartbeatInterval   = 25 * time.Second
	DefaultHeartbeatTimeout    = 60 * time.Second
	DefaultMaxQueuePerClient   = 100
	DefaultMessageTTL          = 5 * time.Minute
	DefaultCleanupInterval     = time.Minute
	DefaultInitialBackoff      = time.Second
	DefaultBackoffMultiplier   = 2.0
	DefaultMaxBackoff          = 30 * time.Second
	DefaultShutdownFlushWindow = 5 * time.Second
)

// Options configures a Layer. Zero-valued tuning fields take the package
// defaults; invalid values fail construction with ErrInvalidConfig.
type Options struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	MaxQueuePerClient int
	MessageTTL        time.Duration
	CleanupInterval   time.Duration

	InitialBackoff    time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration

	// Fallback thresholds; zero disables the respective check.
	FallbackHeartbeatFailures int
	FallbackQueueDepth        int

	ShutdownFlushWindow time.Duration

	Logger zerolog.Logger
}

func (o *Options) validate() error {
	if o.HeartbeatInterval < 0 || o.HeartbeatTimeout < 0 || o.MessageTTL < 0 ||
		o.CleanupInterval < 0 || o.InitialBackoff < 0 || o.MaxBackoff < 0 ||
		o.MaxQueuePerClient < 0 {
		return fmt.Errorf("%w: negative tuning value", domain.ErrInvalidConfig)
	}
	if o.BackoffMultiplier != 0 && o.BackoffMultiplier < 1 {
		return fmt.Errorf("%w: backoff multiplier must be >= 1", domain.ErrInvalidConfig)
	}
	if o.HeartbeatInterval == 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.HeartbeatTimeout == 0 {
		o.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if o.MaxQueuePerClient == 0 {
		o.MaxQueuePerClient = DefaultMaxQueuePerClient
	}
	if o.MessageTTL == 0 {
		o.MessageTTL = DefaultMessageTTL
	}
	if o.CleanupInterval == 0 {
		o.CleanupInterval = DefaultCleanupInterval
	}
	if o.InitialBackoff == 0 {
		o.InitialBackoff = DefaultInitialBackoff
	}
	if o.BackoffMultiplier == 0 {
		o.BackoffMultiplier = DefaultBackoffMultiplier
	}
	if o.MaxBackoff == 0 {
		o.MaxBackoff = DefaultMaxBackoff
	}
	if o.MaxBackoff < o.InitialBackoff {
		return fmt.Errorf("%w: max backoff below initial backoff", domain.ErrInvalidConfig)
	}
	if o.ShutdownFlushWindow == 0 {
		o.ShutdownFlushWindow = DefaultShutdownFlushWindow
	}
	return nil
}

// SendOptions tunes one Queue or Broadcast call.
type SendOptions struct {
	// TTL overrides the layer's MessageTTL for entries queued by this call.
	TTL time.Duration
	// Priority is recorded on queued entries for downstream consumers.
	Priority int
	// NoQueue skips enqueuing for offline clients; the message is simply not
	// delivered to them.
	NoQueue bool
}

// BroadcastResult summarizes one Broadcast across all known clients.
type BroadcastResult struct {
	Delivered []string
	Queued    []string
	Failed    []string
}

// Layer is the delivery reliability layer: it owns the connection registry
// and the per-client outboxes, drives heartbeat probing, and queues messages
// for offline clients with bounded size and TTL.
//
// The transport calls Connected/Disconnected/Pong as peers come and go; the
// application core calls Queue/Broadcast for outbound events.
type Layer struct {
	opts      Options
	transport ports.Transport
	reg       *registry
	queues    *queueSet
	backoff   Backoff
	log       zerolog.Logger

	delivered         atomic.Int64
	heartbeatFailures atomic.Int64
	reconnections     atomic.Int64

	mu      sync.Mutex
	root    context.Context
	cancel  context.CancelFunc
	started bool
	closed  bool
	wg      sync.WaitGroup
}

// New validates opts and builds a Layer bound to the given transport.
func New(transport ports.Transport, opts Options) (*Layer, error) {
	if transport == nil {
		return nil, fmt.Errorf("%w: transport is required", domain.ErrInvalidConfig)
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Layer{
		opts:      opts,
		transport: transport,
		reg:       newRegistry(),
		queues:    newQueueSet(opts.MaxQueuePerClient),
		backoff: Backoff{
			Initial:    opts.InitialBackoff,
			Multiplier: opts.BackoffMultiplier,
			Max:        opts.MaxBackoff,
		},
		log: opts.Logger.With().Str("component", "delivery").Logger(),
	}, nil
}

// Start begins background work: the periodic TTL sweep across all queues.
// Heartbeat loops start per connection as clients connect. Calling Start
// more than once is a no-op.
func (l *Layer) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started || l.closed {
		return
	}
	l.started = true
	l.root, l.cancel = context.WithCancel(ctx)

	l.wg.Add(1)
	go l.cleanupLoop(l.root)
}

func (l *Layer) cleanupLoop(ctx context.Context) {
	defer l.wg.Done()
	t := time.NewTicker(l.opts.CleanupInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := l.CleanupExpired(); n > 0 {
				l.log.Debug().Int("dropped", n).Msg("swept expired queued messages")
			}
		}
	}
}

// Connected registers a transport connect event for clientID. When the same
// logical client returns after a disconnect, its queued backlog is flushed
// immediately.
func (l *Layer) Connected(clientID string) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	root := l.root
	if root == nil {
		root = context.Background()
	}
	hbCtx, stop := context.WithCancel(root)
	l.wg.Add(1)
	l.mu.Unlock()

	reconnected := l.reg.connect(clientID, stop)
	go l.heartbeatLoop(hbCtx, clientID)

	if reconnected {
		l.reconnections.Add(1)
		l.log.Info().Str("client", clientID).Msg("client reconnected")
		l.flushQueued(hbCtx, clientID)
	} else {
		l.log.Info().Str("client", clientID).Msg("client connected")
	}
}

// Disconnected registers a transport close event for clientID. The client's
// queue is retained until it reconnects or entries expire.
func (l *Layer) Disconnected(clientID string) {
	if l.reg.disconnect(clientID) {
		l.log.Info().Str("client", clientID).Msg("client disconnected")
	}
}

// Pong records a heartbeat acknowledgment from clientID. A backlog queued
// while the connection was ailing (degraded, or a direct send failed) is
// flushed here rather than waiting for a full reconnect.
func (l *Layer) Pong(clientID string) {
	recovered, ok := l.reg.pong(clientID)
	if !ok {
		return
	}
	if recovered {
		l.log.Info().Str("client", clientID).Msg("connection recovered from degraded")
	}
	if l.QueuedFor(clientID) == 0 {
		return
	}
	l.mu.Lock()
	ctx := l.root
	l.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	l.flushQueued(ctx, clientID)
}

// Queue delivers event to clientID now if it is connected, otherwise appends
// it to the client's bounded outbox (oldest evicted on overflow).
func (l *Layer) Queue(ctx context.Context, clientID, event string, payload any, opts SendOptions) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return domain.ErrLayerClosed
	}
	l.mu.Unlock()

	if l.reg.isConnected(clientID) {
		if err := l.transport.Send(ctx, clientID, event, payload); err == nil {
			l.delivered.Add(1)
			l.reg.countDelivered(clientID, 1)
			return nil
		} else {
			l.log.Warn().Err(err).Str("client", clientID).Str("event", event).Msg("direct send failed")
		}
	}
	if opts.NoQueue {
		return fmt.Errorf("%w: client %s offline and queuing disabled", domain.ErrTransport, clientID)
	}
	l.enqueue(clientID, event, payload, opts)
	return nil
}

func (l *Layer) enqueue(clientID, event string, payload any, opts SendOptions) {
	ttl := opts.TTL
	if ttl == 0 {
		ttl = l.opts.MessageTTL
	}
	evicted := l.queues.forClient(clientID).push(QueuedMessage{
		Event:    event,
		Payload:  payload,
		QueuedAt: time.Now(),
		TTL:      ttl,
		Priority: opts.Priority,
	})
	if evicted > 0 {
		l.log.Warn().Str("client", clientID).Msg("queue full, evicted oldest message")
	}
}

// Broadcast sends event to every known client: immediate delivery for
// connected ones, queuing for the rest unless opts.NoQueue is set. One
// peer's failure never aborts the rest.
func (l *Layer) Broadcast(ctx context.Context, event string, payload any, opts SendOptions) BroadcastResult {
	var res BroadcastResult
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return res
	}
	l.mu.Unlock()

	for _, c := range l.reg.snapshot() {
		id := c.ClientID
		if c.State == StateConnected {
			if err := l.transport.Send(ctx, id, event, payload); err == nil {
				l.delivered.Add(1)
				l.reg.countDelivered(id, 1)
				res.Delivered = append(res.Delivered, id)
				continue
			} else {
				l.log.Warn().Err(err).Str("client", id).Str("event", event).Msg("broadcast send failed")
				res.Failed = append(res.Failed, id)
			}
		}
		if opts.NoQueue {
			continue
		}
		l.enqueue(id, event, payload, opts)
		res.Queued = append(res.Queued, id)
	}
	return res
}

// flushQueued drains clientID's outbox in FIFO order: expired entries are
// discarded permanently, and on a send failure the remainder is requeued so
// the backlog survives for the next attempt.
func (l *Layer) flushQueued(ctx context.Context, clientID string) {
	q, ok := l.queues.peek(clientID)
	if !ok {
		return
	}
	items := q.take()
	now := time.Now()
	sent := int64(0)
	for i, m := range items {
		if m.expired(now) {
			l.log.Debug().Str("client", clientID).Str("event", m.Event).Msg("dropped expired queued message")
			continue
		}
		if err := l.transport.Send(ctx, clientID, m.Event, m.Payload); err != nil {
			l.log.Warn().Err(err).Str("client", clientID).Int("remaining", len(items)-i).Msg("flush interrupted, requeuing remainder")
			q.requeue(items[i:])
			break
		}
		sent++
	}
	if sent > 0 {
		l.delivered.Add(sent)
		l.reg.countDelivered(clientID, sent)
		l.log.Info().Str("client", clientID).Int64("messages", sent).Msg("flushed queued messages")
	}
}

// SetFallbackThresholds retunes the fallback advice thresholds at runtime,
// typically from a config reload. Zero disables the respective check.
func (l *Layer) SetFallbackThresholds(heartbeatFailures, queueDepth int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.opts.FallbackHeartbeatFailures = heartbeatFailures
	l.opts.FallbackQueueDepth = queueDepth
}

// CleanupExpired sweeps every queue, dropping TTL-expired entries regardless
// of reconnection. Returns the number dropped.
func (l *Layer) CleanupExpired() int {
	return l.queues.sweepExpired(time.Now())
}

// Connections returns a snapshot of every known connection.
func (l *Layer) Connections() []ConnectionInfo {
	return l.reg.snapshot()
}

// ConnectionFor returns a snapshot of one client's connection.
func (l *Layer) ConnectionFor(clientID string) (ConnectionInfo, error) {
	c, ok := l.reg.get(clientID)
	if !ok {
		return ConnectionInfo{}, fmt.Errorf("%w: %s", domain.ErrUnknownClient, clientID)
	}
	return c, nil
}

// QueuedFor returns the current outbox depth for one client.
func (l *Layer) QueuedFor(clientID string) int {
	if q, ok := l.queues.peek(clientID); ok {
		return q.len()
	}
	return 0
}

// Shutdown notifies connected clients, performs a best-effort final flush
// within the configured window, stops every heartbeat and the cleanup
// sweeper, and clears the registry. Individual notification failures are
// swallowed. After Shutdown returns no background timer fires.
func (l *Layer) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	cancel := l.cancel
	l.mu.Unlock()

	flushCtx, done := context.WithTimeout(ctx, l.opts.ShutdownFlushWindow)
	defer done()

	for _, c := range l.reg.snapshot() {
		if c.State != StateConnected {
			continue
		}
		if err := l.transport.Send(flushCtx, c.ClientID, "server:shutdown", map[string]any{"reconnect": true}); err != nil {
			l.log.Debug().Err(err).Str("client", c.ClientID).Msg("shutdown notice undeliverable")
		}
		l.flushQueued(flushCtx, c.ClientID)
	}

	if cancel != nil {
		cancel()
	}
	l.reg.clear()

	waited := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(waited)
	}()
	var err error
	select {
	case <-waited:
	case <-time.After(l.opts.ShutdownFlushWindow):
		err = domain.ErrShutdownTimeout
	}

	l.queues.clear()
	l.log.Info().Msg("delivery layer shut down")
	return err
}
