package delivery

import (
	"sync"
	"time"
)

// QueuedMessage is one entry in a client's outbox.
type QueuedMessage struct {
	Event    string
	Payload  any
	QueuedAt time.Time
	TTL      time.Duration
	Priority int
}

// expired reports whether the message has outlived its TTL at time now.
func (m QueuedMessage) expired(now time.Time) bool {
	return m.TTL > 0 && now.Sub(m.QueuedAt) > m.TTL
}

// clientQueue is one client's bounded FIFO outbox. It has its own lock so a
// slow or failing client never blocks queue operations for any other client.
type clientQueue struct {
	mu    sync.Mutex
	items []QueuedMessage
	max   int
}

// push appends a message, evicting the oldest entry first when the queue is
// at capacity. It reports how many entries were evicted (0 or 1).
func (q *clientQueue) push(m QueuedMessage) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	evicted := 0
	if q.max > 0 && len(q.items) >= q.max {
		q.items = q.items[1:]
		evicted = 1
	}
	q.items = append(q.items, m)
	return evicted
}

// take removes and returns all entries, preserving FIFO order.
func (q *clientQueue) take() []QueuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// requeue puts undelivered entries back at the front, ahead of anything
// queued while a flush was in flight.
func (q *clientQueue) requeue(items []QueuedMessage) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	merged := make([]QueuedMessage, 0, len(items)+len(q.items))
	merged = append(merged, items...)
	merged = append(merged, q.items...)
	if q.max > 0 && len(merged) > q.max {
		merged = merged[len(merged)-q.max:]
	}
	q.items = merged
}

// sweepExpired drops entries older than their TTL and returns the drop count.
func (q *clientQueue) sweepExpired(now time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.items[:0]
	dropped := 0
	for _, m := range q.items {
		if m.expired(now) {
			dropped++
			continue
		}
		kept = append(kept, m)
	}
	q.items = kept
	return dropped
}

func (q *clientQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// queueSet owns the per-client outboxes. The set lock only guards the map;
// each queue serializes its own contents.
type queueSet struct {
	mu     sync.RWMutex
	queues map[string]*clientQueue
	max    int
}

func newQueueSet(maxPerClient int) *queueSet {
	return &queueSet{queues: make(map[string]*clientQueue), max: maxPerClient}
}

// forClient returns the client's queue, creating it on first use.
func (s *queueSet) forClient(clientID string) *clientQueue {
	s.mu.RLock()
	q, ok := s.queues[clientID]
	s.mu.RUnlock()
	if ok {
		return q
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok = s.queues[clientID]; ok {
		return q
	}
	q = &clientQueue{max: s.max}
	s.queues[clientID] = q
	return q
}

// peek returns the client's queue without creating one.
func (s *queueSet) peek(clientID string) (*clientQueue, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.queues[clientID]
	return q, ok
}

// totalQueued returns the aggregate depth across all clients.
func (s *queueSet) totalQueued() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, q := range s.queues {
		total += q.len()
	}
	return total
}

// sweepExpired drops TTL-expired entries across every queue.
func (s *queueSet) sweepExpired(now time.Time) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dropped := 0
	for _, q := range s.queues {
		dropped += q.sweepExpired(now)
	}
	return dropped
}

// clear drops every queue.
func (s *queueSet) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues = make(map[string]*clientQueue)
}
