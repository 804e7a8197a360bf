// Package broker fans committed state-change events out to live
// subscribers. Each subscriber owns a bounded delivery queue; a full
// queue drops the oldest buffered event and marks the stream so the
// client knows to re-fetch authoritative state. Publishing never blocks
// on a slow or disconnected subscriber.
package broker

import (
	"sync"
	"sync/atomic"

	"github.com/dmarsh/overseer/internal/types"
)

// DefaultQueueSize is the per-subscriber delivery queue depth.
const DefaultQueueSize = 64

// Broker is the in-memory subscription registry. Subscriptions are
// ephemeral; they live exactly as long as the client connection that
// registered them.
type Broker struct {
	queueSize int

	mu     sync.RWMutex
	nextID int64
	subs   map[int64]*Subscriber
}

// New creates a broker. queueSize <= 0 uses DefaultQueueSize.
func New(queueSize int) *Broker {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Broker{
		queueSize: queueSize,
		subs:      make(map[int64]*Subscriber),
	}
}

// Subscriber is a live registration of interest in session events.
type Subscriber struct {
	id        int64
	sessionID string // empty = all sessions
	broker    *Broker

	sendMu  sync.Mutex
	ch      chan types.Event
	closed  bool
	dropped atomic.Bool
}

// Subscribe registers interest in one session's events, or in all
// sessions when sessionID is empty.
func (b *Broker) Subscribe(sessionID string) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscriber{
		id:        b.nextID,
		sessionID: sessionID,
		broker:    b,
		ch:        make(chan types.Event, b.queueSize),
	}
	b.subs[sub.id] = sub
	return sub
}

// Publish delivers events to every matching subscriber. Callers publish
// a session's events in the order they were committed to the store; the
// broker preserves that order per subscriber.
func (b *Broker) Publish(events ...types.Event) {
	if len(events) == 0 {
		return
	}

	b.mu.RLock()
	subs := make([]*Subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, evt := range events {
		for _, sub := range subs {
			if sub.sessionID == "" || sub.sessionID == evt.SessionID {
				sub.offer(evt)
			}
		}
	}
}

// Count returns the number of live subscriptions.
func (b *Broker) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// CloseAll closes every subscription. Used on daemon shutdown.
func (b *Broker) CloseAll() {
	b.mu.Lock()
	subs := make([]*Subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[int64]*Subscriber)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.closeChan()
	}
}

// offer enqueues an event without ever blocking. On overflow the oldest
// buffered event is discarded and the stream is marked as lossy.
func (s *Subscriber) offer(evt types.Event) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.closed {
		return
	}

	select {
	case s.ch <- evt:
		return
	default:
	}

	// Queue full: drop the oldest so the newest state wins.
	select {
	case <-s.ch:
		s.dropped.Store(true)
	default:
	}
	select {
	case s.ch <- evt:
	default:
		s.dropped.Store(true)
	}
}

// ID returns the subscription id.
func (s *Subscriber) ID() int64 {
	return s.id
}

// SessionID returns the subscribed session scope, empty for all sessions.
func (s *Subscriber) SessionID() string {
	return s.sessionID
}

// Events returns the delivery channel. It is closed when the
// subscription is closed.
func (s *Subscriber) Events() <-chan types.Event {
	return s.ch
}

// TakeDropped reports whether events were dropped since the last call
// and clears the flag. Clients that see true should re-fetch
// authoritative state via the request/response protocol.
func (s *Subscriber) TakeDropped() bool {
	return s.dropped.Swap(false)
}

// MarkDropped flags the stream as lossy. Used by transports that lose a
// frame after it left the queue.
func (s *Subscriber) MarkDropped() {
	s.dropped.Store(true)
}

// Close removes the subscription from the broker and closes the
// delivery channel. Safe to call more than once.
func (s *Subscriber) Close() {
	s.broker.mu.Lock()
	delete(s.broker.subs, s.id)
	s.broker.mu.Unlock()

	s.closeChan()
}

func (s *Subscriber) closeChan() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
