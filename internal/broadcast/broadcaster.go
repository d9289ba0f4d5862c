// Package broadcast fans the normalized event stream out to every attached
// dashboard subscriber. Each subscriber owns a buffered queue so one slow
// reader cannot stall delivery to the others; ordering is preserved per
// subscriber, and new subscribers start at the current position (no backlog
// replay).
package broadcast

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/secretary/wa-bridge/internal/event"
	"github.com/secretary/wa-bridge/internal/metrics"
)

// DefaultQueueSize is the per-subscriber event queue capacity. A dashboard
// client that falls this far behind starts losing events; liveness detection
// is the transport's job, not the broadcaster's.
const DefaultQueueSize = 256

// Subscriber is one attached receiver of broadcast events. Events arrive on
// Events() in publish order. Done() is closed on detach.
type Subscriber struct {
	ID string

	ch       chan event.Event
	done     chan struct{}
	lastAck  atomic.Uint64
	lastSeen atomic.Int64
}

// Events returns the subscriber's ordered event queue.
func (s *Subscriber) Events() <-chan event.Event { return s.ch }

// Done is closed when the subscriber is detached.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Ack records the highest sequence number the remote client has confirmed.
// Best effort bookkeeping, not a durable offset.
func (s *Subscriber) Ack(seq uint64) {
	for {
		cur := s.lastAck.Load()
		if seq <= cur || s.lastAck.CompareAndSwap(cur, seq) {
			return
		}
	}
}

// LastAck returns the last acknowledged sequence number.
func (s *Subscriber) LastAck() uint64 { return s.lastAck.Load() }

// Touch refreshes the subscriber's liveness timestamp.
func (s *Subscriber) Touch() { s.lastSeen.Store(time.Now().UnixNano()) }

// LastSeen returns the time of the last liveness signal.
func (s *Subscriber) LastSeen() time.Time { return time.Unix(0, s.lastSeen.Load()) }

// Broadcaster maintains the subscriber registry and delivers every published
// event to all subscribers attached at publish time.
type Broadcaster struct {
	queueSize int

	mu   sync.RWMutex
	subs map[string]*Subscriber

	// pubMu serializes Publish so that concurrent emitters cannot interleave
	// their sends and break per-subscriber ordering.
	pubMu sync.Mutex
}

// New creates a Broadcaster with the given per-subscriber queue capacity.
// A non-positive size falls back to DefaultQueueSize.
func New(queueSize int) *Broadcaster {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Broadcaster{
		queueSize: queueSize,
		subs:      make(map[string]*Subscriber),
	}
}

// Attach registers a new subscriber positioned at "now": it receives only
// events published after this call.
func (b *Broadcaster) Attach() *Subscriber {
	sub := &Subscriber{
		ID:   uuid.New().String(),
		ch:   make(chan event.Event, b.queueSize),
		done: make(chan struct{}),
	}
	sub.Touch()

	b.mu.Lock()
	b.subs[sub.ID] = sub
	b.mu.Unlock()

	return sub
}

// Detach removes a subscriber and closes its Done channel. Calling it again
// for the same subscriber is a no-op.
func (b *Broadcaster) Detach(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()

	if ok {
		close(sub.done)
	}
}

// Publish enqueues the event for every currently attached subscriber. A
// subscriber whose queue is full loses the event (counted and logged); all
// other subscribers are unaffected.
func (b *Broadcaster) Publish(ev event.Event) {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	b.mu.RLock()
	subs := make([]*Subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	metrics.EventsPublished.WithLabelValues(string(ev.Kind)).Inc()

	for _, sub := range subs {
		select {
		case sub.ch <- ev:
		default:
			metrics.EventsDropped.Inc()
			log.Printf("broadcast: subscriber %s queue full, dropping seq=%d type=%s",
				sub.ID, ev.Seq, ev.Kind)
		}
	}
}

// Count returns the number of attached subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()
	return n
}
