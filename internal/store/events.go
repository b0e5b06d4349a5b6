package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nshfwz/forsaken-mail/internal/metrics"
)

// eventBufferSize bounds each subscriber's backlog. A subscriber that falls
// further behind starts losing events and observes a LaggedError on its next
// receive.
const eventBufferSize = 1024

// EventKind names a store mutation.
type EventKind string

const (
	EventAdded   EventKind = "added"
	EventDeleted EventKind = "deleted"
	EventCleared EventKind = "cleared"
)

// Event is the record published to subscribers on every store mutation.
// MessageID is empty for cleared events.
type Event struct {
	Kind      EventKind `json:"event"`
	Mailbox   string    `json:"mailbox"`
	MessageID string    `json:"message_id,omitempty"`
	At        time.Time `json:"at"`
}

// ErrClosed is returned by Recv once the store has shut its event feed.
var ErrClosed = errors.New("event stream closed")

// LaggedError signals that the subscriber's backlog overflowed and Missed
// events were dropped. The subscriber may keep receiving; the gap is
// permanent.
type LaggedError struct {
	Missed uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("event stream lagged, %d events dropped", e.Missed)
}

// broadcaster fans events out to all current subscribers. Publishing never
// blocks: a full subscriber's event is counted against it instead of
// delivered.
type broadcaster struct {
	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	closed  bool
	metrics metrics.Collector
}

func newBroadcaster(collector metrics.Collector) *broadcaster {
	return &broadcaster{
		subs:    make(map[*Subscription]struct{}),
		metrics: collector,
	}
}

// Subscription is one receiver of the store's event feed. It observes only
// events published after it was created.
type Subscription struct {
	bus    *broadcaster
	ch     chan Event
	missed atomic.Uint64
}

func (b *broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.metrics.EventPublished()

	for sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.missed.Add(1)
			b.metrics.EventDropped()
		}
	}
}

func (b *broadcaster) subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{bus: b, ch: make(chan Event, eventBufferSize)}
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

// Recv returns the next event. If events were dropped since the previous
// call it returns a LaggedError first; buffered events remain readable.
// Once the feed is closed and drained it returns ErrClosed. A canceled
// context returns ctx.Err().
func (s *Subscription) Recv(ctx context.Context) (Event, error) {
	if missed := s.missed.Swap(0); missed > 0 {
		return Event{}, &LaggedError{Missed: missed}
	}

	select {
	case ev, ok := <-s.ch:
		if !ok {
			return Event{}, ErrClosed
		}
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Cancel detaches the subscription from the feed. It is safe to call more
// than once and after the feed is closed.
func (s *Subscription) Cancel() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	if _, ok := s.bus.subs[s]; ok {
		delete(s.bus.subs, s)
		close(s.ch)
	}
}
