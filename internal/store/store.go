// Package store keeps received messages in memory, bucketed per mailbox.
// Every bucket is bounded both by age and by a per-mailbox capacity, and all
// mutations are announced on a broadcast event feed.
package store

import (
	"strings"
	"sync"
	"time"

	"github.com/nshfwz/forsaken-mail/internal/metrics"
)

// Store is a concurrent in-memory message store. Messages live at most ttl
// and each mailbox retains at most maxMessages of its newest messages.
// Expired entries are dropped lazily whenever a bucket is touched and in
// bulk by CleanupExpired.
type Store struct {
	mu          sync.Mutex
	byMailbox   map[string][]Message
	total       int
	maxMessages int
	ttl         time.Duration
	bus         *broadcaster
	metrics     metrics.Collector

	// now is replaceable in tests.
	now func() time.Time
}

// New returns an empty store. maxMessages below one is raised to one.
func New(maxMessages int, ttl time.Duration, collector metrics.Collector) *Store {
	if collector == nil {
		collector = &metrics.NoopCollector{}
	}
	return &Store{
		byMailbox:   make(map[string][]Message),
		maxMessages: max(1, maxMessages),
		ttl:         ttl,
		bus:         newBroadcaster(collector),
		metrics:     collector,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Add stores its own copy of msg under mailbox and publishes an added event.
// Zero ReceivedAt and Date fields are filled with the current time, and an
// empty Mailbox field is set from the mailbox argument.
func (s *Store) Add(mailbox string, msg Message) {
	key := normalizeKey(mailbox)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = now
	}
	if msg.Date.IsZero() {
		msg.Date = msg.ReceivedAt
	}
	if msg.Mailbox == "" {
		msg.Mailbox = key
	}
	msg.Headers = cloneHeaders(msg.Headers)

	s.byMailbox[key] = append(s.byMailbox[key], msg)
	s.total++
	s.metrics.MessageAdded()
	s.pruneMailboxLocked(key, now)
	s.updateSizeLocked()

	s.bus.publish(Event{Kind: EventAdded, Mailbox: key, MessageID: msg.ID, At: now})
}

// List returns the mailbox's live messages, newest first. The result is a
// snapshot and never nil.
func (s *Store) List(mailbox string) []Message {
	key := normalizeKey(mailbox)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneMailboxLocked(key, s.now())
	s.updateSizeLocked()

	bucket := s.byMailbox[key]
	out := make([]Message, 0, len(bucket))
	for i := len(bucket) - 1; i >= 0; i-- {
		msg := bucket[i]
		msg.Headers = cloneHeaders(msg.Headers)
		out = append(out, msg)
	}
	return out
}

// Get returns a copy of the live message with the given id in mailbox.
func (s *Store) Get(mailbox, id string) (Message, bool) {
	key := normalizeKey(mailbox)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneMailboxLocked(key, s.now())
	s.updateSizeLocked()

	bucket := s.byMailbox[key]
	for i := len(bucket) - 1; i >= 0; i-- {
		if bucket[i].ID == id {
			msg := bucket[i]
			msg.Headers = cloneHeaders(msg.Headers)
			return msg, true
		}
	}
	return Message{}, false
}

// Delete removes the message with the given id from mailbox and publishes a
// deleted event. It reports whether a message was removed.
func (s *Store) Delete(mailbox, id string) bool {
	key := normalizeKey(mailbox)

	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.byMailbox[key]
	if !ok {
		return false
	}

	removed := false
	for i, msg := range bucket {
		if msg.ID == id {
			s.byMailbox[key] = append(bucket[:i], bucket[i+1:]...)
			removed = true
			break
		}
	}
	if !removed {
		return false
	}

	s.total--
	s.metrics.MessageDeleted()
	if len(s.byMailbox[key]) == 0 {
		delete(s.byMailbox, key)
	}
	s.updateSizeLocked()

	s.bus.publish(Event{Kind: EventDeleted, Mailbox: key, MessageID: id, At: s.now()})
	return true
}

// Clear drops every message in mailbox and publishes a single cleared event
// when the mailbox was not already empty. It returns the number of removed
// messages.
func (s *Store) Clear(mailbox string) int {
	key := normalizeKey(mailbox)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := len(s.byMailbox[key])
	if removed == 0 {
		return 0
	}

	delete(s.byMailbox, key)
	s.total -= removed
	s.metrics.MailboxCleared(removed)
	s.updateSizeLocked()

	s.bus.publish(Event{Kind: EventCleared, Mailbox: key, At: s.now()})
	return removed
}

// CleanupExpired prunes every mailbox and returns the number of messages
// dropped, whether by age or by the per-mailbox cap.
func (s *Store) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	before := s.total
	for key := range s.byMailbox {
		s.pruneMailboxLocked(key, now)
	}
	s.updateSizeLocked()
	return before - s.total
}

// Len returns the number of live messages across all mailboxes. Expired
// messages that have not been pruned yet are still counted.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Subscribe registers a new receiver on the event feed. The caller must
// Cancel it when done.
func (s *Store) Subscribe() *Subscription {
	return s.bus.subscribe()
}

// Close shuts the event feed down. Stored messages remain readable; only
// the feed terminates, and every subscriber's Recv starts returning
// ErrClosed once drained.
func (s *Store) Close() {
	s.bus.close()
}

// pruneMailboxLocked drops expired messages from key's bucket, then trims
// the bucket to maxMessages by discarding its oldest entries. Empty buckets
// are removed from the map. Callers must hold s.mu.
func (s *Store) pruneMailboxLocked(key string, now time.Time) {
	bucket, ok := s.byMailbox[key]
	if !ok {
		return
	}

	cutoff := now.Add(-s.ttl)
	kept := bucket[:0]
	for _, msg := range bucket {
		if !msg.ReceivedAt.Before(cutoff) {
			kept = append(kept, msg)
		}
	}
	if over := len(kept) - s.maxMessages; over > 0 {
		kept = kept[over:]
	}

	removed := len(bucket) - len(kept)
	if removed > 0 {
		s.total -= removed
		s.metrics.MessagesPruned(removed)
	}

	if len(kept) == 0 {
		delete(s.byMailbox, key)
		return
	}
	s.byMailbox[key] = kept
}

func (s *Store) updateSizeLocked() {
	s.metrics.SetStoreSize(len(s.byMailbox), s.total)
}

func normalizeKey(mailbox string) string {
	return strings.ToLower(strings.TrimSpace(mailbox))
}

// cloneHeaders deep-copies a header map. Stored header state is never shared
// with callers; nil stays nil.
func cloneHeaders(h map[string][]string) map[string][]string {
	if h == nil {
		return nil
	}
	out := make(map[string][]string, len(h))
	for name, values := range h {
		out[name] = append([]string(nil), values...)
	}
	return out
}
