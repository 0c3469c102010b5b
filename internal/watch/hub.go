// Package watch fans out document updates to editing-session subscribers.
package watch

import (
	"sync"

	"monument/api/internal/editor"
)

// Event is a single delivery to a subscriber.
type Event struct {
	// Record is the full published record. Nil when the document is gone.
	Record *editor.Record
	// NotFound marks the terminal delivery for a removed document.
	NotFound bool
}

// Subscriber receives events for one document on behalf of one session.
type Subscriber struct {
	Events     chan Event
	SessionID  string
	DocumentID string
}

// Hub tracks document subscriptions. A session holds at most one
// subscription; subscribing again replaces the prior one.
type Hub struct {
	mu        sync.RWMutex
	subs      map[*Subscriber]bool
	bySession map[string]*Subscriber
}

func NewHub() *Hub {
	return &Hub{
		subs:      make(map[*Subscriber]bool),
		bySession: make(map[string]*Subscriber),
	}
}

// Subscribe registers a session's interest in a document, cancelling any
// subscription the session held before.
func (h *Hub) Subscribe(sessionID, documentID string) *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	if prev, ok := h.bySession[sessionID]; ok {
		delete(h.subs, prev)
		close(prev.Events)
	}

	sub := &Subscriber{
		Events:     make(chan Event, 8),
		SessionID:  sessionID,
		DocumentID: documentID,
	}
	h.subs[sub] = true
	h.bySession[sessionID] = sub
	return sub
}

// Unsubscribe removes a subscriber and closes its channel. Safe to call for
// a subscriber already replaced by a later Subscribe.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.subs[sub] {
		return
	}
	delete(h.subs, sub)
	if h.bySession[sub.SessionID] == sub {
		delete(h.bySession, sub.SessionID)
	}
	close(sub.Events)
}

// Broadcast delivers a published record to every subscriber of its document.
// Slow subscribers drop the event rather than block the publisher.
func (h *Hub) Broadcast(rec editor.Record) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if sub.DocumentID != rec.ID {
			continue
		}
		r := rec
		select {
		case sub.Events <- Event{Record: &r}:
		default:
		}
	}
}

// BroadcastNotFound delivers the terminal not-found event for a document.
func (h *Hub) BroadcastNotFound(documentID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if sub.DocumentID != documentID {
			continue
		}
		select {
		case sub.Events <- Event{NotFound: true}:
		default:
		}
	}
}

// Subscribers reports the number of active subscriptions for a document.
func (h *Hub) Subscribers(documentID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for sub := range h.subs {
		if sub.DocumentID == documentID {
			n++
		}
	}
	return n
}
