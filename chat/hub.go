package chat

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Subscription receives every message published to one match after it was
// created. Its channel closes on Cancel or when the subscriber falls behind.
type Subscription struct {
	id      string
	matchID string
	ch      chan Message
	hub     *Hub
}

func (s *Subscription) ID() string               { return s.id }
func (s *Subscription) MatchID() string          { return s.matchID }
func (s *Subscription) Messages() <-chan Message { return s.ch }

// Cancel unregisters the subscription. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.hub.remove(s)
}

// Hub fans messages out to in-process subscribers keyed by match id.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
	}
}

func (h *Hub) Subscribe(matchID string) *Subscription {
	sub := &Subscription{
		id:      uuid.NewString(),
		matchID: matchID,
		ch:      make(chan Message, h.buffer),
		hub:     h,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[matchID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[matchID] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Deliver hands msg to every subscriber of its match without blocking. A
// subscriber whose queue is full is dropped and must re-subscribe.
func (h *Hub) Deliver(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[msg.MatchID] {
		select {
		case sub.ch <- msg:
		default:
			h.dropLocked(sub)
		}
	}
}

// Publish satisfies Publisher for the single-instance backend.
func (h *Hub) Publish(_ context.Context, msg Message) error {
	h.Deliver(msg)
	return nil
}

// Subscribers reports how many live subscriptions a match has.
func (h *Hub) Subscribers(matchID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[matchID])
}

// Close drops every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.subs {
		for sub := range set {
			h.dropLocked(sub)
		}
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(sub)
}

func (h *Hub) dropLocked(sub *Subscription) {
	set, ok := h.subs[sub.matchID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	close(sub.ch)
	if len(set) == 0 {
		delete(h.subs, sub.matchID)
	}
}
