// Package notify implements the notify server's per-user SSE fan-out: a
// concurrent channel registry keyed by user id, a chat-membership projection
// used to route fan-out to the right recipients, and the translation from
// inbound domain/realtime events to named outbound SSE frames.
package notify

import (
	"sync"

	"github.com/rs/zerolog"
)

// Hub is the central per-user channel registry. It owns one Subscription per
// connected user; reconnecting displaces the previous one, matching the
// "idempotency on user session" requirement (a new channel always replaces
// the old one rather than the two coexisting).
type Hub struct {
	mu     sync.RWMutex
	subs   map[int64]*Subscription
	buffer int
	log    zerolog.Logger
}

// NewHub creates a Hub whose per-user channel buffer holds bufferSize pending
// frames before the subscriber is dropped as too slow to keep up.
func NewHub(bufferSize int, logger zerolog.Logger) *Hub {
	return &Hub{
		subs:   make(map[int64]*Subscription),
		buffer: bufferSize,
		log:    logger.With().Str("component", "notify.hub").Logger(),
	}
}

// Register creates a new Subscription for userID, displacing and closing any
// existing one for the same user.
func (h *Hub) Register(userID int64) *Subscription {
	sub := newSubscription(userID, h.buffer, h.log)

	h.mu.Lock()
	if existing, ok := h.subs[userID]; ok {
		h.log.Debug().Int64("user_id", userID).Msg("displacing existing SSE subscription")
		existing.close()
	}
	h.subs[userID] = sub
	h.mu.Unlock()

	h.log.Debug().Int64("user_id", userID).Int("total", h.Count()).Msg("SSE subscription registered")
	return sub
}

// Unregister removes sub from the registry if it is still the current
// subscription for its user (a displaced subscription unregistering itself
// on disconnect must not clobber its replacement).
func (h *Hub) Unregister(sub *Subscription) {
	h.mu.Lock()
	if current, ok := h.subs[sub.userID]; ok && current == sub {
		delete(h.subs, sub.userID)
	}
	h.mu.Unlock()
	sub.close()
}

// Count returns the number of currently registered subscriptions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// OnlineUserIDs returns the user ids with a live subscription.
func (h *Hub) OnlineUserIDs() []int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]int64, 0, len(h.subs))
	for id := range h.subs {
		ids = append(ids, id)
	}
	return ids
}

// Send delivers frame to userID's subscription if one is registered. It is a
// no-op if the user has no live connection.
func (h *Hub) Send(userID int64, frame Frame) {
	h.mu.RLock()
	sub, ok := h.subs[userID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	sub.enqueue(frame)
}

// Broadcast delivers frame to every userID in recipients.
func (h *Hub) Broadcast(recipients []int64, frame Frame) {
	for _, userID := range recipients {
		h.Send(userID, frame)
	}
}
