// Package fanout broadcasts regenerated canonical feeds to in-process
// subscribers, primarily the SSE stream handlers. Delivery is best effort:
// a subscriber that cannot keep up loses updates rather than stalling the
// merge path, which is acceptable because every feed snapshot supersedes the
// previous one.
package fanout

import (
	"sync"

	"github.com/google/uuid"

	"github.com/couchcryptid/disaster-feed-service/internal/domain"
)

const subscriberBuffer = 4

// Subscription is one listener on a disaster type's feed updates.
type Subscription struct {
	ID string
	Ch <-chan domain.CanonicalFeed
}

type subscriber struct {
	ch chan domain.CanonicalFeed
}

// Hub routes feed updates to subscribers keyed by disaster type.
type Hub struct {
	mu   sync.RWMutex
	subs map[domain.DisasterType]map[string]subscriber
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[domain.DisasterType]map[string]subscriber)}
}

// Subscribe registers a listener for one disaster type. The returned cancel
// function unregisters it and closes the channel; it is safe to call more
// than once.
func (h *Hub) Subscribe(t domain.DisasterType) (Subscription, func()) {
	id := uuid.NewString()
	ch := make(chan domain.CanonicalFeed, subscriberBuffer)

	h.mu.Lock()
	byID, ok := h.subs[t]
	if !ok {
		byID = make(map[string]subscriber)
		h.subs[t] = byID
	}
	byID[id] = subscriber{ch: ch}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if byID, ok := h.subs[t]; ok {
				delete(byID, id)
				if len(byID) == 0 {
					delete(h.subs, t)
				}
			}
			h.mu.Unlock()
			close(ch)
		})
	}

	return Subscription{ID: id, Ch: ch}, cancel
}

// Publish delivers a feed to every subscriber of its type without blocking.
// Subscribers with a full buffer are skipped.
func (h *Hub) Publish(feed domain.CanonicalFeed) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs[feed.DisasterType] {
		select {
		case sub.ch <- feed:
		default:
		}
	}
}

// SubscriberCount reports the number of active subscribers for a type.
func (h *Hub) SubscriberCount(t domain.DisasterType) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[t])
}
