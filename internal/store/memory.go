// Package store caches per-source event lists and canonical feeds in memory
// with a safety-net expiry. Entries outlive their refresh interval so a
// stalled scheduler still serves recent data, and expire eventually so stale
// data disappears rather than persisting forever.
package store

import (
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/disaster-feed-service/internal/domain"
)

// ErrNotFound is returned when a key is absent or its entry has expired.
var ErrNotFound = errors.New("no entry for key")

type eventsEntry struct {
	events    []domain.Event
	expiresAt time.Time
}

type feedEntry struct {
	feed      domain.CanonicalFeed
	expiresAt time.Time
}

// Memory is a concurrency-safe in-memory store. Writes replace entries
// wholesale under the lock, so readers never observe a half-updated value.
// Expired entries behave as missing and are reaped lazily on access.
type Memory struct {
	mu     sync.RWMutex
	clock  clockwork.Clock
	events map[string]eventsEntry
	feeds  map[string]feedEntry
}

// NewMemory creates a Memory store. Pass nil for the real clock.
func NewMemory(clock clockwork.Clock) *Memory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Memory{
		clock:  clock,
		events: make(map[string]eventsEntry),
		feeds:  make(map[string]feedEntry),
	}
}

// PutEvents stores a source-scoped event list. A ttl of zero or less means
// the entry never expires.
func (m *Memory) PutEvents(key string, events []domain.Event, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[key] = eventsEntry{events: events, expiresAt: m.expiry(ttl)}
}

// GetEvents returns the cached event list for a key.
func (m *Memory) GetEvents(key string) ([]domain.Event, error) {
	m.mu.RLock()
	entry, ok := m.events[key]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	if m.expired(entry.expiresAt) {
		m.mu.Lock()
		delete(m.events, key)
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	return entry.events, nil
}

// PutFeed stores a canonical feed under a type-scoped key.
func (m *Memory) PutFeed(key string, feed domain.CanonicalFeed, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feeds[key] = feedEntry{feed: feed, expiresAt: m.expiry(ttl)}
}

// GetFeed returns the cached canonical feed for a key.
func (m *Memory) GetFeed(key string) (domain.CanonicalFeed, error) {
	m.mu.RLock()
	entry, ok := m.feeds[key]
	m.mu.RUnlock()

	if !ok {
		return domain.CanonicalFeed{}, ErrNotFound
	}
	if m.expired(entry.expiresAt) {
		m.mu.Lock()
		delete(m.feeds, key)
		m.mu.Unlock()
		return domain.CanonicalFeed{}, ErrNotFound
	}
	return entry.feed, nil
}

func (m *Memory) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.clock.Now().Add(ttl)
}

func (m *Memory) expired(at time.Time) bool {
	return !at.IsZero() && m.clock.Now().After(at)
}
