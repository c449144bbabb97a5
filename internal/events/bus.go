// Package events provides a typed notification bus. Subscribers (dashboards,
// log collectors) register channels and receive ledger events without
// coupling to a specific event-bus implementation.
package events

import (
	"sync"
	"time"
)

// Type identifies a ledger notification.
type Type string

const (
	// PortfolioCreated fires when a new portfolio is created
	PortfolioCreated Type = "portfolio_created"
	// PortfolioArchived fires when a portfolio is soft-closed
	PortfolioArchived Type = "portfolio_archived"
	// PortfolioDeleted fires when a portfolio and its history are removed
	PortfolioDeleted Type = "portfolio_deleted"
	// PositionUpdated fires after every trade execution attempt
	PositionUpdated Type = "position_updated"
	// SnapshotCreated fires when a snapshot is appended to the history
	SnapshotCreated Type = "snapshot_created"
	// SnapshotDeleted fires when retention cleanup removes snapshots
	SnapshotDeleted Type = "snapshot_deleted"
	// ValueChanged fires when a snapshot's value change exceeds the threshold
	ValueChanged Type = "value_changed"
	// SnapshotTrigger fires on the auto-snapshot interval; the manager is
	// responsible for actually capturing state in response
	SnapshotTrigger Type = "snapshot_trigger"
)

// Event is one notification delivered to subscribers.
type Event struct {
	Type        Type                   `json:"type"`
	PortfolioID string                 `json:"portfolioId,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
}

// Bus fans events out to registered subscribers. Delivery is non-blocking:
// a subscriber that cannot keep up drops events rather than stalling the
// ledger write path.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber and returns its channel together with
// an unsubscribe function. The buffer bounds how far a slow consumer may lag.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SubscriberCount returns the number of registered subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
