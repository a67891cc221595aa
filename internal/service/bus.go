package service

import "sync"

// Event resources.
const (
	ResourceBuildings = "buildings"
	ResourceLinks     = "links"
	ResourceCampuses  = "campuses"
)

// Event is a change to campus data.
type Event struct {
	Resource string // ResourceBuildings, ResourceLinks, ResourceCampuses
	Action   string // "created", "updated", "deleted"
	ID       string // feature or preset ID
	Origin   string // session that caused the change, if any
}

// EventBus is a fan-out pub/sub for change events. Every open map session
// subscribes so edits made in one browser show up in the others.
type EventBus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[chan Event]struct{})}
}

// Publish sends an event to all subscribers without blocking. Subscribers
// whose buffer is full miss the event.
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe returns a buffered channel that receives events.
func (b *EventBus) Subscribe() chan Event {
	ch := make(chan Event, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *EventBus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Subscribers returns the number of open subscriptions.
func (b *EventBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
