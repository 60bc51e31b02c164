// Package events provides a small in-process publish/subscribe channel.
// Views that render nutrition totals or task lists subscribe here instead
// of polling storage; stores publish after every persisted mutation.
package events

import (
	"sync"
	"time"
)

// Topic identifies a class of events.
type Topic string

const (
	NutritionUpdated Topic = "nutrition-updated"
	TasksUpdated     Topic = "tasks-updated"
	PlanSaved        Topic = "plan-saved"
)

// Event describes a single occurrence fanned out to subscribers.
type Event struct {
	Topic      Topic
	Metadata   map[string]any
	OccurredAt time.Time
}

// Handler receives published events.
type Handler func(Event)

// Bus fans out events to subscribers by topic. Delivery is synchronous
// and unordered; handlers must not block.
type Bus struct {
	mu   sync.Mutex
	next int
	subs map[Topic]map[int]Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Topic]map[int]Handler)}
}

// Subscribe registers fn for topic and returns an unsubscribe function.
// Callers tie the returned function to their own lifetime.
func (b *Bus) Subscribe(topic Topic, fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]Handler)
	}
	id := b.next
	b.next++
	b.subs[topic][id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[topic], id)
	}
}

// Publish delivers the event to every subscriber of its topic. A zero
// OccurredAt is filled with the current time. Handlers run outside the
// bus lock so they may subscribe or publish in turn.
func (b *Bus) Publish(event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	b.mu.Lock()
	handlers := make([]Handler, 0, len(b.subs[event.Topic]))
	for _, fn := range b.subs[event.Topic] {
		if fn != nil {
			handlers = append(handlers, fn)
		}
	}
	b.mu.Unlock()

	for _, fn := range handlers {
		fn(event)
	}
}
