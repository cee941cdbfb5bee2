package events

import (
	"sync"
	"time"

	"prwatch/pkg/logging"
)

const subscriberBufferSize = 100

// Bus fans events out to subscribers. Publishing never blocks: a subscriber
// that cannot keep up has events dropped rather than stalling a watcher.
type Bus struct {
	mu          sync.RWMutex
	subscribers []chan Event
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe returns a channel receiving all future events.
func (b *Bus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBufferSize)
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Publish delivers an event to all subscribers.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	subscribers := make([]chan Event, len(b.subscribers))
	copy(subscribers, b.subscribers)
	b.mu.RUnlock()

	for _, subscriber := range subscribers {
		select {
		case subscriber <- event:
		default:
			// Don't block a watcher on a slow subscriber.
			logging.Debug("Events", "Subscriber blocked, dropping %s event for %s", event.Kind, event.Repository)
		}
	}
}

// Close closes all subscriber channels. Publish must not be called after
// Close.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, subscriber := range b.subscribers {
		close(subscriber)
	}
	b.subscribers = nil
}
