package gateway

import (
	"encoding/json"
	"sync"
)

// EventHandler receives the payload of one push event.
type EventHandler func(payload json.RawMessage)

// eventBus delivers unsolicited push frames to topic subscribers. Handlers for
// a topic run in registration order against a snapshot of the listener list
// taken before dispatch begins, so handlers added or removed mid-dispatch do
// not affect the current pass. Push delivery carries no ordering guarantee
// relative to concurrent RPC responses.
type eventBus struct {
	mu       sync.Mutex
	handlers map[string][]*busEntry
}

type busEntry struct {
	fn EventHandler
}

func newEventBus() *eventBus {
	return &eventBus{handlers: map[string][]*busEntry{}}
}

// On subscribes handler to topic and returns an unsubscribe func.
func (b *eventBus) On(topic string, handler EventHandler) func() {
	if handler == nil {
		return func() {}
	}
	entry := &busEntry{fn: handler}
	b.mu.Lock()
	b.handlers[topic] = append(b.handlers[topic], entry)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			list := b.handlers[topic]
			for i, cur := range list {
				if cur == entry {
					b.handlers[topic] = append(list[:i], list[i+1:]...)
					break
				}
			}
			b.mu.Unlock()
		})
	}
}

func (b *eventBus) dispatch(topic string, payload json.RawMessage) {
	b.mu.Lock()
	snapshot := make([]*busEntry, len(b.handlers[topic]))
	copy(snapshot, b.handlers[topic])
	b.mu.Unlock()

	for _, entry := range snapshot {
		entry.fn(payload)
	}
}
