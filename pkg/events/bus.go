// ABOUTME: Instance-owned publish/subscribe bus for sync triggers and notifications
// ABOUTME: Event names are the wire contract shared with the rest of the app
package events

import (
	"sync"

	"github.com/google/uuid"
)

// Event is the name of a bus event
type Event string

const (
	// SyncNow requests an immediate sync run
	SyncNow Event = "timeSync:syncNow"
	// SettingsSaved reschedules the timer and requests a run
	SettingsSaved Event = "settingsSaved"
	// StorageChanged reports a settings change made by another window
	StorageChanged Event = "storage"
	// Updated fires after every sync run, successful or not
	Updated Event = "timeSync:updated"
)

// Message is delivered to subscribers
type Message struct {
	Event Event
	// Key is the storage key for StorageChanged, empty otherwise
	Key string
}

// Handler receives bus messages
type Handler func(Message)

// Bus fans published messages out to subscribers
type Bus struct {
	mu       sync.RWMutex
	handlers map[Event]map[string]Handler
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[Event]map[string]Handler),
	}
}

// Subscribe registers h for ev and returns a function that removes it.
// The returned function is safe to call more than once.
func (b *Bus) Subscribe(ev Event, h Handler) (unsubscribe func()) {
	id := uuid.New().String()

	b.mu.Lock()
	if b.handlers[ev] == nil {
		b.handlers[ev] = make(map[string]Handler)
	}
	b.handlers[ev][id] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[ev], id)
	}
}

// Publish delivers msg synchronously to every current subscriber of its event
func (b *Bus) Publish(msg Message) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[msg.Event]))
	for _, h := range b.handlers[msg.Event] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(msg)
	}
}

// Emit publishes an event with no key
func (b *Bus) Emit(ev Event) {
	b.Publish(Message{Event: ev})
}

// Subscribers returns how many handlers are registered for ev
func (b *Bus) Subscribers(ev Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[ev])
}
