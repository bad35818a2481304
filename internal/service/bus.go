package service

import "sync"

// Event topics.
const (
	TopicCommand = "command" // payload: scene.Command
	TopicNotice  = "notice"  // payload: Notice
)

// Event is a message fanned out to every subscriber.
type Event struct {
	Topic   string
	Payload any
}

// Notice is a user-facing notification.
type Notice struct {
	Level   string `json:"level" doc:"error or info"`
	Message string `json:"message"`
}

// EventBus is a simple fan-out pub/sub for map commands and notices.
type EventBus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[chan Event]struct{})}
}

// Publish sends an event to all subscribers (non-blocking).
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// subscriber too slow, skip
		}
	}
}

// Notify publishes a notice.
func (b *EventBus) Notify(level, msg string) {
	b.Publish(Event{Topic: TopicNotice, Payload: Notice{Level: level, Message: msg}})
}

// Subscribe returns a buffered channel that receives events.
func (b *EventBus) Subscribe() chan Event {
	ch := make(chan Event, 256)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *EventBus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
	close(ch)
}
