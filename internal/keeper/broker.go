package keeper

import (
	"sync"
	"time"
)

// subscriberBufferSize is the channel buffer for each event subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// Event types published by the keeper.
const (
	EventTracked     = "tracked"
	EventChecked     = "checked"
	EventRestarted   = "restarted"
	EventRescheduled = "rescheduled"
	EventExpired     = "expired"
	EventRemoved     = "removed"
	EventError       = "error"
)

// Event is one observation in a task's keepalive lifecycle.
type Event struct {
	Type    string    `json:"type"`
	TaskKey string    `json:"task_key"`
	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"time"`
}

// EventBroker streams per-task keepalive events to subscribers.
// It is safe for concurrent use.
//
// Closed topics are retained as markers so that late subscribers (those
// subscribing after a task ends) receive a closed channel instead of
// blocking forever. Each marker is a few bytes, which is acceptable for the
// expected task volume.
type EventBroker struct {
	mu     sync.Mutex
	topics map[string]*eventTopic
}

type eventTopic struct {
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewEventBroker creates a new event broker.
func NewEventBroker() *EventBroker {
	return &EventBroker{
		topics: make(map[string]*eventTopic),
	}
}

// Subscribe returns a channel receiving events for the given task key and an
// unsubscribe function. If the task has already ended (Close was called), the
// returned channel is immediately closed.
func (b *EventBroker) Subscribe(taskKey string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[taskKey]
	if !ok {
		t = &eventTopic{subs: make(map[int]chan Event)}
		b.topics[taskKey] = t
	}

	ch := make(chan Event, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish sends an event to all subscribers of the given task.
// Events are dropped for subscribers whose buffers are full.
func (b *EventBroker) Publish(taskKey string, ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[taskKey]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
			// Drop for slow subscribers to avoid blocking the poll loop.
		}
	}
}

// Close signals that no more events will be published for the given task.
// All subscriber channels are closed and future Subscribe calls return a
// closed channel.
func (b *EventBroker) Close(taskKey string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[taskKey]
	if !ok {
		// Create a closed marker so late subscribers get a closed channel.
		b.topics[taskKey] = &eventTopic{subs: make(map[int]chan Event), closed: true}
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}

// Reset clears a closed-topic marker so the key can stream events again.
// Used when a new task is tracked under a key that previously ended.
func (b *EventBroker) Reset(taskKey string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t, ok := b.topics[taskKey]; ok && t.closed {
		delete(b.topics, taskKey)
	}
}
