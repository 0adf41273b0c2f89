package telemetry

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a reconciliation notification delivered to in-process subscribers.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// RunID is the associated run ID, if applicable.
	RunID string `json:"run_id,omitempty"`

	// Path is the resource path, if applicable.
	Path string `json:"path,omitempty"`

	// Attribute is the state attribute, if applicable.
	Attribute string `json:"attribute,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants.
const (
	EventTypeRunStarted      = "run.started"
	EventTypeRunCompleted    = "run.completed"
	EventTypeResourceChanged = "resource.changed"
	EventTypeResourceFailed  = "resource.failed"
	EventTypeDriftDetected   = "drift.detected"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be delivered.
type EventFilter func(event Event) bool

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// EventPublisher fans events out to subscribers synchronously, in
// subscription order.
type EventPublisher struct {
	mu          sync.RWMutex
	subscribers []subscriberEntry
}

// NewEventPublisher creates a publisher with no subscribers.
func NewEventPublisher() *EventPublisher {
	return &EventPublisher{}
}

// Subscribe registers fn for events accepted by filter. A nil filter accepts
// every event.
func (p *EventPublisher) Subscribe(fn EventSubscriber, filter EventFilter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers = append(p.subscribers, subscriberEntry{subscriber: fn, filter: filter})
}

// SubscribeToType registers fn for a single event type.
func (p *EventPublisher) SubscribeToType(eventType string, fn EventSubscriber) {
	p.Subscribe(fn, func(e Event) bool { return e.Type == eventType })
}

// Publish delivers event, filling in its ID and timestamp when unset.
func (p *EventPublisher) Publish(event Event) {
	if p == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	p.mu.RLock()
	subs := make([]subscriberEntry, len(p.subscribers))
	copy(subs, p.subscribers)
	p.mu.RUnlock()

	for _, s := range subs {
		if s.filter == nil || s.filter(event) {
			s.subscriber(event)
		}
	}
}
