package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventProgressDeferred = "progress_deferred"
	EventNetworkAvailable = "network_available"
	EventRunFinished      = "run_finished"
)

// ProgressDeferredPayload is published when a live progress push failed and the item was
// left for a later reconciliation run.
type ProgressDeferredPayload struct {
	ItemID    int64  `json:"item_id"`
	Kind      string `json:"kind"`
	TrackerID int64  `json:"tracker_id"`
	Reason    string `json:"reason"`
}

type NetworkAvailablePayload struct {
	Address string    `json:"address"`
	At      time.Time `json:"at"`
}

type RunFinishedPayload struct {
	RunID    string `json:"run_id"`
	Synced   int    `json:"synced"`
	Retained int    `json:"retained"`
	Failed   bool   `json:"failed"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type. Handlers run synchronously on the
// caller's goroutine and must not block.
func (b *EventBus) Publish(event *Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event. A nil bus is a no-op.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
