package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/flowdesk/backend/internal/domain/events"
)

// EventType is an alias to the domain type
type EventType = events.EventType

// EventHandler is a function that handles an event payload
type EventHandler func(ctx context.Context, payload events.Payload) error

// PlatformEvent represents a published event
type PlatformEvent struct {
	Type      EventType      `json:"type"`
	Payload   events.Payload `json:"payload"`
	Timestamp int64          `json:"timestamp"`
}

// EventBus manages the publish-subscribe event system. Outbox delivery and
// billing hooks both fan out through it.
type EventBus struct {
	handlers map[EventType][]EventHandler
	mu       sync.RWMutex
}

// NewEventBus creates a new EventBus instance
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]EventHandler),
	}
}

// Subscribe registers a handler for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
}

// Publish publishes an event to all registered handlers in sequence.
// The first handler error aborts the fan-out and is returned to the caller
// so the outbox can retry the whole event.
func (eb *EventBus) Publish(ctx context.Context, eventType EventType, payload events.Payload) error {
	eb.mu.RLock()
	handlers := eb.handlers[eventType]
	eb.mu.RUnlock()

	if len(handlers) == 0 {
		log.Printf("⚠️ No handlers registered for event %s", eventType)
		return nil
	}

	event := PlatformEvent{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().Unix(),
	}

	for _, handler := range handlers {
		if err := handler(ctx, event.Payload); err != nil {
			return fmt.Errorf("EventBus handler error for %s: %w", eventType, err)
		}
	}

	return nil
}

// PublishAsync publishes an event asynchronously
func (eb *EventBus) PublishAsync(eventType EventType, payload events.Payload) {
	go func() {
		// Async events are decoupled from the request, so background context
		if err := eb.Publish(context.Background(), eventType, payload); err != nil {
			log.Printf("EventBus async publish error: %v", err)
		}
	}()
}

// Clear removes all handlers (useful for testing)
func (eb *EventBus) Clear() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers = make(map[EventType][]EventHandler)
}
