package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventSessionStarted   EventType = "session.started"
	EventSessionCompleted EventType = "session.completed"
	EventSessionAborted   EventType = "session.aborted"

	// Connection lifecycle.
	EventDeviceConnecting     EventType = "device.connecting"
	EventDeviceConnected      EventType = "device.connected"
	EventServiceResolved      EventType = "device.service_resolved"
	EventNotificationsEnabled EventType = "device.notifications_enabled"
	EventDeviceDisconnected   EventType = "device.disconnected"

	// Per-test lifecycle.
	EventTestStarted  EventType = "test.started"
	EventTestPassed   EventType = "test.passed"
	EventTestFailed   EventType = "test.failed"
	EventTestTimedOut EventType = "test.timeout"

	// Persistence.
	EventResultPersisted EventType = "result.persisted"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for session events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
