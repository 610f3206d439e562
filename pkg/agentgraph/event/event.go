// Package event is an in-process pub/sub bus. The engine publishes cost
// and workflow lifecycle events on it; subscribers (exporters, audit
// loggers, tests) consume them asynchronously.
package event

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is an immutable notification.
type Event interface {
	ID() string
	// Type is a dotted name such as "cost.recorded".
	Type() string
	Source() string
	// CorrelationID groups events belonging to one workflow execution.
	CorrelationID() string
	Timestamp() time.Time
	Data() any
}

// Metadata holds the fields shared by every event.
type Metadata struct {
	EventID       string    `json:"id"`
	EventType     string    `json:"type"`
	EventSource   string    `json:"source"`
	CorrelationID string    `json:"correlation_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// BaseEvent is an Event with a typed payload.
type BaseEvent[T any] struct {
	Meta    Metadata `json:"metadata"`
	Payload T        `json:"payload"`
}

func (e *BaseEvent[T]) ID() string            { return e.Meta.EventID }
func (e *BaseEvent[T]) Type() string          { return e.Meta.EventType }
func (e *BaseEvent[T]) Source() string        { return e.Meta.EventSource }
func (e *BaseEvent[T]) CorrelationID() string { return e.Meta.CorrelationID }
func (e *BaseEvent[T]) Timestamp() time.Time  { return e.Meta.Timestamp }
func (e *BaseEvent[T]) Data() any             { return e.Payload }

// TypedData returns the payload without a type assertion.
func (e *BaseEvent[T]) TypedData() T { return e.Payload }

// MarshalJSON encodes metadata and payload.
func (e *BaseEvent[T]) MarshalJSON() ([]byte, error) {
	type alias BaseEvent[T]
	return json.Marshal((*alias)(e))
}

// Option configures event creation.
type Option func(*Metadata)

// WithCorrelationID sets the correlation ID. Defaults to the event ID.
func WithCorrelationID(id string) Option {
	return func(m *Metadata) {
		m.CorrelationID = id
	}
}

// WithTimestamp overrides the creation time. A zero time is ignored.
func WithTimestamp(t time.Time) Option {
	return func(m *Metadata) {
		if !t.IsZero() {
			m.Timestamp = t
		}
	}
}

// New creates an event with a fresh UUID.
func New[T any](eventType, source string, payload T, opts ...Option) *BaseEvent[T] {
	meta := Metadata{
		EventID:     uuid.NewString(),
		EventType:   eventType,
		EventSource: source,
		Timestamp:   time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&meta)
	}
	if meta.CorrelationID == "" {
		meta.CorrelationID = meta.EventID
	}
	return &BaseEvent[T]{Meta: meta, Payload: payload}
}

// Handler consumes events.
type Handler interface {
	Handle(ctx context.Context, evt Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, evt Event) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}

// Typed adapts a function over a concrete payload type. Events carrying
// another payload type are skipped.
func Typed[T any](fn func(ctx context.Context, payload T, meta Metadata) error) Handler {
	return HandlerFunc(func(ctx context.Context, evt Event) error {
		payload, ok := evt.Data().(T)
		if !ok {
			return nil
		}
		return fn(ctx, payload, Metadata{
			EventID:       evt.ID(),
			EventType:     evt.Type(),
			EventSource:   evt.Source(),
			CorrelationID: evt.CorrelationID(),
			Timestamp:     evt.Timestamp(),
		})
	})
}
