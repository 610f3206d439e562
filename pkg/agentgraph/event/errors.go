package event

import (
	"errors"
	"fmt"
)

var (
	// ErrBusClosed is returned by Publish after Close.
	ErrBusClosed = errors.New("event bus closed")

	// ErrTooManySubscribers is returned by Subscribe when MaxSubscribers is reached.
	ErrTooManySubscribers = errors.New("subscriber limit reached")
)

// Error reports a failure tied to one event.
type Error struct {
	EventID   string
	EventType string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("event %s (%s): %v", e.EventType, e.EventID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
