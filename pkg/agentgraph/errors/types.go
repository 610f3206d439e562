package errors

import "fmt"

// HTTPError is a non-2xx response from a remote service. Categorize maps
// 429 and 5xx to transient and 400 to escalatable.
type HTTPError struct {
	StatusCode int
	Endpoint   string
	Message    string
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("status %d", e.StatusCode)
	if e.Endpoint != "" {
		msg += " from " + e.Endpoint
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// JSONParseError is a model answer that could not be decoded. A stronger
// model may do better, so it categorises as escalatable.
type JSONParseError struct {
	// Input is the (truncated) text that failed to parse.
	Input   string
	Message string
}

func (e *JSONParseError) Error() string {
	return "model output is not valid JSON: " + e.Message
}

// ValidationError rejects one field of a run's input or of a model answer.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Message
	}
	return "validation error on " + e.Field + ": " + e.Message
}

// Validation builds a ValidationError for field.
func Validation(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// TimeoutError is an operation that ran out of time.
type TimeoutError struct {
	Operation string
	After     string
}

func (e *TimeoutError) Error() string {
	return e.Operation + " timed out after " + e.After
}
