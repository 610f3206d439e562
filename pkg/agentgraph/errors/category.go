// Package errors classifies failures so callers can decide whether to retry,
// degrade, or report them.
//
// Import it as agerrors to avoid shadowing the standard library package.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Category represents how an error should be handled.
type Category int

const (
	// CategoryTransient indicates retry will likely help.
	// Examples: rate limits, timeouts, temporary network issues.
	CategoryTransient Category = iota

	// CategoryPermanent indicates retry won't help.
	CategoryPermanent

	// CategoryEscalatable indicates a more capable model might succeed.
	// Examples: unparseable model output, failed output validation.
	CategoryEscalatable

	// CategoryHumanRequired indicates human intervention is needed.
	CategoryHumanRequired
)

func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	case CategoryEscalatable:
		return "escalatable"
	case CategoryHumanRequired:
		return "human_required"
	default:
		return "unknown"
	}
}

// MarshalText renders the category name in JSON and YAML.
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText parses a category name.
func (c *Category) UnmarshalText(b []byte) error {
	switch string(b) {
	case "transient":
		*c = CategoryTransient
	case "permanent":
		*c = CategoryPermanent
	case "escalatable":
		*c = CategoryEscalatable
	case "human_required":
		*c = CategoryHumanRequired
	default:
		return fmt.Errorf("unknown error category %q", b)
	}
	return nil
}

// CategorizedError wraps an error with its category and context.
type CategorizedError struct {
	Err      error
	Category Category
	// Retries is the number of attempts that have been made.
	Retries int
	// Context describes what operation was being attempted.
	Context string
}

func (e *CategorizedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (category: %s, attempts: %d)",
			e.Context, e.Err, e.Category, e.Retries)
	}
	return fmt.Sprintf("%s (category: %s, attempts: %d)",
		e.Err, e.Category, e.Retries)
}

func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// NewCategorized creates a new categorized error.
func NewCategorized(err error, category Category, context string) *CategorizedError {
	return &CategorizedError{Err: err, Category: category, Context: context}
}

// Transient marks err as retryable.
func Transient(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryTransient, context)
}

// Permanent marks err as not retryable.
func Permanent(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryPermanent, context)
}

// Escalatable marks err as worth retrying with a stronger model.
func Escalatable(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryEscalatable, context)
}

// temporary is implemented by errors that know whether they are transient,
// such as capability errors and many network errors.
type temporary interface {
	Temporary() bool
}

// Categorize determines how an error should be handled.
// Unknown errors are permanent.
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}

	var tmp temporary
	if errors.As(err, &tmp) {
		if tmp.Temporary() {
			return CategoryTransient
		}
		return CategoryPermanent
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == 429, httpErr.StatusCode >= 500:
			return CategoryTransient
		case httpErr.StatusCode == 400:
			return CategoryEscalatable
		default:
			return CategoryPermanent
		}
	}

	var jsonErr *JSONParseError
	if errors.As(err, &jsonErr) {
		return CategoryEscalatable
	}

	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return CategoryPermanent
	}

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) || errors.Is(err, context.DeadlineExceeded) {
		return CategoryTransient
	}

	return CategoryPermanent
}

// IsRetryable reports whether the error should be retried.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}
