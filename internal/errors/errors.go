package errors

import (
	"context"
	"errors"
	"fmt"
)

// Error is the structured error type for cdocs. It carries the stable
// tag surfaced in tool replies, a short user-facing message, optional
// key-value details, and the underlying cause.
type Error struct {
	// Tag is the stable error tag (e.g. EmbeddingUnavailable).
	Tag Tag

	// Message is the human-readable error message.
	Message string

	// Suggestion is an actionable next step for the user.
	Suggestion string

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Tag, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by tag so errors.Is works across wrap layers.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Tag == t.Tag
	}
	return false
}

// WithDetail adds a key-value detail. Returns the error for chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion sets an actionable suggestion for the user.
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestion = suggestion
	return e
}

// New creates a new Error with the given tag and message.
func New(tag Tag, message string) *Error {
	return &Error{Tag: tag, Message: message}
}

// Newf creates a new Error with a formatted message.
func Newf(tag Tag, format string, args ...any) *Error {
	return &Error{Tag: tag, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error from an existing error. Returns nil for a nil
// cause.
func Wrap(tag Tag, message string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Tag: tag, Message: message, Cause: cause}
}

// FromContext converts a context error into a tagged Error. Returns nil
// if err is not a context error.
func FromContext(err error) *Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Tag: TagDeadlineExceeded, Message: "operation deadline exceeded", Cause: err}
	case errors.Is(err, context.Canceled):
		return &Error{Tag: TagCancelled, Message: "operation cancelled", Cause: err}
	default:
		return nil
	}
}

// TagOf extracts the tag from an Error anywhere in the chain. Context
// errors map to their tags; anything else is Internal.
func TagOf(err error) Tag {
	var de *Error
	if errors.As(err, &de) {
		return de.Tag
	}
	if ce := FromContext(err); ce != nil {
		return ce.Tag
	}
	return TagInternal
}

// IsRetryable reports whether the error's tag allows a later retry.
func IsRetryable(err error) bool {
	return TagOf(err).Retryable()
}
