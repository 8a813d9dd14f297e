// Package apperr holds the error taxonomy shared by the control-plane services.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the referenced entity does not exist or is not owned by the caller.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState means the entity's state machine forbids the operation.
	ErrInvalidState = errors.New("invalid state")
	// ErrValidation means the input is structurally wrong.
	ErrValidation = errors.New("validation error")
	// ErrNoPriorVersion is returned when a rollback has nothing to return to.
	ErrNoPriorVersion = fmt.Errorf("no prior version: %w", ErrInvalidState)
	// ErrUpstream means the model provider failed.
	ErrUpstream = errors.New("upstream failure")
	// ErrCancelled means the caller cancelled an inference run.
	ErrCancelled = errors.New("cancelled")
)

// UpstreamError carries the raw provider message.
type UpstreamError struct {
	Provider string
	Message  string
}

func (e *UpstreamError) Error() string {
	if e.Provider == "" {
		return "upstream failure: " + e.Message
	}
	return fmt.Sprintf("upstream failure (%s): %s", e.Provider, e.Message)
}

func (e *UpstreamError) Unwrap() error { return ErrUpstream }

func NotFound(kind string) error {
	return fmt.Errorf("%s %w", kind, ErrNotFound)
}

func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func InvalidState(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}
