package core

import (
	"errors"
	"fmt"
)

// Predefined errors for common failure scenarios.
//
// The main failure classes map to these sentinels:
//   - validation errors: ErrInvalidInput, ErrInvalidMemoryType
//   - storage errors:    ErrStorageOperation
//   - moderation errors: ErrModerationFailed
var (
	// ErrNotFound indicates that a requested aggregate was not found.
	ErrNotFound = errors.New("aggregate not found")

	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidInput indicates that the caller supplied invalid input.
	// Never retried automatically: the caller must fix and retry.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidMemoryType indicates a memory type outside the closed set.
	ErrInvalidMemoryType = errors.New("invalid memory type")

	// ErrStorageOperation indicates that a persistence-layer operation failed.
	ErrStorageOperation = errors.New("storage operation failed")

	// ErrModerationFailed indicates that content could not be evaluated by
	// the moderation filter. The dispatcher fails open on this error.
	ErrModerationFailed = errors.New("moderation evaluation failed")

	// ErrModelOperation indicates that the external model call failed or
	// timed out.
	ErrModelOperation = errors.New("model operation failed")
)

// OpError wraps errors with the name of the failing operation.
//
// Error messages read "agentrelay: <Op>: <Err>" and the underlying error is
// available to errors.Is / errors.As via Unwrap.
type OpError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns the formatted error message.
func (e *OpError) Error() string {
	return fmt.Sprintf("agentrelay: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *OpError) Unwrap() error {
	return e.Err
}

// WrapError wraps err with the operation name. Returns nil if err is nil so
// call sites can wrap unconditionally.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Err: err}
}
