package apperr

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced directly by services and mapped to HTTP
// status codes by the handler layer.
var (
	ErrNotFound        = errors.New("job not found")
	ErrAlreadyTerminal = errors.New("job already in a terminal state")
)

// ValidationError rejects a request before any job is created.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidation creates a validation error for a named field.
func NewValidation(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// DependencyError wraps a failure from an external collaborator
// (preprocess service, transcription engine, summarizer). Transient
// failures are eligible for retry; permanent ones propagate immediately.
type DependencyError struct {
	Service   string
	Transient bool
	Err       error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }

// Dependency creates a DependencyError.
func Dependency(service string, transient bool, err error) *DependencyError {
	return &DependencyError{Service: service, Transient: transient, Err: err}
}

// IsTransient reports whether err is a dependency failure worth retrying.
func IsTransient(err error) bool {
	var de *DependencyError
	if errors.As(err, &de) {
		return de.Transient
	}
	return false
}

// StorageError wraps a failure from the durable tier. Cache-tier failures
// are never surfaced as StorageError; they are logged and suppressed.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Storage creates a StorageError for the given operation.
func Storage(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}

// ExhaustedError is returned by the retry wrapper once the attempt budget
// is spent. It preserves the last underlying cause.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// IsExhausted reports whether err is an ExhaustedError.
func IsExhausted(err error) bool {
	var ee *ExhaustedError
	return errors.As(err, &ee)
}
