// Package apperr defines the error taxonomy shared by the service layers.
// Errors are sentinel values matched with errors.Is after wrapping with %w.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrFaceNotFound means the embedding provider found no usable face in the image.
	ErrFaceNotFound = errors.New("no face found in image")
	// ErrDuplicateFace means the face is already registered to another user.
	ErrDuplicateFace = errors.New("face already registered")
	// ErrEmailTaken means another user already uses the email address.
	ErrEmailTaken = errors.New("email already registered")
	// ErrUnauthorized means the face or token could not be matched to a user.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound means the requested user or blob does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStorage wraps relational or blob store failures.
	ErrStorage = errors.New("storage unavailable")
	// ErrExtraction wraps embedding provider failures other than a missing face.
	ErrExtraction = errors.New("embedding extraction failed")
	// ErrTimeout means a bounded operation ran out of time.
	ErrTimeout = errors.New("operation timed out")
)

// ValidationError reports a malformed input field.
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

// Is makes errors.Is(err, ErrValidation) true for any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds a ValidationError for the given field.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Storage wraps err so that it matches ErrStorage while keeping the cause.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

// Extraction wraps err so that it matches ErrExtraction while keeping the cause.
func Extraction(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrExtraction, err)
}

// Retryable reports whether a caller may retry the operation that produced err.
func Retryable(err error) bool {
	return errors.Is(err, ErrStorage) || errors.Is(err, ErrExtraction) || errors.Is(err, ErrTimeout)
}
