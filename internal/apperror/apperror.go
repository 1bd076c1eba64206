// Package apperror defines the error taxonomy shared by every layer of the chat core.
//
// ERROR TAXONOMY:
//   - ErrUnauthenticated → no resolvable caller identity (all writes need one)
//   - ErrValidation      → empty or malformed input, rejected before any store mutation
//   - ErrNotFound        → a referenced channel/profile/blob does not exist
//   - ErrConflict        → a uniqueness rule was violated at the storage layer
//
// Anything else is "internal": a store or blob failure surfaced verbatim upward.
// Transports never branch on message text; they call Code(err) and map the code
// to an HTTP status or a WebSocket error frame.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("invalid argument")
	ErrConflict        = errors.New("conflict")
)

// Wire codes returned by Code.
const (
	CodeUnauthenticated = "unauthenticated"
	CodeInvalidArgument = "invalid_argument"
	CodeNotFound        = "not_found"
	CodeConflict        = "conflict"
	CodeInternal        = "internal"
)

type AppError struct {
	Err     error  // sentinel this error classifies as
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Unauthenticated returns an AppError for a caller without an identity.
// HTTP handlers map this to 401 Unauthorized.
func Unauthenticated(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthenticated,
		Message: message,
	}
}

// Code classifies err into one of the wire codes. errors.Is walks the whole
// chain, so wrapped errors (fmt.Errorf("...: %w", appErr)) classify correctly.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthenticated):
		return CodeUnauthenticated
	case errors.Is(err, ErrValidation):
		return CodeInvalidArgument
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrConflict):
		return CodeConflict
	default:
		return CodeInternal
	}
}

// PublicMessage returns the message that is safe to show to a client.
// Internal errors may carry SQL or file paths, so they collapse to a generic text.
func PublicMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && Code(err) != CodeInternal {
		return appErr.Message
	}
	return "An internal error occurred"
}
