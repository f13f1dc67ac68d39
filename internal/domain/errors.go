// Package domain contains domain errors used throughout feedwire.
package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	ErrEmptyAudience      = errors.New("event audience is empty")
	ErrInvalidEvent       = errors.New("invalid event")
	ErrListenerClosed     = errors.New("listener is closed")
	ErrConnectionNotFound = errors.New("connection not found")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrBrokerClosed       = errors.New("broker is closed")
	ErrInvalidCommand     = errors.New("invalid command")
)

// Error codes for client-facing error frames.
const (
	ErrCodeInvalidCommand = "INVALID_COMMAND"
	ErrCodeRateLimited    = "RATE_LIMITED"
	ErrCodeInternalError  = "INTERNAL_ERROR"
)

// BrokerError represents a transport failure on the shared pub/sub store.
type BrokerError struct {
	Op      string // Operation that failed
	Channel string
	Err     error
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf("broker %s %s: %v", e.Op, e.Channel, e.Err)
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}

// NewBrokerError creates a new BrokerError.
func NewBrokerError(op, channel string, err error) *BrokerError {
	return &BrokerError{
		Op:      op,
		Channel: channel,
		Err:     err,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
