package core

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for comparison using errors.Is()
// These are generic errors that can be wrapped with additional context
var (
	// Registry errors
	ErrServiceNotFound = errors.New("service not found")
	ErrServiceExists   = errors.New("service already exists")
	ErrServiceDisabled = errors.New("service disabled")
	ErrProtectedCore   = errors.New("core service is protected")

	// Client errors
	ErrActionNotAllowed  = errors.New("action not allowed")
	ErrInvalidPayload    = errors.New("invalid payload")
	ErrTransportFailed   = errors.New("transport failed")
	ErrServiceCallFailed = errors.New("service call failed")

	// Credential errors
	ErrDecryptionFailed = errors.New("credential decryption failed")

	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing required configuration")

	// Engine errors
	ErrIterationCapExceeded = errors.New("iteration cap exceeded")
	ErrUnknownNode          = errors.New("unknown node")
	ErrConflictingWrite     = errors.New("conflicting parallel write")

	// Operation errors
	ErrTimeout            = errors.New("operation timeout")
	ErrContextCanceled    = errors.New("context canceled")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
	ErrCircuitBreakerOpen = errors.New("circuit breaker open")

	// HTTP/Network errors
	ErrConnectionFailed = errors.New("connection failed")
	ErrRequestFailed    = errors.New("request failed")
)

// OrchestrationError provides structured error information with context.
// It implements the error interface and supports error wrapping.
type OrchestrationError struct {
	Op      string // Operation that failed (e.g., "client.Call")
	Kind    string // Error kind (e.g., "registry", "transport", "engine")
	Service string // Optional name of the service involved
	Message string // Human-readable message
	Err     error  // Underlying error for wrapping
}

// Error returns the string representation of the error
func (e *OrchestrationError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.Service != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.Service, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

// Unwrap returns the underlying error for use with errors.Is/As
func (e *OrchestrationError) Unwrap() error {
	return e.Err
}

// NewOrchestrationError creates a new OrchestrationError
func NewOrchestrationError(op, kind string, err error) *OrchestrationError {
	return &OrchestrationError{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
}

// IsRetryable checks if an error is retryable.
// Retryable errors are typically transient network or availability issues.
// Trust rejections and schema mismatches are never retryable.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrActionNotAllowed) || errors.Is(err, ErrInvalidPayload) {
		return false
	}
	return errors.Is(err, ErrTransportFailed) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConnectionFailed) ||
		errors.Is(err, ErrRequestFailed)
}

// IsNotFound checks if an error represents a "not found" condition
func IsNotFound(err error) bool {
	return errors.Is(err, ErrServiceNotFound)
}

// IsConfigurationError checks if an error is configuration-related
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) ||
		errors.Is(err, ErrMissingConfiguration) ||
		errors.Is(err, ErrDecryptionFailed)
}
