package shared

import "errors"

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// Is reports whether target is a DomainError with the same code, so a
// specific error built with NewDomainError still matches the sentinel.
func (e *DomainError) Is(target error) bool {
	var other *DomainError
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Error codes shared by every bounded context of the reconciler.
const (
	CodeNotFound             = "NOT_FOUND"
	CodeInvalidInput         = "INVALID_INPUT"
	CodeConcurrencyConflict  = "CONCURRENCY_CONFLICT"
	CodeInvalidState         = "INVALID_STATE"
	CodeTransientIntegration = "TRANSIENT_INTEGRATION"
	CodeMalformedPayload     = "MALFORMED_PAYLOAD"
	CodeDuplicateEvent       = "DUPLICATE_EVENT"
	CodeStaleTransition      = "STALE_TRANSITION"
	CodeConflict             = "CONFLICT"
	CodeInsufficientStock    = "INSUFFICIENT_STOCK"
	CodeTerminalMismatch     = "TERMINAL_MISMATCH"
)

// Common domain errors
var (
	ErrNotFound            = NewDomainError(CodeNotFound, "Resource not found")
	ErrInvalidInput        = NewDomainError(CodeInvalidInput, "Invalid input provided")
	ErrConcurrencyConflict = NewDomainError(CodeConcurrencyConflict, "Resource was modified by another process")
	ErrInvalidState        = NewDomainError(CodeInvalidState, "Operation not allowed in current state")

	ErrTransientIntegration = NewDomainError(CodeTransientIntegration, "Upstream platform temporarily unavailable")
	ErrMalformedPayload     = NewDomainError(CodeMalformedPayload, "Payload failed normalization")
	ErrDuplicateEvent       = NewDomainError(CodeDuplicateEvent, "Event already received")
	ErrStaleTransition      = NewDomainError(CodeStaleTransition, "Event implies a status the order has already passed")
	ErrConflict             = NewDomainError(CodeConflict, "Event conflicts with a concurrently applied event")
	ErrInsufficientStock    = NewDomainError(CodeInsufficientStock, "Insufficient stock available")
	ErrTerminalMismatch     = NewDomainError(CodeTerminalMismatch, "Transition requires an allocation state that does not exist")
)

// IsRetryable reports whether err is worth another attempt later. Stale,
// conflicting, duplicate and terminal-mismatch outcomes are resolved
// deterministically and never retried.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrDuplicateEvent),
		errors.Is(err, ErrStaleTransition),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrTerminalMismatch):
		return false
	default:
		return true
	}
}
