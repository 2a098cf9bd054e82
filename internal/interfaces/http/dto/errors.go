package dto

import (
	"net/http"
	"strings"
)

// Error code constants organized by category
// Format: ERR_<CATEGORY>_<DESCRIPTION>

// General error codes
const (
	// ErrCodeUnknown is used when the error type is unknown
	ErrCodeUnknown = "ERR_UNKNOWN"
	// ErrCodeInternal is used for internal server errors
	ErrCodeInternal = "ERR_INTERNAL"
	// ErrCodeUnavailable is used when a dependency is down
	ErrCodeUnavailable = "ERR_UNAVAILABLE"
)

// Validation error codes
const (
	ErrCodeValidation         = "ERR_VALIDATION"
	ErrCodeValidationRequired = "ERR_VALIDATION_REQUIRED"
	ErrCodeValidationFormat   = "ERR_VALIDATION_FORMAT"
)

// Resource error codes
const (
	ErrCodeNotFound            = "ERR_NOT_FOUND"
	ErrCodeConflict            = "ERR_CONFLICT"
	ErrCodeConcurrencyConflict = "ERR_CONCURRENCY_CONFLICT"
)

// Reconciliation error codes
const (
	// ErrCodeInvalidState is used when an operation is invalid for current state
	ErrCodeInvalidState = "ERR_INVALID_STATE"
	// ErrCodeInsufficientStock is used when a reservation or adjustment would
	// drive available stock below zero
	ErrCodeInsufficientStock = "ERR_INSUFFICIENT_STOCK"
	ErrCodeMalformedPayload  = "ERR_MALFORMED_PAYLOAD"
	ErrCodeDuplicateEvent    = "ERR_DUPLICATE_EVENT"
	ErrCodeStaleTransition   = "ERR_STALE_TRANSITION"
	ErrCodeTerminalMismatch  = "ERR_TERMINAL_MISMATCH"
	// ErrCodeTransientIntegration is used when an upstream platform failed
	// in a way worth retrying
	ErrCodeTransientIntegration = "ERR_TRANSIENT_INTEGRATION"
	// ErrCodeUnknownPlatform is used when the path names no known platform
	ErrCodeUnknownPlatform = "ERR_UNKNOWN_PLATFORM"
)

// Input error codes
const (
	ErrCodeBadRequest   = "ERR_BAD_REQUEST"
	ErrCodeInvalidInput = "ERR_INVALID_INPUT"
	ErrCodeInvalidJSON  = "ERR_INVALID_JSON"
	ErrCodeTooLarge     = "ERR_REQUEST_TOO_LARGE"
)

// Rate limiting error codes
const (
	ErrCodeRateLimited = "ERR_RATE_LIMITED"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeUnknown:     http.StatusInternalServerError,
	ErrCodeInternal:    http.StatusInternalServerError,
	ErrCodeUnavailable: http.StatusServiceUnavailable,

	// Validation errors -> 400 Bad Request
	ErrCodeValidation:         http.StatusBadRequest,
	ErrCodeValidationRequired: http.StatusBadRequest,
	ErrCodeValidationFormat:   http.StatusBadRequest,

	// Resource errors
	ErrCodeNotFound:            http.StatusNotFound,
	ErrCodeConflict:            http.StatusConflict,
	ErrCodeConcurrencyConflict: http.StatusConflict,
	ErrCodeDuplicateEvent:      http.StatusConflict,

	// Business rule errors -> 422 Unprocessable Entity
	ErrCodeInvalidState:      http.StatusUnprocessableEntity,
	ErrCodeInsufficientStock: http.StatusUnprocessableEntity,
	ErrCodeMalformedPayload:  http.StatusUnprocessableEntity,
	ErrCodeStaleTransition:   http.StatusUnprocessableEntity,
	ErrCodeTerminalMismatch:  http.StatusUnprocessableEntity,

	// Upstream errors
	ErrCodeTransientIntegration: http.StatusBadGateway,

	// Input errors -> 400 Bad Request
	ErrCodeBadRequest:      http.StatusBadRequest,
	ErrCodeInvalidInput:    http.StatusBadRequest,
	ErrCodeInvalidJSON:     http.StatusBadRequest,
	ErrCodeUnknownPlatform: http.StatusBadRequest,
	ErrCodeTooLarge:        http.StatusRequestEntityTooLarge,

	ErrCodeRateLimited: http.StatusTooManyRequests,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DomainErrorCodeMapping maps domain error codes to API error codes
var DomainErrorCodeMapping = map[string]string{
	"NOT_FOUND":             ErrCodeNotFound,
	"INVALID_INPUT":         ErrCodeInvalidInput,
	"INVALID_STATE":         ErrCodeInvalidState,
	"CONCURRENCY_CONFLICT":  ErrCodeConcurrencyConflict,
	"CONFLICT":              ErrCodeConflict,
	"INSUFFICIENT_STOCK":    ErrCodeInsufficientStock,
	"MALFORMED_PAYLOAD":     ErrCodeMalformedPayload,
	"DUPLICATE_EVENT":       ErrCodeDuplicateEvent,
	"STALE_TRANSITION":      ErrCodeStaleTransition,
	"TERMINAL_MISMATCH":     ErrCodeTerminalMismatch,
	"TRANSIENT_INTEGRATION": ErrCodeTransientIntegration,
}

// NormalizeErrorCode converts a domain error code to the API format.
// Field level codes such as INVALID_SKU become ERR_INVALID_INPUT; other
// unknown codes are returned as-is.
func NormalizeErrorCode(code string) string {
	if newCode, ok := DomainErrorCodeMapping[code]; ok {
		return newCode
	}
	if strings.HasPrefix(code, "INVALID_") {
		return ErrCodeInvalidInput
	}
	return code
}
