package dto

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/reconciler/internal/domain/shared"
)

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		code     string
		expected int
	}{
		{ErrCodeInternal, http.StatusInternalServerError},
		{ErrCodeUnavailable, http.StatusServiceUnavailable},
		{ErrCodeValidation, http.StatusBadRequest},
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodeDuplicateEvent, http.StatusConflict},
		{ErrCodeConcurrencyConflict, http.StatusConflict},
		{ErrCodeInsufficientStock, http.StatusUnprocessableEntity},
		{ErrCodeMalformedPayload, http.StatusUnprocessableEntity},
		{ErrCodeTransientIntegration, http.StatusBadGateway},
		{ErrCodeUnknownPlatform, http.StatusBadRequest},
		{ErrCodeTooLarge, http.StatusRequestEntityTooLarge},
		{ErrCodeRateLimited, http.StatusTooManyRequests},
		{"UNKNOWN_CODE", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetHTTPStatus(tt.code))
		})
	}
}

func TestNormalizeErrorCode_CoversDomainCodes(t *testing.T) {
	domainCodes := []string{
		shared.CodeNotFound,
		shared.CodeInvalidInput,
		shared.CodeConcurrencyConflict,
		shared.CodeInvalidState,
		shared.CodeTransientIntegration,
		shared.CodeMalformedPayload,
		shared.CodeDuplicateEvent,
		shared.CodeStaleTransition,
		shared.CodeConflict,
		shared.CodeInsufficientStock,
		shared.CodeTerminalMismatch,
	}
	for _, code := range domainCodes {
		t.Run(code, func(t *testing.T) {
			api := NormalizeErrorCode(code)
			assert.Equal(t, "ERR_"+code, api)
			assert.Contains(t, ErrorCodeHTTPStatus, api)
		})
	}

	assert.Equal(t, ErrCodeInvalidJSON, NormalizeErrorCode(ErrCodeInvalidJSON))
	assert.Equal(t, "SOMETHING_ELSE", NormalizeErrorCode("SOMETHING_ELSE"))
	assert.Equal(t, ErrCodeInvalidInput, NormalizeErrorCode("INVALID_SKU"))
}

func TestNewErrorResponse(t *testing.T) {
	resp := NewErrorResponseWithRequestID(ErrCodeNotFound, "Order not found", "req-1")
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "req-1", resp.Error.RequestID)

	body, err := json.Marshal(NewErrorResponse(ErrCodeNotFound, "Order not found"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"error":{"code":"ERR_NOT_FOUND","message":"Order not found"}}`, string(body))
}

func TestNewValidationErrorResponse(t *testing.T) {
	details := []ValidationDetail{{Field: "receipt_id", Message: "This field is required"}}
	resp := NewValidationErrorResponse("Request validation failed", "req-2", details)

	assert.Equal(t, ErrCodeValidation, resp.Error.Code)
	assert.Equal(t, details, resp.Error.Details)
}

func TestNewSuccessResponseWithMeta(t *testing.T) {
	resp := NewSuccessResponseWithMeta([]int{1, 2}, 41, 2, 20)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, 3, resp.Meta.TotalPages)

	resp = NewSuccessResponseWithMeta(nil, 0, 1, 0)
	assert.Equal(t, 0, resp.Meta.TotalPages)
}
