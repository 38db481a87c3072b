// Package errors defines the unified error taxonomy for gateway operations.
// All provider-specific failures are mapped to these standard error types
// before they reach the routing engine or the caller.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
)

// GatewayError is a standardized failure from a provider adapter or from
// the gateway itself. Retryable controls retry-within-candidate behavior in
// the routing engine; every error still triggers failover to the next
// candidate.
type GatewayError struct {
	Type       string `json:"type"`
	Message    string `json:"message"`
	Provider   string `json:"provider,omitempty"`
	Model      string `json:"model,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	Retryable  bool   `json:"-"`
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	return fmt.Sprintf("[%s] %s (provider=%s, model=%s, code=%d)",
		e.Type, e.Message, e.Provider, e.Model, e.StatusCode)
}

// Error type constants. These values are stable: they appear in call log
// entries and in caller-visible responses.
const (
	TypeConfig          = "config_error"
	TypeAuthentication  = "authentication_error"
	TypeRateLimit       = "rate_limit_error"
	TypeNetwork         = "network_error"
	TypeAPI             = "api_error"
	TypeResponseParsing = "response_parsing_error"
	TypeInvalidRequest  = "invalid_request_error"
	TypeModelSelection  = "model_selection_error"
	TypeAllModelsFailed = "all_models_failed"
	TypeCancelled       = "request_cancelled"
	TypeTimeout         = "request_timeout"
)

// NewConfigError reports missing or invalid credentials/endpoint.
// Never retried.
func NewConfigError(provider, model, message string) *GatewayError {
	return &GatewayError{
		Type:     TypeConfig,
		Message:  message,
		Provider: provider,
		Model:    model,
	}
}

// NewAuthenticationError maps HTTP 401/403 responses. Never retried.
func NewAuthenticationError(provider, model, message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusUnauthorized,
		Type:       TypeAuthentication,
		Message:    message,
		Provider:   provider,
		Model:      model,
	}
}

// NewRateLimitError maps HTTP 429. Not retried within a candidate; the
// routing engine fails over immediately since a sibling candidate is more
// likely to have quota than the throttled one.
func NewRateLimitError(provider, model, message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusTooManyRequests,
		Type:       TypeRateLimit,
		Message:    message,
		Provider:   provider,
		Model:      model,
	}
}

// NewNetworkError reports a transport-level failure or timeout. Retried.
func NewNetworkError(provider, model, message string) *GatewayError {
	return &GatewayError{
		Type:      TypeNetwork,
		Message:   message,
		Provider:  provider,
		Model:     model,
		Retryable: true,
	}
}

// NewAPIError reports a generic non-2xx backend response. Retryable only
// for the 5xx class.
func NewAPIError(provider, model string, statusCode int, message string) *GatewayError {
	return &GatewayError{
		StatusCode: statusCode,
		Type:       TypeAPI,
		Message:    message,
		Provider:   provider,
		Model:      model,
		Retryable:  statusCode >= 500,
	}
}

// NewResponseParsingError reports a malformed backend payload. Adapters
// convert raw decode failures into this instead of propagating them.
func NewResponseParsingError(provider, model, message string) *GatewayError {
	return &GatewayError{
		Type:     TypeResponseParsing,
		Message:  message,
		Provider: provider,
		Model:    model,
	}
}

// NewInvalidRequestError maps HTTP 400-class rejections of the request
// itself. Never retried.
func NewInvalidRequestError(provider, model, message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusBadRequest,
		Type:       TypeInvalidRequest,
		Message:    message,
		Provider:   provider,
		Model:      model,
	}
}

// NewModelSelectionError reports that no candidate model exists for a task.
func NewModelSelectionError(message string) *GatewayError {
	return &GatewayError{Type: TypeModelSelection, Message: message}
}

// NewAllModelsFailedError aggregates per-candidate failure reasons after
// failover exhaustion.
func NewAllModelsFailedError(message string) *GatewayError {
	return &GatewayError{Type: TypeAllModelsFailed, Message: message}
}

// NewCancelledError reports caller-side cancellation.
func NewCancelledError(message string) *GatewayError {
	return &GatewayError{Type: TypeCancelled, Message: message}
}

// NewTimeoutError reports that the request-level deadline expired before a
// terminal outcome was reached.
func NewTimeoutError(message string) *GatewayError {
	return &GatewayError{Type: TypeTimeout, Message: message}
}

// From extracts a *GatewayError from err, wrapping unknown errors as
// network errors so the routing engine always sees the taxonomy.
func From(err error, provider, model string) *GatewayError {
	if err == nil {
		return nil
	}
	var gwErr *GatewayError
	if stderrors.As(err, &gwErr) {
		return gwErr
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return NewNetworkError(provider, model, "request deadline exceeded")
	}
	if stderrors.Is(err, context.Canceled) {
		return NewCancelledError("request cancelled")
	}
	return NewNetworkError(provider, model, err.Error())
}

// IsTransient reports whether the routing engine may retry the error
// within the same candidate.
func IsTransient(err error) bool {
	var gwErr *GatewayError
	if !stderrors.As(err, &gwErr) {
		return false
	}
	switch gwErr.Type {
	case TypeNetwork:
		return true
	case TypeAPI:
		return gwErr.Retryable
	default:
		return false
	}
}

// TypeOf returns the taxonomy type for an error, or api_error for
// anything outside the taxonomy.
func TypeOf(err error) string {
	var gwErr *GatewayError
	if stderrors.As(err, &gwErr) {
		return gwErr.Type
	}
	return TypeAPI
}
