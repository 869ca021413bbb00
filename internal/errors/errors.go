// Package errors defines the typed service errors returned by Estrateo
// services and translated to HTTP responses at the edge.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode is a stable, machine-readable error identifier.
type ErrorCode string

const (
	CodeValidation    ErrorCode = "validation_error"
	CodeNotFound      ErrorCode = "not_found"
	CodeConflict      ErrorCode = "conflict"
	CodeUnauthorized  ErrorCode = "unauthorized"
	CodeForbidden     ErrorCode = "forbidden"
	CodeInvalidToken  ErrorCode = "invalid_token"
	CodeRateLimited   ErrorCode = "rate_limit_exceeded"
	CodeInternal      ErrorCode = "internal_error"
	CodeUnavailable   ErrorCode = "service_unavailable"
	CodeNotConfigured ErrorCode = "not_configured"
	CodeBadGateway    ErrorCode = "bad_gateway"
	CodeTooLarge      ErrorCode = "payload_too_large"
)

// ServiceError is an error with an HTTP mapping.
type ServiceError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error { return e.Err }

// WithDetails returns a copy of the error with an extra detail attached.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	clone := *e
	clone.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		clone.Details[k] = v
	}
	clone.Details[key] = value
	return &clone
}

func newError(code ErrorCode, status int, message string, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// Validation reports invalid caller input.
func Validation(format string, args ...interface{}) *ServiceError {
	return newError(CodeValidation, http.StatusBadRequest, fmt.Sprintf(format, args...), nil)
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *ServiceError {
	return newError(CodeNotFound, http.StatusNotFound, fmt.Sprintf("%s %s not found", resource, id), nil).
		WithDetails("resource", resource)
}

// Conflict reports a state conflict such as a duplicate or an illegal transition.
func Conflict(format string, args ...interface{}) *ServiceError {
	return newError(CodeConflict, http.StatusConflict, fmt.Sprintf(format, args...), nil)
}

// Unauthorized reports missing or bad credentials.
func Unauthorized(message string) *ServiceError {
	if message == "" {
		message = "unauthorized"
	}
	return newError(CodeUnauthorized, http.StatusUnauthorized, message, nil)
}

// Forbidden reports an authenticated caller without permission.
func Forbidden(message string) *ServiceError {
	if message == "" {
		message = "forbidden"
	}
	return newError(CodeForbidden, http.StatusForbidden, message, nil)
}

// InvalidToken reports a malformed, expired or forged token.
func InvalidToken(err error) *ServiceError {
	return newError(CodeInvalidToken, http.StatusUnauthorized, "invalid or expired token", err)
}

// RateLimitExceeded reports throttling.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return newError(CodeRateLimited, http.StatusTooManyRequests, "rate limit exceeded", nil).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

// Internal wraps an unexpected failure.
func Internal(message string, err error) *ServiceError {
	return newError(CodeInternal, http.StatusInternalServerError, message, err)
}

// Unavailable reports a dependency that cannot serve right now.
func Unavailable(message string, err error) *ServiceError {
	return newError(CodeUnavailable, http.StatusServiceUnavailable, message, err)
}

// NotConfigured reports an optional feature that was not enabled.
func NotConfigured(feature string) *ServiceError {
	return newError(CodeNotConfigured, http.StatusNotImplemented, feature+" not configured", nil)
}

// BadGateway reports a failed upstream call.
func BadGateway(message string, err error) *ServiceError {
	return newError(CodeBadGateway, http.StatusBadGateway, message, err)
}

// PayloadTooLarge reports a request body over limit bytes.
func PayloadTooLarge(limit int64) *ServiceError {
	return newError(CodeTooLarge, http.StatusRequestEntityTooLarge, "request body too large", nil).
		WithDetails("limit_bytes", limit)
}

// GetServiceError extracts the first ServiceError in err's chain.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se
	}
	return nil
}

// HTTPStatus maps err to a status code, defaulting to 500.
func HTTPStatus(err error) int {
	if se := GetServiceError(err); se != nil {
		return se.HTTPStatus
	}
	return http.StatusInternalServerError
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	se := GetServiceError(err)
	return se != nil && se.Code == code
}

// IsNotFound is shorthand for IsCode(err, CodeNotFound).
func IsNotFound(err error) bool { return IsCode(err, CodeNotFound) }
