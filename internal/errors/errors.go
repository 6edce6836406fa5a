// Package errors provides structured error types shared by the decoder, the
// classifier, the upstream clients and the HTTP layer.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a structured error classification.
type ErrorCode string

const (
	// ErrCodeInvalidRequest indicates a malformed upload or an undecodable image.
	ErrCodeInvalidRequest ErrorCode = "INVALID_REQUEST"
	// ErrCodePayloadTooLarge indicates the request body exceeded the upload limit.
	ErrCodePayloadTooLarge ErrorCode = "PAYLOAD_TOO_LARGE"
	// ErrCodeMethodNotAllowed indicates the HTTP method is not allowed for the resource.
	ErrCodeMethodNotAllowed ErrorCode = "METHOD_NOT_ALLOWED"
	// ErrCodeInternal indicates an internal failure, including model inference.
	ErrCodeInternal ErrorCode = "INTERNAL"
	// ErrCodeUpstream indicates a required external service failed.
	ErrCodeUpstream ErrorCode = "UPSTREAM_FAILURE"
	// ErrCodeUnavailable indicates the service is not ready to serve traffic.
	ErrCodeUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// StructuredError carries an error code for programmatic handling, a
// human-readable message, the underlying cause and optional context.
type StructuredError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]any
}

// Error implements the error interface.
func (e *StructuredError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is and errors.As support.
func (e *StructuredError) Unwrap() error {
	return e.Cause
}

// New creates a new StructuredError with the given code and message.
func New(code ErrorCode, message string) *StructuredError {
	return &StructuredError{
		Code:    code,
		Message: message,
	}
}

// NewWithContext creates a new StructuredError with context information.
func NewWithContext(code ErrorCode, message string, context map[string]any) *StructuredError {
	return &StructuredError{
		Code:    code,
		Message: message,
		Context: context,
	}
}

// Wrap wraps an existing error with a code and message.
func Wrap(code ErrorCode, message string, cause error) *StructuredError {
	return &StructuredError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WrapWithContext wraps an error with additional context information.
func WrapWithContext(code ErrorCode, message string, cause error, context map[string]any) *StructuredError {
	return &StructuredError{
		Code:    code,
		Message: message,
		Cause:   cause,
		Context: context,
	}
}

// Code returns the code of the first StructuredError in err's chain,
// or ErrCodeInternal when there is none.
func Code(err error) ErrorCode {
	var se *StructuredError
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}

// HTTPStatus maps an error to the HTTP status code the API responds with.
func HTTPStatus(err error) int {
	switch Code(err) {
	case ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case ErrCodePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case ErrCodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case ErrCodeUpstream:
		return http.StatusBadGateway
	case ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether a client may reasonably repeat the request.
func Retryable(err error) bool {
	switch Code(err) {
	case ErrCodeUpstream, ErrCodeUnavailable:
		return true
	default:
		return false
	}
}
