package apperr

import (
	"errors"
	"fmt"
)

// Error codes
const (
	// Configuration errors abort a run before any external call.
	CodeConfigError = "CONFIG_ERROR"

	// Extraction errors
	CodeNoStructuredData = "NO_STRUCTURED_DATA"

	// Generation / embedding service errors
	CodeRateLimited       = "RATE_LIMITED"
	CodeOversizedRequest  = "OVERSIZED_REQUEST"
	CodeTransportError    = "TRANSPORT_ERROR"
	CodeAuthFailed        = "AUTH_FAILED"
	CodeMalformedResponse = "MALFORMED_RESPONSE"
	CodeExternalError     = "EXTERNAL_ERROR"

	// Storage errors
	CodeStorageError = "STORAGE_ERROR"

	// Internal errors
	CodeInternalError = "INTERNAL_ERROR"
)

// AppError represents a structured application error
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// Constructor functions
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func ConfigError(message string) *AppError {
	return &AppError{
		Code:    CodeConfigError,
		Message: message,
	}
}

// NoStructuredData reports model output without any parseable record list.
// snippet is the head of the unparsable segment, kept for diagnostics.
func NoStructuredData(snippet string) *AppError {
	return &AppError{
		Code:    CodeNoStructuredData,
		Message: "no structured data found in model output",
		Details: map[string]any{"snippet": snippet},
	}
}

func RateLimited(service string, err error) *AppError {
	return &AppError{
		Code:    CodeRateLimited,
		Message: fmt.Sprintf("rate limited by %s", service),
		Details: map[string]any{"service": service},
		Err:     err,
	}
}

func OversizedRequest(service string, err error) *AppError {
	return &AppError{
		Code:    CodeOversizedRequest,
		Message: fmt.Sprintf("request too large for %s", service),
		Details: map[string]any{"service": service},
		Err:     err,
	}
}

func TransportError(service string, err error) *AppError {
	return &AppError{
		Code:    CodeTransportError,
		Message: fmt.Sprintf("transport error talking to %s", service),
		Details: map[string]any{"service": service},
		Err:     err,
	}
}

func AuthFailed(service string, err error) *AppError {
	return &AppError{
		Code:    CodeAuthFailed,
		Message: fmt.Sprintf("authentication failed for %s", service),
		Details: map[string]any{"service": service},
		Err:     err,
	}
}

func MalformedResponse(service, message string) *AppError {
	return &AppError{
		Code:    CodeMalformedResponse,
		Message: fmt.Sprintf("malformed response from %s: %s", service, message),
		Details: map[string]any{"service": service},
	}
}

func ExternalError(service string, err error) *AppError {
	return &AppError{
		Code:    CodeExternalError,
		Message: fmt.Sprintf("external service error: %s", service),
		Details: map[string]any{"service": service},
		Err:     err,
	}
}

func StorageError(operation string, err error) *AppError {
	return &AppError{
		Code:    CodeStorageError,
		Message: fmt.Sprintf("storage error: %s", operation),
		Err:     err,
	}
}

func InternalWithError(err error) *AppError {
	return &AppError{
		Code:    CodeInternalError,
		Message: "internal error",
		Err:     err,
	}
}

// Helper functions
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return InternalWithError(err)
}

// CodeOf returns the code of the first AppError in err's chain, or "" if none.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

func HasCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}
