package errors

import (
	"errors"
	"fmt"
)

// Error types for the ingestion pipeline
type ErrorType string

const (
	ErrorTypeMalformed        ErrorType = "malformed_event"
	ErrorTypeUnauthenticated  ErrorType = "unauthenticated"
	ErrorTypeUnsupportedEvent ErrorType = "unsupported_event_type"
	ErrorTypeValidation       ErrorType = "validation"
	ErrorTypeBusiness         ErrorType = "business"
	ErrorTypeNotFound         ErrorType = "not_found"
	ErrorTypeInternal         ErrorType = "internal"
	ErrorTypeExternal         ErrorType = "external"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Retryable  bool                   `json:"retryable"`
	StatusCode int                    `json:"status_code"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// Error constructors

// NewMalformedEventError marks a webhook body that failed to decode into a
// structured event. The request is rejected without touching the store.
func NewMalformedEventError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeMalformed,
		Code:       "MALFORMED_EVENT",
		Message:    message,
		Retryable:  false,
		StatusCode: 400,
	}
}

// NewUnauthenticatedError marks a failed signature check.
func NewUnauthenticatedError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeUnauthenticated,
		Code:       "UNAUTHENTICATED",
		Message:    message,
		Retryable:  false,
		StatusCode: 401,
	}
}

// NewUnsupportedEventTypeError marks an event type outside the allow-list.
func NewUnsupportedEventTypeError(eventType string) *AppError {
	return &AppError{
		Type:       ErrorTypeUnsupportedEvent,
		Code:       "UNSUPPORTED_EVENT_TYPE",
		Message:    fmt.Sprintf("unsupported event type %q", eventType),
		Retryable:  false,
		StatusCode: 400,
		Details:    map[string]interface{}{"event_type": eventType},
	}
}

func NewValidationError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		Retryable:  false,
		StatusCode: 400,
	}
}

func NewBusinessError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeBusiness,
		Code:       code,
		Message:    message,
		Retryable:  false,
		StatusCode: 422,
	}
}

func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       "RESOURCE_NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		Retryable:  false,
		StatusCode: 404,
	}
}

// NewStoreWriteError marks a persistence failure. No partial state is
// observably committed when this is returned.
func NewStoreWriteError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "STORE_WRITE_FAILED",
		Message:    message,
		Retryable:  true,
		StatusCode: 500,
	}
}

func NewInternalError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Retryable:  true,
		StatusCode: 500,
	}
}

func NewExternalError(service, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeExternal,
		Code:       "EXTERNAL_SERVICE_ERROR",
		Message:    fmt.Sprintf("%s service error: %s", service, message),
		Retryable:  true,
		StatusCode: 502,
		Details:    map[string]interface{}{"service": service},
	}
}

// Predefined common errors
var (
	ErrCallNotFound = NewNotFoundError("call")
	ErrLeadNotFound = NewNotFoundError("lead")
)

// Wrap wraps an error with a message using fmt.Errorf with %w
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsType checks if an error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// GetStatusCode extracts HTTP status code from error
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return 500
}
