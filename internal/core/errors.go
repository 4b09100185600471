package core

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatConfig     ErrorCategory = "config"     // Invalid configuration, aborts before work starts
	ErrCatValidation ErrorCategory = "validation" // Invalid input or malformed request
	ErrCatTransient  ErrorCategory = "transient"  // Timeout, connection reset
	ErrCatRateLimit  ErrorCategory = "rate_limit" // Provider signaled throttling
	ErrCatSchema     ErrorCategory = "schema"     // Response failed structural validation
	ErrCatState      ErrorCategory = "state"      // Checkpoint corruption/conflict
	ErrCatAuth       ErrorCategory = "auth"       // Authentication failure
	ErrCatNotFound   ErrorCategory = "not_found"  // Resource or symbol not found
	ErrCatInternal   ErrorCategory = "internal"   // Unexpected internal error
)

// DomainError represents a structured error from the domain layer.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithRetryAfter records a provider-supplied wait duration. Retry scheduling
// uses it in place of the computed backoff delay.
func (e *DomainError) WithRetryAfter(d time.Duration) *DomainError {
	return e.WithDetail(detailRetryAfter, d)
}

const detailRetryAfter = "retry_after"

// ErrConfig creates a configuration error. Fatal: the run aborts before any
// file is processed.
func ErrConfig(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatConfig,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrValidation creates a validation error.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatValidation,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrTransient creates a transient error (timeout, connection reset).
func ErrTransient(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatTransient,
		Code:      code,
		Message:   message,
		Retryable: true,
	}
}

// ErrTimeout creates a transient timeout error.
func ErrTimeout(message string) *DomainError {
	return ErrTransient("TIMEOUT", message)
}

// ErrRateLimit creates a rate limit error.
func ErrRateLimit(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatRateLimit,
		Code:      "RATE_LIMITED",
		Message:   message,
		Retryable: true,
	}
}

// ErrSchema creates a schema validation error for a malformed model reply.
// Retried under a separate small limit, independent of the transient budget.
func ErrSchema(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatSchema,
		Code:      CodeSchemaInvalid,
		Message:   message,
		Retryable: true,
	}
}

// ErrState creates a persistence error.
func ErrState(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatState,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrAuth creates an authentication error. Never retried.
func ErrAuth(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatAuth,
		Code:      "AUTH_FAILED",
		Message:   message,
		Retryable: false,
	}
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category:  ErrCatNotFound,
		Code:      "NOT_FOUND",
		Message:   fmt.Sprintf("%s not found: %s", resource, id),
		Retryable: false,
	}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// IsSchemaInvalid reports whether err is a schema validation failure.
func IsSchemaInvalid(err error) bool {
	return IsCategory(err, ErrCatSchema)
}

// RetryAfterOf extracts a provider-supplied wait duration from err or any
// error it wraps.
func RetryAfterOf(err error) (time.Duration, bool) {
	for err != nil {
		var domErr *DomainError
		if !errors.As(err, &domErr) {
			return 0, false
		}
		if domErr.Details != nil {
			if d, ok := domErr.Details[detailRetryAfter].(time.Duration); ok && d > 0 {
				return d, true
			}
		}
		err = domErr.Unwrap()
	}
	return 0, false
}

// Predefined error codes
const (
	CodeProviderNotFound  = "PROVIDER_NOT_FOUND"
	CodeInvalidState      = "INVALID_STATE"
	CodeLockAcquireFailed = "LOCK_ACQUIRE_FAILED"
	CodeStateCorrupted    = "STATE_CORRUPTED"
	CodeSchemaInvalid     = "SCHEMA_INVALID"
	CodeProviderFailed    = "PROVIDER_FAILED"

	// Validation error codes
	CodeEmptyPrompt = "EMPTY_PROMPT"
	CodeNoFiles     = "NO_FILES"
	CodeBadRequest  = "BAD_REQUEST"
)
