package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard error types
var (
	ErrNotFound               = errors.New("resource not found")
	ErrBadRequest             = errors.New("bad request")
	ErrConflict               = errors.New("resource conflict")
	ErrInternal               = errors.New("internal server error")
	ErrValidation             = errors.New("validation error")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrInsufficientBatchStock = errors.New("insufficient batch stock")
	ErrInvalidMovementType    = errors.New("invalid movement type")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrTransient              = errors.New("transient store failure")
)

// AppError represents an application error with context.
// Callers branch on Code, which is a small closed set, never on messages.
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	Code       string            `json:"code"`
	StatusCode int               `json:"status_code"`
	Details    map[string]string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError
func New(code string, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, code string, message string, statusCode int) *AppError {
	return &AppError{
		Err:        err,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// WithDetails adds details to an AppError
func (e *AppError) WithDetails(details map[string]string) *AppError {
	e.Details = details
	return e
}

// Common error constructors

func NotFound(resource string) *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
	}
}

func ProductNotFound(productID string) *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Code:       "PRODUCT_NOT_FOUND",
		Message:    "product not found",
		StatusCode: http.StatusNotFound,
		Details:    map[string]string{"product_id": productID},
	}
}

func BadRequest(message string) *AppError {
	return &AppError{
		Err:        ErrBadRequest,
		Code:       "BAD_REQUEST",
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Err:        ErrConflict,
		Code:       "CONFLICT",
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func Internal(message string) *AppError {
	return &AppError{
		Err:        ErrInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

func Validation(details map[string]string) *AppError {
	return &AppError{
		Err:        ErrValidation,
		Code:       "VALIDATION_ERROR",
		Message:    "validation failed",
		StatusCode: http.StatusBadRequest,
		Details:    details,
	}
}

// InsufficientStock signals that an outbound movement would drive a
// materialized counter below zero. The counter is left untouched.
func InsufficientStock(productID, variant string, available, requested int) *AppError {
	return &AppError{
		Err:        ErrInsufficientStock,
		Code:       "INSUFFICIENT_STOCK",
		Message:    fmt.Sprintf("insufficient %s stock: %d available, %d requested", variant, available, requested),
		StatusCode: http.StatusConflict,
		Details:    map[string]string{"product_id": productID, "variant": variant},
	}
}

// InsufficientBatchStock signals that a non-partial allocation could not be
// fully satisfied from active batches. No movements were committed.
func InsufficientBatchStock(productID string, available, requested int) *AppError {
	return &AppError{
		Err:        ErrInsufficientBatchStock,
		Code:       "INSUFFICIENT_BATCH_STOCK",
		Message:    fmt.Sprintf("insufficient batch stock: %d available, %d requested", available, requested),
		StatusCode: http.StatusConflict,
		Details:    map[string]string{"product_id": productID},
	}
}

func InvalidMovementType(movementType string) *AppError {
	return &AppError{
		Err:        ErrInvalidMovementType,
		Code:       "INVALID_MOVEMENT_TYPE",
		Message:    fmt.Sprintf("invalid movement type %q", movementType),
		StatusCode: http.StatusBadRequest,
	}
}

// ConcurrentModification signals that the bounded optimistic retry budget
// was exhausted. The caller may retry the whole operation.
func ConcurrentModification(resource string) *AppError {
	return &AppError{
		Err:        ErrConcurrentModification,
		Code:       "CONCURRENT_MODIFICATION",
		Message:    fmt.Sprintf("%s was modified concurrently, please retry", resource),
		StatusCode: http.StatusConflict,
	}
}

// Transient marks a backing-store failure that should be retried via the
// outbox rather than surfaced as data loss.
func Transient(err error) *AppError {
	return &AppError{
		Err:        ErrTransient,
		Code:       "STORE_UNAVAILABLE",
		Message:    fmt.Sprintf("backing store unavailable: %v", err),
		StatusCode: http.StatusServiceUnavailable,
	}
}

// Is checks if the error matches a target error
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As attempts to convert an error to a specific type
func As(err error, target any) bool {
	return errors.As(err, target)
}
