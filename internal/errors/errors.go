// Package errors defines the categorized error kinds of the portfolio ledger
// and their mapping to HTTP status codes.
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/portfolio-ledger/internal/types"
)

// Category represents the category of an error
type Category string

const (
	// CategoryValidation represents rejected input, checked before any state change
	CategoryValidation Category = "validation"
	// CategoryNotFound represents an unknown portfolio or resource id
	CategoryNotFound Category = "not_found"
	// CategoryTrade represents a trade rejected by the ledger (no partial mutation)
	CategoryTrade Category = "trade"
	// CategoryPersistence represents a storage adapter failure (logged, non-fatal)
	CategoryPersistence Category = "persistence"
	// CategorySerialization represents a malformed import/restore payload
	CategorySerialization Category = "serialization"
	// CategorySystem represents an unexpected internal failure
	CategorySystem Category = "system"
)

// Error codes surfaced to callers. These are stable identifiers; the ledger
// guarantees that trade rejections leave state exactly as it was.
const (
	CodeValidation           = "VALIDATION_ERROR"
	CodeNotFound             = "NOT_FOUND"
	CodeInsufficientCash     = "INSUFFICIENT_CASH"
	CodeInsufficientPosition = "INSUFFICIENT_POSITION"
	CodePersistence          = "PERSISTENCE_ERROR"
	CodeDeserialization      = "DESERIALIZATION_ERROR"
	CodeInternal             = "INTERNAL_ERROR"
)

// LedgerError is an error with a category, stable code and HTTP status.
type LedgerError struct {
	Category   Category
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *LedgerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *LedgerError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to the wire-level ServiceError form.
func (e *LedgerError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// NewValidationError creates a validation error for a rejected input field.
func NewValidationError(field, reason string) *LedgerError {
	return &LedgerError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       CodeValidation,
		Message:    fmt.Sprintf("invalid %s: %s", field, reason),
		Details: map[string]interface{}{
			"field":  field,
			"reason": reason,
		},
	}
}

// NewNotFoundError creates a not found error for an unknown resource id.
func NewNotFoundError(resource, id string) *LedgerError {
	return &LedgerError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewInsufficientCashError creates the rejection for a buy exceeding cash.
func NewInsufficientCashError(required, available string) *LedgerError {
	return &LedgerError{
		Category:   CategoryTrade,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       CodeInsufficientCash,
		Message:    fmt.Sprintf("insufficient cash: required %s, available %s", required, available),
		Details: map[string]interface{}{
			"required":  required,
			"available": available,
		},
	}
}

// NewInsufficientPositionError creates the rejection for a sell exceeding the holding.
func NewInsufficientPositionError(token, requested, held string) *LedgerError {
	return &LedgerError{
		Category:   CategoryTrade,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       CodeInsufficientPosition,
		Message:    fmt.Sprintf("insufficient position in %s: requested %s, held %s", token, requested, held),
		Details: map[string]interface{}{
			"token":     token,
			"requested": requested,
			"held":      held,
		},
	}
}

// NewPersistenceError wraps a storage adapter failure. In-memory state remains
// authoritative when this is returned from a write path.
func NewPersistenceError(operation string, cause error) *LedgerError {
	return &LedgerError{
		Category:   CategoryPersistence,
		StatusCode: http.StatusInternalServerError,
		Code:       CodePersistence,
		Message:    fmt.Sprintf("persistence failure during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewDeserializationError wraps a malformed import or restore payload.
func NewDeserializationError(what string, cause error) *LedgerError {
	return &LedgerError{
		Category:   CategorySerialization,
		StatusCode: http.StatusBadRequest,
		Code:       CodeDeserialization,
		Message:    fmt.Sprintf("malformed %s payload", what),
		Cause:      cause,
		Details: map[string]interface{}{
			"payload": what,
		},
	}
}

// NewInternalError creates an unexpected internal error.
func NewInternalError(message string, cause error) *LedgerError {
	return &LedgerError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeInternal,
		Message:    message,
		Cause:      cause,
	}
}

// Categorize converts an arbitrary error into a LedgerError.
func Categorize(err error) *LedgerError {
	if err == nil {
		return nil
	}
	var ledgerErr *LedgerError
	if errors.As(err, &ledgerErr) {
		return ledgerErr
	}
	var svcErr *types.ServiceError
	if errors.As(err, &svcErr) {
		return &LedgerError{
			Category:   CategorySystem,
			StatusCode: statusForCode(svcErr.Code),
			Code:       svcErr.Code,
			Message:    svcErr.Message,
			Details:    svcErr.Details,
		}
	}
	return NewInternalError("unexpected error", err)
}

func statusForCode(code string) int {
	switch code {
	case CodeValidation, CodeDeserialization:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInsufficientCash, CodeInsufficientPosition:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// GetHTTPStatusCode returns the HTTP status code for an error.
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsTradeRejection reports whether the error is an all-or-nothing trade
// rejection rather than a system failure.
func IsTradeRejection(err error) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Category == CategoryTrade
}

// IsNotFound reports whether the error is an unknown-id lookup failure.
func IsNotFound(err error) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Category == CategoryNotFound
}

// IsRetryable reports whether the operation may be retried safely.
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Category == CategoryPersistence
}
