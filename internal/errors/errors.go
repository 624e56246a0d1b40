package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// APIError represents a standardized API error response
type APIError struct {
	Code    ErrorCode  `json:"code"`
	Message string     `json:"message"`
	Field   string     `json:"field,omitempty"`
	Details string     `json:"details,omitempty"`
	Status  int        `json:"-"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// MarshalJSON customizes JSON encoding
func (e *APIError) MarshalJSON() ([]byte, error) {
	type Alias APIError
	return json.Marshal(&struct {
		*Alias
	}{
		Alias: (*Alias)(e),
	})
}

// NotFound creates a NOT_FOUND error
func NotFound(resource string) *APIError {
	return &APIError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Status:  http.StatusNotFound,
	}
}

// Unauthorized creates an UNAUTHORIZED error
func Unauthorized(message string) *APIError {
	return &APIError{
		Code:    ErrUnauthorized,
		Message: message,
		Status:  http.StatusUnauthorized,
	}
}

// Forbidden creates a FORBIDDEN error
func Forbidden(message string) *APIError {
	return &APIError{
		Code:    ErrForbidden,
		Message: message,
		Status:  http.StatusForbidden,
	}
}

// Conflict creates a CONFLICT error
func Conflict(resource string) *APIError {
	return &APIError{
		Code:    ErrConflict,
		Message: fmt.Sprintf("%s already exists or is in an invalid state", resource),
		Status:  http.StatusConflict,
	}
}

// ValidationError creates a VALIDATION_ERROR
func ValidationError(field, message string) *APIError {
	return &APIError{
		Code:    ErrValidation,
		Message: message,
		Field:   field,
		Status:  http.StatusUnprocessableEntity,
	}
}

// BadRequest creates a BAD_REQUEST error
func BadRequest(message string) *APIError {
	return &APIError{
		Code:    ErrBadRequest,
		Message: message,
		Status:  http.StatusBadRequest,
	}
}

// InternalError creates an INTERNAL_ERROR
func InternalError(message string) *APIError {
	return &APIError{
		Code:    ErrInternalError,
		Message: message,
		Status:  http.StatusInternalServerError,
	}
}

// AlreadyExists creates an ALREADY_EXISTS error
func AlreadyExists(resource string) *APIError {
	return &APIError{
		Code:    ErrAlreadyExists,
		Message: fmt.Sprintf("%s already exists", resource),
		Status:  http.StatusConflict,
	}
}

// RateLimited creates a RATE_LIMITED error
func RateLimited(message string) *APIError {
	if message == "" {
		message = "rate limit exceeded"
	}
	return &APIError{
		Code:    ErrRateLimited,
		Message: message,
		Status:  http.StatusTooManyRequests,
	}
}

// ServiceUnavailable creates a SERVICE_UNAVAILABLE error
func ServiceUnavailable(service string) *APIError {
	return &APIError{
		Code:    ErrServiceUnavail,
		Message: fmt.Sprintf("%s is temporarily unavailable", service),
		Status:  http.StatusServiceUnavailable,
	}
}

// Timeout creates a TIMEOUT error
func Timeout(operation string) *APIError {
	return &APIError{
		Code:    ErrTimeout,
		Message: fmt.Sprintf("%s timed out", operation),
		Status:  http.StatusGatewayTimeout,
	}
}

// WithDetails adds additional details to an error
func (e *APIError) WithDetails(details string) *APIError {
	e.Details = details
	return e
}

// PermissionDenied creates a PERMISSION_DENIED error. Recovered locally by
// returning to the caller; never propagated across the fabric.
func PermissionDenied(message string) *APIError {
	return &APIError{
		Code:    ErrPermissionDenied,
		Message: message,
		Status:  ErrPermissionDenied.StatusCode(),
	}
}

// InvalidOperation creates an INVALID_OPERATION error for a bad position,
// length, op kind, or document mismatch. Rejected at submit.
func InvalidOperation(message string) *APIError {
	return &APIError{
		Code:    ErrInvalidOperation,
		Message: message,
		Status:  ErrInvalidOperation.StatusCode(),
	}
}

// SequenceGap creates a SEQUENCE_GAP error. The op is buffered by the
// ordering queue; this is reported only once the gap timeout escalates it.
func SequenceGap(author string, gotSeq, wantSeq uint64) *APIError {
	return &APIError{
		Code:    ErrSequenceGap,
		Message: fmt.Sprintf("author %s sent seq %d, expected %d", author, gotSeq, wantSeq),
		Status:  ErrSequenceGap.StatusCode(),
	}
}

// UnknownDocument creates an UNKNOWN_DOCUMENT error. Fatal for the request,
// not for the process.
func UnknownDocument(documentID string) *APIError {
	return &APIError{
		Code:    ErrUnknownDocument,
		Message: fmt.Sprintf("document %s is not known to this instance", documentID),
		Status:  ErrUnknownDocument.StatusCode(),
	}
}

// Backpressure creates a BACKPRESSURE error. The caller decides to drop,
// buffer, or retry with backoff.
func Backpressure(queue string) *APIError {
	return &APIError{
		Code:    ErrBackpressure,
		Message: fmt.Sprintf("%s queue exceeded its high-water mark", queue),
		Status:  ErrBackpressure.StatusCode(),
	}
}

// FabricUnavailable creates a FABRIC_UNAVAILABLE error. Transient; local
// commits continue. The failed broadcast is not queued or replayed.
func FabricUnavailable(reason string) *APIError {
	return &APIError{
		Code:    ErrFabricUnavailable,
		Message: reason,
		Status:  ErrFabricUnavailable.StatusCode(),
	}
}

// UnreachableVersion creates an UNREACHABLE_VERSION error for a rollback
// target no checkpoint can reach. No state change occurs.
func UnreachableVersion(target uint64) *APIError {
	return &APIError{
		Code:    ErrUnreachableVersion,
		Message: fmt.Sprintf("no checkpoint covers target version %d", target),
		Status:  ErrUnreachableVersion.StatusCode(),
	}
}

// Inconsistency creates an INCONSISTENCY error for a document invariant
// violation. Building the error has no side effects: the document is not
// quarantined and nothing is reported on the system channel.
func Inconsistency(documentID, detail string) *APIError {
	return &APIError{
		Code:    ErrInconsistency,
		Message: fmt.Sprintf("document %s invariant violation: %s", documentID, detail),
		Status:  ErrInconsistency.StatusCode(),
	}
}
