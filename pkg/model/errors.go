package model

import (
	"errors"
	"fmt"
)

// ErrorCode represents a structured API error code.
type ErrorCode string

const (
	CodeValidation  ErrorCode = "VALIDATION_ERROR"
	CodeNotFound    ErrorCode = "NOT_FOUND"
	CodeConflict    ErrorCode = "CONFLICT"
	CodeInvalidCron ErrorCode = "INVALID_CRON"
	CodeUnknownTask ErrorCode = "UNKNOWN_TASK"
	CodeInternal    ErrorCode = "INTERNAL_ERROR"
)

// APIError is a structured error returned by the orchestra API.
type APIError struct {
	Code    ErrorCode    `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a validation error on a specific field.
type FieldError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// NewValidationError creates an APIError with validation details.
func NewValidationError(msg string, details ...FieldError) *APIError {
	return &APIError{Code: CodeValidation, Message: msg, Details: details}
}

// NewNotFoundError creates a NOT_FOUND APIError.
func NewNotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s '%s' not found", resource, id),
	}
}

// NewInternalError creates an INTERNAL_ERROR APIError.
func NewInternalError(msg string) *APIError {
	return &APIError{Code: CodeInternal, Message: msg}
}

// Domain errors. Registration errors are returned to the caller wrapped with
// context; runtime dispatch errors end up on sealed execution records.
var (
	ErrDuplicateResource     = errors.New("duplicate resource")
	ErrInvalidCronExpression = errors.New("invalid cron expression")
	ErrUnknownTask           = errors.New("unknown task")
	ErrNoResourceAvailable   = errors.New("no resource available")
	ErrDispatchTimeout       = errors.New("dispatch timeout")
	ErrExternalCallFailure   = errors.New("external call failure")
	ErrInvalidPayload        = errors.New("invalid payload")

	ErrScheduleNotFound = errors.New("schedule not found")
	ErrResourceNotFound = errors.New("resource not found")
	ErrDuplicateName    = errors.New("duplicate schedule name")
)

// ErrorKind classifies the failure stored on an ExecutionRecord.
type ErrorKind string

const (
	KindNone                ErrorKind = ""
	KindNoResourceAvailable ErrorKind = "NoResourceAvailable"
	KindDispatchTimeout     ErrorKind = "DispatchTimeout"
	KindExternalCallFailure ErrorKind = "ExternalCallFailure"
	KindInvalidPayload      ErrorKind = "InvalidPayload"
)

// KindOf maps an error onto the ErrorKind recorded for it. Errors that are not
// one of the runtime sentinels are treated as external call failures.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrNoResourceAvailable):
		return KindNoResourceAvailable
	case errors.Is(err, ErrDispatchTimeout):
		return KindDispatchTimeout
	case errors.Is(err, ErrInvalidPayload):
		return KindInvalidPayload
	default:
		return KindExternalCallFailure
	}
}

// InvalidTransitionError is returned when a state transition is invalid.
type InvalidTransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s state transition: %s → %s (entity %s)", e.Entity, e.From, e.To, e.ID)
}
