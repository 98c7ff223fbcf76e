package model

import (
	"errors"
	"fmt"
)

// ErrorCode represents a structured error code shared by the scheduler
// core and the API.
type ErrorCode string

const (
	ErrInvalidHandle      ErrorCode = "INVALID_HANDLE"
	ErrConfiguration      ErrorCode = "CONFIGURATION_ERROR"
	ErrInvariantViolation ErrorCode = "INVARIANT_VIOLATION"
	ErrNotStarted         ErrorCode = "NOT_STARTED"
	ErrAlreadyStarted     ErrorCode = "ALREADY_STARTED"
	ErrInvalidState       ErrorCode = "INVALID_STATE"

	ErrValidation ErrorCode = "VALIDATION_ERROR"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
)

// SchedulerError is returned by every scheduler operation that fails.
type SchedulerError struct {
	Code    ErrorCode
	Message string
	TaskID  TaskID
}

func (e *SchedulerError) Error() string {
	if e.TaskID != NoTask {
		return fmt.Sprintf("%s: task %d: %s", e.Code, e.TaskID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any SchedulerError carrying the same code, so callers can
// write errors.Is(err, model.InvalidHandle).
func (e *SchedulerError) Is(target error) bool {
	var t *SchedulerError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is comparisons.
var (
	InvalidHandle      = &SchedulerError{Code: ErrInvalidHandle, TaskID: NoTask}
	ConfigurationError = &SchedulerError{Code: ErrConfiguration, TaskID: NoTask}
	InvariantViolation = &SchedulerError{Code: ErrInvariantViolation, TaskID: NoTask}
	NotStarted         = &SchedulerError{Code: ErrNotStarted, TaskID: NoTask}
	AlreadyStarted     = &SchedulerError{Code: ErrAlreadyStarted, TaskID: NoTask}
	InvalidState       = &SchedulerError{Code: ErrInvalidState, TaskID: NoTask}
)

// NewInvalidHandleError reports an unknown or deleted task handle.
func NewInvalidHandleError(id TaskID, reason string) *SchedulerError {
	return &SchedulerError{Code: ErrInvalidHandle, Message: reason, TaskID: id}
}

// NewConfigurationError reports an invalid scheduler configuration value.
func NewConfigurationError(format string, args ...any) *SchedulerError {
	return &SchedulerError{Code: ErrConfiguration, Message: fmt.Sprintf(format, args...), TaskID: NoTask}
}

// NewInvariantViolation reports internal scheduler inconsistency.
func NewInvariantViolation(format string, args ...any) *SchedulerError {
	return &SchedulerError{Code: ErrInvariantViolation, Message: fmt.Sprintf(format, args...), TaskID: NoTask}
}

// CodeOf extracts the ErrorCode from err, or ErrInternal.
func CodeOf(err error) ErrorCode {
	var se *SchedulerError
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrInternal
}

// APIError is a structured error returned by the HTTP API.
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
	return &APIError{Code: ErrValidation, Message: msg, Details: details}
}

// NewNotFoundError creates a NOT_FOUND APIError.
func NewNotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s '%s' not found", resource, id),
	}
}

// InvalidTransitionError is returned when a task state transition is invalid.
type InvalidTransitionError struct {
	ID   TaskID
	From TaskState
	To   TaskState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid task state transition: %s → %s (task %d)", e.From, e.To, e.ID)
}

// NewInternalError creates an INTERNAL_ERROR APIError.
func NewInternalError(msg string) *APIError {
	return &APIError{Code: ErrInternal, Message: msg}
}

// ToAPIError converts a scheduler error to its API form.
func ToAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	var se *SchedulerError
	if errors.As(err, &se) {
		return &APIError{Code: se.Code, Message: se.Error()}
	}
	return NewInternalError(err.Error())
}
