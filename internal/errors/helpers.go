package errors

import (
	"fmt"
)

// Common error creators for frequent use cases

// NewDatabaseError creates a store error with operation context
func NewDatabaseError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeDatabaseQuery, fmt.Sprintf("database %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Storage operation failed")
}

// NewDispatchError marks a dispatch as abandoned after a persistence failure.
// No delivery task may be enqueued for the message once this is returned.
func NewDispatchError(messageKind string, err error) *AppError {
	return Wrap(err, ErrCodeDispatch, fmt.Sprintf("failed to dispatch %s message", messageKind)).
		WithContext("message_kind", messageKind).
		WithUserMessage("Message could not be queued for delivery")
}

// NewEnqueueError wraps a job queue persistence failure. Enqueue failures are
// retryable at the store level.
func NewEnqueueError(taskKind string, err error) *AppError {
	return WrapRetryable(err, ErrCodeQueueEnqueue, "failed to enqueue delivery task").
		WithContext("task_kind", taskKind)
}

// NewCorruptStateError flags stored data that should have been well-formed
// when it was accepted into the store. Never retryable.
func NewCorruptStateError(detail string, err error) *AppError {
	return Wrap(err, ErrCodeCorruptState, detail).
		WithUserMessage("Stored message data is corrupt")
}

// NewValidationError creates a validation error with field context
func NewValidationError(field, value, message string) *AppError {
	return New(ErrCodeValidationFailed, message).
		WithContext("field", field).
		WithContext("value", value).
		WithUserMessage(fmt.Sprintf("Invalid %s: %s", field, message))
}

// NewConfigError creates a configuration error
func NewConfigError(key, message string) *AppError {
	return New(ErrCodeInvalidConfig, message).
		WithContext("config_key", key).
		WithUserMessage("Configuration error")
}
