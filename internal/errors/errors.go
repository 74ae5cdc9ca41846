package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Custom error types for the follow verification worker
 *
 * Design Pattern: Factory Pattern for error creation
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Input errors
	ErrorInvalidHandle   ErrorCode = "INVALID_HANDLE"
	ErrorWrongStep       ErrorCode = "WRONG_STEP"
	ErrorSessionNotFound ErrorCode = "SESSION_NOT_FOUND"
	ErrorCaseNotFound    ErrorCode = "CASE_NOT_FOUND"

	// Recognition errors
	ErrorRecognitionFailed   ErrorCode = "RECOGNITION_FAILED"
	ErrorRecognitionTimeout  ErrorCode = "RECOGNITION_TIMEOUT"
	ErrorEvidenceUnavailable ErrorCode = "EVIDENCE_UNAVAILABLE"

	// Downstream errors
	ErrorStorageFailed ErrorCode = "STORAGE_FAILED"
	ErrorNotifyFailed  ErrorCode = "NOTIFY_FAILED"
)

// VerificationError represents a structured verification error
type VerificationError struct {
	Code      ErrorCode
	Message   string
	UserID    string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *VerificationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *VerificationError) Unwrap() error {
	return e.Cause
}

// HasCode reports whether err wraps a VerificationError with the given code.
func HasCode(err error, code ErrorCode) bool {
	var verr *VerificationError
	return stderrors.As(err, &verr) && verr.Code == code
}

// Factory functions for common errors

func NewInvalidHandleError(userID string, input string) *VerificationError {
	return &VerificationError{
		Code:      ErrorInvalidHandle,
		Message:   "Handle must be 1-15 letters, digits or underscores",
		UserID:    userID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"input_length": len(input),
		},
	}
}

func NewWrongStepError(userID string, step string, operation string) *VerificationError {
	return &VerificationError{
		Code:      ErrorWrongStep,
		Message:   fmt.Sprintf("%s is not allowed in step %s", operation, step),
		UserID:    userID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"step":      step,
			"operation": operation,
		},
	}
}

func NewSessionNotFoundError(userID string) *VerificationError {
	return &VerificationError{
		Code:      ErrorSessionNotFound,
		Message:   "No verification session",
		UserID:    userID,
		Timestamp: time.Now(),
	}
}

func NewCaseNotFoundError(ref string) *VerificationError {
	return &VerificationError{
		Code:      ErrorCaseNotFound,
		Message:   fmt.Sprintf("No pending review for %s", ref),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"ref": ref,
		},
	}
}

func NewRecognitionFailedError(userID string, engine string, cause error) *VerificationError {
	return &VerificationError{
		Code:      ErrorRecognitionFailed,
		Message:   fmt.Sprintf("Recognition failed in engine: %s", engine),
		UserID:    userID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"engine": engine,
		},
		Cause: cause,
	}
}

func NewRecognitionTimeoutError(userID string, duration time.Duration, cause error) *VerificationError {
	return &VerificationError{
		Code:      ErrorRecognitionTimeout,
		Message:   fmt.Sprintf("Recognition timed out after %v", duration),
		UserID:    userID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewEvidenceUnavailableError(userID string, cause error) *VerificationError {
	return &VerificationError{
		Code:      ErrorEvidenceUnavailable,
		Message:   "Screenshot could not be loaded",
		UserID:    userID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewStorageFailedError(userID string, cause error) *VerificationError {
	return &VerificationError{
		Code:      ErrorStorageFailed,
		Message:   "Failed to store verification result",
		UserID:    userID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewNotifyFailedError(target string, cause error) *VerificationError {
	return &VerificationError{
		Code:      ErrorNotifyFailed,
		Message:   fmt.Sprintf("Failed to deliver message to %s", target),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"target": target,
		},
		Cause: cause,
	}
}

// ToMap converts error to map for event payloads and logs
func (e *VerificationError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	if e.UserID != "" {
		result["user_id"] = e.UserID
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
