package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestVerificationErrorWrapping(t *testing.T) {
	cause := stderrors.New("tesseract: no image")
	err := NewRecognitionFailedError("42", "tesseract", cause)

	assert.Equal(t, "RECOGNITION_FAILED: Recognition failed in engine: tesseract (caused by: tesseract: no image)", err.Error())
	assert.ErrorIs(t, err, cause)

	wrapped := fmt.Errorf("photo handling: %w", err)
	assert.True(t, HasCode(wrapped, ErrorRecognitionFailed))
	assert.False(t, HasCode(wrapped, ErrorInvalidHandle))
	assert.False(t, HasCode(cause, ErrorRecognitionFailed))
}

func TestToMap(t *testing.T) {
	err := NewRecognitionTimeoutError("7", 30*time.Second, stderrors.New("context deadline exceeded"))
	m := err.ToMap()

	assert.Equal(t, "RECOGNITION_TIMEOUT", m["error_code"])
	assert.Equal(t, "7", m["user_id"])
	assert.Equal(t, "30s", m["timeout_duration"])
	assert.Equal(t, "context deadline exceeded", m["cause"])
}

func TestErrorWithoutCause(t *testing.T) {
	err := NewInvalidHandleError("1", "a very long invalid handle!")
	assert.Equal(t, "INVALID_HANDLE: Handle must be 1-15 letters, digits or underscores", err.Error())
	assert.Nil(t, err.Unwrap())
	assert.NotContains(t, err.ToMap(), "cause")
}
