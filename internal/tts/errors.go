package tts

import (
	"errors"
	"fmt"
)

// Common synthesis errors
var (
	// ErrEngineNotFound indicates an unknown engine name was configured
	ErrEngineNotFound = errors.New("tts: unknown engine")

	// ErrEngineNotAvailable indicates the engine binary or model is missing
	ErrEngineNotAvailable = errors.New("tts: engine not available")

	// ErrEmptyText indicates nothing speakable remained after normalization
	ErrEmptyText = errors.New("tts: no speakable text")

	// ErrTextTooLong indicates text exceeds the engine input limit
	ErrTextTooLong = errors.New("tts: text too long")

	// ErrEmptyAudio indicates the engine finished without producing audio
	ErrEmptyAudio = errors.New("tts: engine produced no audio")

	// ErrInvalidSpeed indicates speed value is out of range
	ErrInvalidSpeed = errors.New("tts: speed must be between 0.25 and 4.0")

	// ErrInvalidVoiceConfig indicates the voice mix string could not be used
	ErrInvalidVoiceConfig = errors.New("tts: invalid voice config")

	// ErrTimeout indicates synthesis ran past its deadline
	ErrTimeout = errors.New("tts: synthesis timed out")
)

// SynthesisError carries the failing stage of a synthesis call.
type SynthesisError struct {
	Code      ErrorCode
	MessageID int64
	Message   string
	Cause     error
}

// Error implements the error interface
func (e *SynthesisError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: message %d: %s: %v", e.Code, e.MessageID, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: message %d: %s", e.Code, e.MessageID, e.Message)
}

// Unwrap returns the underlying error
func (e *SynthesisError) Unwrap() error {
	return e.Cause
}

// ErrorCode identifies specific error types
type ErrorCode string

const (
	ErrorCodeInvalidInput  ErrorCode = "INVALID_INPUT"
	ErrorCodeEngineFailure ErrorCode = "ENGINE_FAILURE"
	ErrorCodeEngineTimeout ErrorCode = "ENGINE_TIMEOUT"
	ErrorCodeOutput        ErrorCode = "OUTPUT_FAILURE"
)

// NewSynthesisError creates a new synthesis error.
func NewSynthesisError(code ErrorCode, id int64, message string, cause error) *SynthesisError {
	return &SynthesisError{
		Code:      code,
		MessageID: id,
		Message:   message,
		Cause:     cause,
	}
}

// IsRetryable reports whether running the same synthesis again could
// succeed. The worker never retries on its own; this is surfaced to
// operators through logs.
func (e *SynthesisError) IsRetryable() bool {
	return e.Code == ErrorCodeEngineTimeout
}

// Code extracts the ErrorCode from err, or "" when err carries none.
func Code(err error) ErrorCode {
	var se *SynthesisError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}
