package detector

import (
	"errors"
	"fmt"
)

var (
	ErrBackendClosed  = errors.New("inference backend is closed")
	ErrPipelineClosed = errors.New("pipeline is closed")
)

// SetupError means the detector could not be built; nothing works until setup succeeds.
type SetupError struct {
	Message string
	Cause   error
}

func (e *SetupError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("setup: %s: %v", e.Message, e.Cause)
	}
	return "setup: " + e.Message
}

func (e *SetupError) Unwrap() error { return e.Cause }

// PreprocessError rejects a single malformed frame.
type PreprocessError struct {
	Message string
	Cause   error
}

func (e *PreprocessError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("preprocess: %s: %v", e.Message, e.Cause)
	}
	return "preprocess: " + e.Message
}

func (e *PreprocessError) Unwrap() error { return e.Cause }

// InferenceError is a backend failure for a single invocation.
type InferenceError struct {
	Message string
	Cause   error
}

func (e *InferenceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("inference: %s: %v", e.Message, e.Cause)
	}
	return "inference: " + e.Message
}

func (e *InferenceError) Unwrap() error { return e.Cause }

// DecodeError means the raw output could not be interpreted with the configured layout.
type DecodeError struct {
	Message string
	Cause   error
}

func (e *DecodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("decode: %s: %v", e.Message, e.Cause)
	}
	return "decode: " + e.Message
}

func (e *DecodeError) Unwrap() error { return e.Cause }

func setupErrorf(cause error, format string, args ...any) error {
	return &SetupError{Message: fmt.Sprintf(format, args...), Cause: cause}
}

func preprocessErrorf(format string, args ...any) error {
	return &PreprocessError{Message: fmt.Sprintf(format, args...)}
}

func inferenceErrorf(cause error, format string, args ...any) error {
	return &InferenceError{Message: fmt.Sprintf(format, args...), Cause: cause}
}

func decodeErrorf(format string, args ...any) error {
	return &DecodeError{Message: fmt.Sprintf(format, args...)}
}
