// Package errors provides unified error handling with structured error codes
// shared across the capture, playback, and transport layers.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies failures by the boundary they occurred at.
type ErrorCode int

const (
	CodeUnknown ErrorCode = iota
	CodeInternal
	CodeCanceled

	// CodeDevice: audio input device unavailable; retryable with backoff.
	CodeDevice
	// CodeDevicePermission: input device access explicitly denied; terminal.
	CodeDevicePermission
	// CodeChannel: the persistent backend channel closed or errored; session-ending.
	CodeChannel
	// CodeTransport: a single request (upload, fetch, stream) failed; recovered
	// by retrying the listening phase.
	CodeTransport
	// CodeProtocol: malformed backend message; the message is discarded.
	CodeProtocol
	// CodeDecode: playback sink rejected a chunk; triggers buffer-then-play fallback.
	CodeDecode
)

var codeNames = map[ErrorCode]string{
	CodeUnknown:          "UNKNOWN",
	CodeInternal:         "INTERNAL",
	CodeCanceled:         "CANCELED",
	CodeDevice:           "DEVICE",
	CodeDevicePermission: "DEVICE_PERMISSION",
	CodeChannel:          "CHANNEL",
	CodeTransport:        "TRANSPORT",
	CodeProtocol:         "PROTOCOL",
	CodeDecode:           "DECODE",
}

func (c ErrorCode) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return "UNKNOWN"
}

// AppError is the base error type with structured code and metadata.
type AppError struct {
	Code     ErrorCode
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// New creates a new AppError with the given code and message.
func New(code ErrorCode, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code ErrorCode, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// Code extracts the ErrorCode from an error chain, or CodeUnknown.
func Code(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// IsCode checks if an error (or any error it wraps) has a specific code.
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsRetryable returns true if the error is potentially retryable. Permission
// denial and channel loss are terminal for the current session attempt.
func IsRetryable(err error) bool {
	switch Code(err) {
	case CodeDevice, CodeTransport:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if the error must surface to the caller rather
// than be recovered by a retry into the listening phase.
func IsTerminal(err error) bool {
	switch Code(err) {
	case CodeDevicePermission, CodeChannel, CodeCanceled:
		return true
	default:
		return false
	}
}
