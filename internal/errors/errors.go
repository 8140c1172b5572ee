package errors

import (
	"errors"
	"fmt"
	"time"
)

// Base error types
var (
	ErrNoCommandsAvailable = errors.New("no commands available")
	ErrCommandNotFound     = errors.New("command not found")
	ErrDecode              = errors.New("decode failed")
	ErrBackend             = errors.New("backend failure")
	ErrTimeout             = errors.New("timeout")
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeDecode  ErrorType = "decode"
	ErrorTypeBackend ErrorType = "backend"
	ErrorTypeTimeout ErrorType = "timeout"
)

// DispatchError is a structured error for a single command dispatch
type DispatchError struct {
	Type      ErrorType
	Op        string // Operation that failed (e.g., "send_rt", "decode_datagram")
	Command   string // Command name if known
	Code      uint32 // Command code if known
	Err       error  // Underlying error
	Timestamp time.Time
}

func (e *DispatchError) Error() string {
	if e.Command != "" {
		return fmt.Sprintf("%s failed for %s (0x%04X): %v", e.Op, e.Command, e.Code, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *DispatchError) Is(target error) bool {
	if target == nil {
		return false
	}

	switch target {
	case ErrDecode:
		return e.Type == ErrorTypeDecode
	case ErrBackend:
		return e.Type == ErrorTypeBackend || e.Type == ErrorTypeTimeout
	case ErrTimeout:
		return e.Type == ErrorTypeTimeout
	}

	return errors.Is(e.Err, target)
}

// NewDispatchError creates a new DispatchError
func NewDispatchError(errorType ErrorType, op string, err error) *DispatchError {
	return &DispatchError{
		Type:      errorType,
		Op:        op,
		Err:       err,
		Timestamp: time.Now(),
	}
}

// WithCommand attaches the command identity to the error
func (e *DispatchError) WithCommand(name string, code uint32) *DispatchError {
	e.Command = name
	e.Code = code
	return e
}

// WrapBackendError wraps a backend error with context
func WrapBackendError(op, name string, code uint32, err error) error {
	return NewDispatchError(ErrorTypeBackend, op, err).WithCommand(name, code)
}

// WrapTimeoutError wraps a backend call that ran out of time
func WrapTimeoutError(op, name string, code uint32, err error) error {
	return NewDispatchError(ErrorTypeTimeout, op, err).WithCommand(name, code)
}

// WrapDecodeError wraps a wire decoding error
func WrapDecodeError(op string, err error) error {
	return NewDispatchError(ErrorTypeDecode, op, err)
}

// IsSelectionError reports whether err is a caller-visible selection failure.
func IsSelectionError(err error) bool {
	return errors.Is(err, ErrNoCommandsAvailable) || errors.Is(err, ErrCommandNotFound)
}
