package blkmigrate

import (
	"errors"
	"fmt"
	"syscall"
)

// Error represents a structured migration error with context and
// errno mapping, per the error taxonomy of spec §7.
type Error struct {
	Op     string        // Operation that failed (e.g., "bulk_step", "dirty_step")
	Device string        // Device name (empty if not applicable)
	Code   ErrorCode     // High-level error category
	Errno  syscall.Errno // Underlying errno (0 if not applicable)
	Msg    string        // Human-readable message
	Inner  error         // Wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Device != "" {
		parts = append(parts, fmt.Sprintf("device=%s", e.Device))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("blkmigrate: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("blkmigrate: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is provides errors.Is support by error code.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode represents high-level error categories from spec §7.
type ErrorCode string

const (
	ErrCodeTransportIO       ErrorCode = "transport I/O error"
	ErrCodeBlockReadError    ErrorCode = "block read error"
	ErrCodeBlockWriteError   ErrorCode = "block write error"
	ErrCodeUnknownDevice     ErrorCode = "unknown device"
	ErrCodeUnknownFlags      ErrorCode = "unrecognized frame flags"
	ErrCodeSessionAborted    ErrorCode = "migration session aborted"
	ErrCodeInvalidParameters ErrorCode = "invalid parameters"
	ErrCodeNotActive         ErrorCode = "migration not active"
)

// NewError creates a new structured error.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewDeviceError creates a new device-specific error.
func NewDeviceError(op, device string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Device: device, Code: code, Msg: msg}
}

// WrapError wraps an existing error with migration-engine context,
// mapping common syscall errnos to error codes.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	if be, ok := inner.(*Error); ok {
		return &Error{
			Op:     op,
			Device: be.Device,
			Code:   be.Code,
			Errno:  be.Errno,
			Msg:    be.Msg,
			Inner:  be.Inner,
		}
	}

	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{
			Op:    op,
			Code:  mapErrnoToCode(errno),
			Errno: errno,
			Msg:   errno.Error(),
			Inner: inner,
		}
	}

	return &Error{
		Op:    op,
		Code:  ErrCodeTransportIO,
		Msg:   inner.Error(),
		Inner: inner,
	}
}

func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.ENOENT:
		return ErrCodeUnknownDevice
	case syscall.EIO:
		return ErrCodeBlockReadError
	case syscall.EINVAL:
		return ErrCodeInvalidParameters
	default:
		return ErrCodeTransportIO
	}
}

// IsCode checks if an error matches a specific error code.
func IsCode(err error, code ErrorCode) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Code == code
	}
	return false
}
