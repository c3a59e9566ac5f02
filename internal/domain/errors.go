package domain

import (
	"errors"
	"fmt"
)

// ErrorCode is the machine-readable error code surfaced to callers.
type ErrorCode string

const (
	CodeValidation      ErrorCode = "VALIDATION"
	CodeCapacity        ErrorCode = "CAPACITY"
	CodeUnavailable     ErrorCode = "UNAVAILABLE"
	CodeTimeout         ErrorCode = "TIMEOUT"
	CodeExecutionFailed ErrorCode = "EXECUTION_FAILED"
	CodeNotFound        ErrorCode = "NOT_FOUND"
	CodeExpired         ErrorCode = "EXPIRED"
	CodeAlreadyResolved ErrorCode = "ALREADY_RESOLVED"
	CodeCancelled       ErrorCode = "CANCELLED"
	CodeUnauthorized    ErrorCode = "UNAUTHORIZED"
	CodeInternal        ErrorCode = "INTERNAL"
)

// Error is a classified bridge error. Message is safe to show to callers;
// Err is the underlying cause and stays server side.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a classified error.
func NewError(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError classifies err under code.
func WrapError(code ErrorCode, err error, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf returns the code carried by err. Unclassified errors are INTERNAL.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// PublicMessage returns the part of err that may cross the API boundary.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Code != CodeInternal {
		return e.Message
	}
	return "internal error"
}
