package picocash

import (
	"errors"
	"fmt"
)

// Error is the infrastructure-failure channel of the engine, orthogonal
// to Status. Critical errors indicate the local engine may be in an
// inconsistent state (bad storage path, corrupt data, programming
// fault) and the instance should be re-initialized; non-critical errors
// are transient and safe to retry.
type Error struct {
	Message  string
	Critical bool

	cause error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.cause }

// IsCritical reports whether err is (or wraps) a critical engine Error.
func IsCritical(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Critical
}

func newError(format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}

func newCriticalError(format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...), Critical: true}
}

func wrapError(err error, format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...) + ": " + err.Error(), cause: err}
}

func wrapCriticalError(err error, format string, args ...any) *Error {
	e := wrapError(err, format, args...)
	e.Critical = true
	return e
}
