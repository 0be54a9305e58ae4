package storage

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Error Taxonomy
// --------------------------------------------------------------------------

// ErrCode classifies storage errors. The taxonomy is closed: every error a
// storage manager raises on purpose carries one of these codes, anything
// else is a passed-through backend I/O failure.
type ErrCode int

const (
	// CodeMapping: the declared entity model cannot be reconciled with
	// the existing backing storage. Raised by DDL paths under the error
	// conflict mode; softened to a warning or a repair per mode.
	CodeMapping ErrCode = iota
	// CodeAssociation: a join between types with no discoverable or
	// explicitly named association path.
	CodeAssociation
	// CodeUnrecallable: a post-load veto. Callers treat the row as
	// absent, not as a fault.
	CodeUnrecallable
	// CodeNotSupported: a capability the backend genuinely cannot
	// provide. Never subject to conflict-mode softening.
	CodeNotSupported
	// CodeInvalid: a malformed request (offset without order, unknown
	// type, zombie unit).
	CodeInvalid
	// CodeIO: a backend I/O failure surfaced with storage context.
	CodeIO
)

func (c ErrCode) String() string {
	switch c {
	case CodeMapping:
		return "mapping"
	case CodeAssociation:
		return "association"
	case CodeUnrecallable:
		return "unrecallable"
	case CodeNotSupported:
		return "not supported"
	case CodeInvalid:
		return "invalid"
	case CodeIO:
		return "io"
	default:
		return "unknown"
	}
}

// Error is the error type raised by storage managers.
type Error struct {
	Code ErrCode
	Msg  string
	// Cause is the underlying error, if any.
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("storage (%s): %s: %v", e.Code, e.Msg, e.Cause)
	}
	return fmt.Sprintf("storage (%s): %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Errorf builds a storage error with a formatted message.
func Errorf(code ErrCode, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// WrapErr attaches storage context to a backend failure.
func WrapErr(code ErrCode, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// IsCode reports whether err (or anything it wraps) is a storage error
// with the given code.
func IsCode(err error, code ErrCode) bool {
	var se *Error
	return errors.As(err, &se) && se.Code == code
}
