// Package errs defines the error taxonomy shared by every component.
//
// Components return *Error values (usually wrapped with %w). Callers test
// the kind of a failure with errors.Is against the exported sentinels, which
// match on Code rather than identity:
//
//	if errors.Is(err, errs.ErrNotFound) { ... }
package errs

import (
	"errors"
	"fmt"
)

// Code classifies an error
type Code int

const (
	CodeUnknown Code = iota
	CodeNotFound
	CodeServiceUnavailable
	CodeInvalidArgument
	CodeTimeout
	CodeBuildIncomplete
	CodeBuildInProgress
)

// String returns the wire name of the code
func (c Code) String() string {
	switch c {
	case CodeNotFound:
		return "not_found"
	case CodeServiceUnavailable:
		return "service_unavailable"
	case CodeInvalidArgument:
		return "invalid_argument"
	case CodeTimeout:
		return "timeout"
	case CodeBuildIncomplete:
		return "build_incomplete"
	case CodeBuildInProgress:
		return "build_in_progress"
	default:
		return "unknown"
	}
}

// Error is a structured component error
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is checks
var (
	ErrNotFound           = &Error{Code: CodeNotFound, Message: "not found"}
	ErrServiceUnavailable = &Error{Code: CodeServiceUnavailable, Message: "service unavailable"}
	ErrInvalidArgument    = &Error{Code: CodeInvalidArgument, Message: "invalid argument"}
	ErrTimeout            = &Error{Code: CodeTimeout, Message: "timeout"}
	ErrBuildIncomplete    = &Error{Code: CodeBuildIncomplete, Message: "build incomplete"}
	ErrBuildInProgress    = &Error{Code: CodeBuildInProgress, Message: "build already in progress"}
)

// New creates an error with the given code and formatted message
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// NotFound returns a NotFound error for an entity kind and identifier
func NotFound(kind, id string) *Error {
	return New(CodeNotFound, "%s %q not found", kind, id)
}

// InvalidArgument returns an InvalidArgument error
func InvalidArgument(format string, args ...any) *Error {
	return New(CodeInvalidArgument, format, args...)
}

// CodeOf extracts the code of the first *Error in the chain
func CodeOf(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}
