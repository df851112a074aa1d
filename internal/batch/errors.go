package batch

import (
	"errors"
	"fmt"
)

// ErrorCode classifies an orchestration failure. It is what callers see in
// ResultEnvelope.ErrorCode.
type ErrorCode string

const (
	CodeUnsupportedFormat    ErrorCode = "UnsupportedFormat"
	CodeMissingConfiguration ErrorCode = "MissingConfiguration"
	CodeMissingStagingBucket ErrorCode = "MissingStagingBucket"
	CodeTimeout              ErrorCode = "Timeout"
	CodeNoOutputFound        ErrorCode = "NoOutputFound"
	CodeEmptyInput           ErrorCode = "EmptyInput"
	CodeProviderError        ErrorCode = "ProviderError"
	CodeCleanupWarning       ErrorCode = "CleanupWarning"
	CodeInvalidOptions       ErrorCode = "InvalidOptions"
	CodeReadError            ErrorCode = "ReadError"
)

// Error is the typed failure returned by every batch component.
type Error struct {
	Code ErrorCode
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a *Error with the same code, so that
// errors.Is(err, batch.ErrTimeout) works on any Timeout error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrUnsupportedFormat    = &Error{Code: CodeUnsupportedFormat}
	ErrMissingConfiguration = &Error{Code: CodeMissingConfiguration}
	ErrMissingStagingBucket = &Error{Code: CodeMissingStagingBucket}
	ErrTimeout              = &Error{Code: CodeTimeout}
	ErrNoOutputFound        = &Error{Code: CodeNoOutputFound}
	ErrEmptyInput           = &Error{Code: CodeEmptyInput}
	ErrProviderError        = &Error{Code: CodeProviderError}
	ErrInvalidOptions       = &Error{Code: CodeInvalidOptions}
)

func newError(code ErrorCode, err error, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...), Err: err}
}

// NewError builds a coded error for use by provider adapters.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return newError(code, nil, format, args...)
}

// ProviderErr wraps an opaque failure surfaced by a remote service.
func ProviderErr(err error, format string, args ...any) *Error {
	return newError(CodeProviderError, err, format, args...)
}

// CodeOf extracts the ErrorCode from err, falling back to ProviderError for
// foreign errors.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeProviderError
}
