// Package errors defines common error types for the application.
package errors

import (
	"errors"
	"fmt"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// Error codes for the application.
const (
	CodeUnknown            = "UNKNOWN_ERROR"
	CodeFormatError        = "FORMAT_ERROR"
	CodeStructuralConflict = "STRUCTURAL_CONFLICT"
	CodeIOError            = "IO_ERROR"
	CodeSigningError       = "SIGNING_ERROR"
	CodeCanceled           = "CANCELED"
	CodeInvalidInput       = "INVALID_INPUT"
	CodeConfigError        = "CONFIG_ERROR"
	CodeDatabaseError      = "DATABASE_ERROR"
	CodeUploadError        = "UPLOAD_ERROR"
	CodeNotFound           = "NOT_FOUND"
)

// AppError represents an application error with a code and message.
type AppError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new AppError.
func New(code string, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError.
func Wrap(code string, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Newf creates an AppError carrying the caller's stack.
func Newf(code string, format string, args ...interface{}) error {
	return pkgerrors.WithStack(New(code, fmt.Sprintf(format, args...)))
}

// Wrapf wraps err with an AppError and records the caller's stack.
func Wrapf(code string, err error, format string, args ...interface{}) error {
	return pkgerrors.WithStack(Wrap(code, fmt.Sprintf(format, args...), err))
}

// Format reports malformed ZIP, chunk or DEX input.
func Format(format string, args ...interface{}) error {
	return Newf(CodeFormatError, format, args...)
}

// Conflict reports a structurally invalid merge input.
func Conflict(format string, args ...interface{}) error {
	return Newf(CodeStructuralConflict, format, args...)
}

// IO wraps a filesystem or stream failure.
func IO(err error, format string, args ...interface{}) error {
	return Wrapf(CodeIOError, err, format, args...)
}

// Common error instances.
var (
	ErrFormatError        = New(CodeFormatError, "format error")
	ErrStructuralConflict = New(CodeStructuralConflict, "structural conflict")
	ErrIOError            = New(CodeIOError, "i/o error")
	ErrSigningError       = New(CodeSigningError, "signing error")
	ErrCanceled           = New(CodeCanceled, "operation canceled")
	ErrInvalidInput       = New(CodeInvalidInput, "invalid input")
	ErrConfigError        = New(CodeConfigError, "configuration error")
	ErrDatabaseError      = New(CodeDatabaseError, "database error")
	ErrUploadError        = New(CodeUploadError, "upload error")
	ErrNotFound           = New(CodeNotFound, "resource not found")
)

// IsFormatError checks if the error is a format error.
func IsFormatError(err error) bool {
	return errors.Is(err, ErrFormatError)
}

// IsStructuralConflict checks if the error is a structural conflict.
func IsStructuralConflict(err error) bool {
	return errors.Is(err, ErrStructuralConflict)
}

// IsIOError checks if the error is an i/o error.
func IsIOError(err error) bool {
	return errors.Is(err, ErrIOError)
}

// IsSigningError checks if the error is a signing error.
func IsSigningError(err error) bool {
	return errors.Is(err, ErrSigningError)
}

// IsCanceled checks if the error is a cancellation.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled)
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// GetErrorMessage extracts the error message from an error.
func GetErrorMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// StackTrace renders the innermost recorded stack of err, one frame per line,
// limited to maxFrames frames. It returns "" when no stack was recorded.
func StackTrace(err error, maxFrames int) string {
	var deepest stackTracer
	for e := err; e != nil; e = errors.Unwrap(e) {
		if st, ok := e.(stackTracer); ok {
			deepest = st
		}
	}
	if deepest == nil {
		return ""
	}

	frames := deepest.StackTrace()
	if maxFrames > 0 && len(frames) > maxFrames {
		frames = frames[:maxFrames]
	}
	var sb strings.Builder
	for _, f := range frames {
		sb.WriteString(strings.TrimSpace(strings.ReplaceAll(fmt.Sprintf("%+v", f), "\n\t", " ")))
		sb.WriteByte('\n')
	}
	return sb.String()
}
