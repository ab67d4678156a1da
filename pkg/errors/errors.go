// Package errors provides structured error handling for nebula-csv
package errors

import (
	"errors"
	"runtime"

	stringpool "github.com/ajitpratap0/nebula-csv/pkg/strings"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeInternal represents internal errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeValidation represents invalid arguments or expressions
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeConflict represents misuse of a non-reentrant API
	ErrorTypeConflict ErrorType = "conflict"

	// ErrorTypeSourceUnavailable means a path or member is missing or unreadable
	ErrorTypeSourceUnavailable ErrorType = "source_unavailable"
	// ErrorTypeMalformedRecord means a quoting or escaping violation
	ErrorTypeMalformedRecord ErrorType = "malformed_record"
	// ErrorTypeRaggedRow means a record's field count differs from the schema
	ErrorTypeRaggedRow ErrorType = "ragged_row"
	// ErrorTypeTypeParseFailure means a value cannot be coerced to its column type
	ErrorTypeTypeParseFailure ErrorType = "type_parse_failure"
	// ErrorTypeSchemaConflict means an override or supplied schema does not fit the data
	ErrorTypeSchemaConflict ErrorType = "schema_conflict"
	// ErrorTypeArchiveMemberNotFound means the requested archive member does not exist
	ErrorTypeArchiveMemberNotFound ErrorType = "archive_member_not_found"
	// ErrorTypeArchiveMemberAmbiguous means several members match and none was chosen
	ErrorTypeArchiveMemberAmbiguous ErrorType = "archive_member_ambiguous"
	// ErrorTypeArchiveCorrupt means the archive structure or member data is damaged
	ErrorTypeArchiveCorrupt ErrorType = "archive_corrupt"
)

// Error represents a structured error with context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return stringpool.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return stringpool.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Detail returns a detail value, if present.
func (e *Error) Detail(key string) (interface{}, bool) {
	v, ok := e.Details[key]
	return v, ok
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with a formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: stringpool.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	// If already our error type, preserve the stack
	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// IsType checks if the error is of the given type
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// TypeOf returns the type of the outermost structured error, or "" if err
// carries none.
func TypeOf(err error) ErrorType {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Type
}

// As is errors.As, re-exported so callers need not import both packages.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Is is errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// captureStack captures the current call stack
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
