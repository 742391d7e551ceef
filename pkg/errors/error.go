package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Error carries an ErrorCode through the call stack so transport layers
// can map failures onto API responses without string matching. Message
// overrides the code's default text, Details holds structured context
// for the response body, and Err keeps the cause reachable for
// errors.Is and errors.As.
type Error struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Err     error
	Stack   string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Code.Message()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a coded error carrying the code's default message.
func New(code ErrorCode) *Error {
	return &Error{
		Code:    code,
		Message: code.Message(),
		Details: make(map[string]interface{}),
		Stack:   callStack(2),
	}
}

// Newf builds a coded error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Details: make(map[string]interface{}),
		Stack:   callStack(2),
	}
}

// Wrap attaches a code to err. A nil err stays nil, and an err that is
// already coded only has its code replaced so details and the original
// stack survive re-wrapping at package boundaries.
func Wrap(err error, code ErrorCode) *Error {
	if err == nil {
		return nil
	}
	var coded *Error
	if errors.As(err, &coded) {
		coded.Code = code
		return coded
	}
	return &Error{
		Code:    code,
		Message: err.Error(),
		Err:     err,
		Details: make(map[string]interface{}),
		Stack:   callStack(2),
	}
}

// Wrapf attaches a code and a formatted message to err.
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
		Details: make(map[string]interface{}),
		Stack:   callStack(2),
	}
}

// WithMessage replaces the error message.
func (e *Error) WithMessage(msg string) *Error {
	e.Message = msg
	return e
}

// WithMessagef replaces the error message with a formatted one.
func (e *Error) WithMessagef(format string, args ...interface{}) *Error {
	e.Message = fmt.Sprintf(format, args...)
	return e
}

// WithDetail records a structured key/value pair on the error.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// GetCode returns the code carried by err, Success for nil, and
// InternalServerError for errors that never got a code.
func GetCode(err error) ErrorCode {
	if err == nil {
		return Success
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return InternalServerError
}

// GetError returns the coded error inside err, wrapping uncoded errors
// as InternalServerError so callers always get a code to render.
func GetError(err error) *Error {
	if err == nil {
		return nil
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded
	}
	return Wrap(err, InternalServerError)
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	var coded *Error
	return errors.As(err, &coded) && coded.Code == code
}

// callStack renders the calling frames above the error constructors,
// dropping runtime internals.
func callStack(skip int) string {
	const maxDepth = 10
	var pcs [maxDepth]uintptr
	n := runtime.Callers(skip+1, pcs[:])
	if n == 0 {
		return ""
	}

	frames := runtime.CallersFrames(pcs[:n])
	var builder strings.Builder
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.Function, "runtime.") {
			fmt.Fprintf(&builder, "\n\t%s:%d %s", frame.File, frame.Line, frame.Function)
		}
		if !more {
			return builder.String()
		}
	}
}

// Shorthand constructors for the codes the handlers reach for most.

// BadRequest flags invalid caller input.
func BadRequest(msg string) *Error {
	return New(InvalidParams).WithMessage(msg)
}

// NotFoundError reports a missing resource by name.
func NotFoundError(resource string) *Error {
	return Newf(NotFound, "%s not found", resource)
}

// ForbiddenError reports a permission failure, with the default
// message when msg is empty.
func ForbiddenError(msg string) *Error {
	if msg == "" {
		return New(Forbidden)
	}
	return New(Forbidden).WithMessage(msg)
}

// InternalError wraps err as an internal failure.
func InternalError(err error) *Error {
	if err == nil {
		return New(InternalServerError)
	}
	return Wrap(err, InternalServerError)
}

// ValidationError reports a single invalid field with the reason in
// the details map.
func ValidationError(field, reason string) *Error {
	return New(ValidationFailed).
		WithDetail("field", field).
		WithDetail("reason", reason)
}
