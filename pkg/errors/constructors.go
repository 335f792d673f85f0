package errors

import (
	"context"
	"errors"
	"fmt"
)

// New creates a new Error with the specified code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new Error with a formatted message.
//
// Example:
//
//	err := errors.Newf(errors.CodeAppNotFound, "App not found. [%s]", appid)
func Newf(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps err with a code and message. If err is nil, Wrap returns nil.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps err with a code and formatted message. If err is nil, Wrapf
// returns nil.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// Validationf creates a general validation error with a formatted message.
func Validationf(format string, args ...any) *Error {
	return Newf(CodeValidation, format, args...)
}

// BadRequest creates an error for a missing or unparsable credential field.
func BadRequest(message string) *Error {
	return New(CodeBadRequest, message)
}

// InvalidArgument creates an error for a store call with a missing record
// or blank tenant identifier.
func InvalidArgument(message string) *Error {
	return New(CodeInvalidArgument, message)
}

// Unauthorized creates an authentication error.
func Unauthorized(message string) *Error {
	return New(CodeUnauthorized, message)
}

// Forbidden creates an authorization error.
func Forbidden(message string) *Error {
	return New(CodeForbidden, message)
}

// NotFound creates a general not found error.
func NotFound(message string) *Error {
	return New(CodeNotFound, message)
}

// Internal creates a general internal error.
func Internal(message string) *Error {
	return New(CodeInternal, message)
}

// StoreFailure classifies an error returned by a store backend. Context
// deadline errors become [CodeStoreTimeout]; everything else becomes
// [CodeStoreUnavailable]. Errors that already carry a code are returned
// unchanged. Returns nil if err is nil.
//
// Example:
//
//	if err := rdb.Ping(ctx).Err(); err != nil {
//	    return errors.StoreFailure(err, "redis: ping failed")
//	}
func StoreFailure(err error, message string) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(err, CodeStoreTimeout, message)
	}
	return Wrap(err, CodeStoreUnavailable, message)
}

// FromError converts err to an *Error. An existing *Error in the chain is
// returned as-is; any other error is wrapped as [CodeInternal].
func FromError(err error) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}

	return Wrap(err, CodeInternal, "an unexpected error occurred")
}
