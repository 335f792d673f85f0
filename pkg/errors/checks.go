package errors

import (
	"errors"
)

// AsError attempts to convert an error to an *Error by walking the chain
// with errors.As.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetCode returns the error code of err, or "" if err carries none.
func GetCode(err error) Code {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries the specified code.
func HasCode(err error, code Code) bool {
	return GetCode(err) == code
}

func hasCategory(err error, categories ...string) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	cat := e.Code.Category()
	for _, c := range categories {
		if cat == c {
			return true
		}
	}
	return false
}

// IsValidation reports whether err is a VAL_xxx error.
func IsValidation(err error) bool {
	return hasCategory(err, "VAL")
}

// IsUnauthorized reports whether err is an AUTH_xxx error.
func IsUnauthorized(err error) bool {
	return hasCategory(err, "AUTH")
}

// IsForbidden reports whether err is an AUTHZ_xxx error. Token validator
// failures belong to this category.
func IsForbidden(err error) bool {
	return hasCategory(err, "AUTHZ")
}

// IsNotFound reports whether err is an NF_xxx error.
func IsNotFound(err error) bool {
	return hasCategory(err, "NF")
}

// IsStoreFailure reports whether err means the backing store could not
// serve the call (UNAVAIL_xxx or TIMEOUT_xxx).
//
// Example:
//
//	if errors.IsStoreFailure(err) {
//	    // 5xx, never a 4xx auth rejection
//	}
func IsStoreFailure(err error) bool {
	return hasCategory(err, "UNAVAIL", "TIMEOUT")
}

// IsRetryable reports whether the operation may succeed if retried.
// Only store availability failures are retryable.
func IsRetryable(err error) bool {
	return IsStoreFailure(err)
}

// IsClientError reports whether err maps to a 4xx status.
func IsClientError(err error) bool {
	return hasCategory(err, "VAL", "AUTH", "AUTHZ", "NF", "CONF")
}

// IsServerError reports whether err maps to a 5xx status.
func IsServerError(err error) bool {
	return hasCategory(err, "INT", "UNAVAIL", "TIMEOUT")
}
