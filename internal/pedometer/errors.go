package pedometer

import "errors"

// Stable error codes surfaced to callers.
const (
	CodeUnavailable        = "UNAVAILABLE"
	CodeInvalidArguments   = "INVALID_ARGUMENTS"
	CodeQueryError         = "QUERY_ERROR"
	CodeUnsupportedVersion = "UNSUPPORTED_PLATFORM_VERSION"
)

// Error is a pedometer failure with a stable code and a readable message.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// Is matches errors by code so callers can compare against the sentinels.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrCapabilityUnavailable      = &Error{Code: CodeUnavailable, Message: "capability unavailable"}
	ErrInvalidArguments           = &Error{Code: CodeInvalidArguments, Message: "invalid arguments"}
	ErrQuery                      = &Error{Code: CodeQueryError, Message: "query failed"}
	ErrPlatformVersionUnsupported = &Error{Code: CodeUnsupportedVersion, Message: "platform version unsupported"}
)

func Unavailable(message string) *Error {
	return &Error{Code: CodeUnavailable, Message: message}
}

func InvalidArguments(message string) *Error {
	return &Error{Code: CodeInvalidArguments, Message: message}
}

func QueryError(message string) *Error {
	return &Error{Code: CodeQueryError, Message: message}
}

func UnsupportedVersion(message string) *Error {
	return &Error{Code: CodeUnsupportedVersion, Message: message}
}

// AsError converts any error into a pedometer Error, wrapping unknown errors
// as query failures.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return QueryError(err.Error())
}
