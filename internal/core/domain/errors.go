package domain

import "fmt"

// ErrorCode classifies failures across the loading path.
type ErrorCode string

const (
	CodeTransientNetwork   ErrorCode = "TRANSIENT_NETWORK"
	CodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	CodeNotAuthenticated   ErrorCode = "NOT_AUTHENTICATED"
	CodeAuthMismatch       ErrorCode = "AUTH_MISMATCH"
	CodeStall              ErrorCode = "STALL"
	CodeBootstrapTimeout   ErrorCode = "BOOTSTRAP_TIMEOUT"
	CodeBroken             ErrorCode = "BROKEN"
	CodeExhaustedRetries   ErrorCode = "EXHAUSTED_RETRIES"
	CodeStopped            ErrorCode = "STOPPED"
)

// Error is a coded failure. Two Errors match under errors.Is when their codes match.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// NewError creates a coded error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError creates a coded error around cause.
func WrapError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Sentinels for errors.Is checks. Only the code is compared.
var (
	ErrTransientNetwork   = NewError(CodeTransientNetwork, "transient network error")
	ErrServiceUnavailable = NewError(CodeServiceUnavailable, "service unavailable")
	ErrNotAuthenticated   = NewError(CodeNotAuthenticated, "not authenticated")
	ErrAuthMismatch       = NewError(CodeAuthMismatch, "profile does not match requested user")
	ErrStall              = NewError(CodeStall, "load progress stalled")
	ErrBootstrapTimeout   = NewError(CodeBootstrapTimeout, "bootstrap timed out")
	ErrBroken             = NewError(CodeBroken, "connection broken")
	ErrExhaustedRetries   = NewError(CodeExhaustedRetries, "load retries exhausted")
	ErrStopped            = NewError(CodeStopped, "stopped")
)
