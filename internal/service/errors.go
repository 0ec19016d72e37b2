package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrorKind classifies service errors so transports can pick a status code.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindNotFound      ErrorKind = "not_found"
	KindDependency    ErrorKind = "dependency"
	KindConfiguration ErrorKind = "configuration"
	KindUnexpected    ErrorKind = "unexpected"
)

// Error is a user-presentable failure. Message is safe to show to clients;
// Err holds the internal cause and is only logged.
type Error struct {
	Kind    ErrorKind
	Message string
	ErrorID string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Err.Error() != e.Message {
		return fmt.Sprintf("%s: %v (errorId=%s)", e.Message, e.Err, e.ErrorID)
	}
	return fmt.Sprintf("%s (errorId=%s)", e.Message, e.ErrorID)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewErrorID builds a correlation id of the form SCOPE-CODE-1A2B3C4D.
func NewErrorID(scope, code string) string {
	suffix := strings.SplitN(uuid.New().String(), "-", 2)[0]
	return strings.ToUpper(scope + "-" + code + "-" + suffix)
}

func newError(kind ErrorKind, scope, code, message string, cause error) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		ErrorID: NewErrorID(scope, code),
		Err:     cause,
	}
}

// ValidationError reports bad client input.
func ValidationError(scope, message string) *Error {
	return newError(KindValidation, scope, "VALIDATION", message, nil)
}

// NotFoundError reports a missing resource.
func NotFoundError(scope, message string) *Error {
	return newError(KindNotFound, scope, "NOT-FOUND", message, nil)
}

// DependencyError reports a failing downstream system (storage, database, model).
func DependencyError(scope, code, message string, cause error) *Error {
	return newError(KindDependency, scope, code, message, cause)
}

// UnexpectedError wraps anything that is not otherwise classified.
func UnexpectedError(scope string, cause error) *Error {
	return newError(KindUnexpected, scope, "UNEXPECTED", "Unexpected error.", cause)
}

// ConfigurationError reports missing or invalid settings at startup.
func ConfigurationError(cause error) *Error {
	return newError(KindConfiguration, "config", "MISSING", cause.Error(), cause)
}

// AsError returns the *Error in err's chain, or wraps err as unexpected.
func AsError(scope string, err error) *Error {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr
	}
	return UnexpectedError(scope, err)
}
