package apperror

import (
	"context"
	"errors"
	"net/http"
)

// Kind classifies an error for callers deciding whether to retry or report.
type Kind string

const (
	KindInvalidArgument    Kind = "INVALID_ARGUMENT"
	KindFailedPrecondition Kind = "FAILED_PRECONDITION"
	KindNotFound           Kind = "NOT_FOUND"
	KindUnavailable        Kind = "UNAVAILABLE"
	KindConflict           Kind = "CONFLICT"
	KindInternal           Kind = "INTERNAL"
)

// Error is a classified business error
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause, if any
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an error of the given kind around a cause
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func InvalidArgument(message string) *Error {
	return New(KindInvalidArgument, message)
}

func FailedPrecondition(message string) *Error {
	return New(KindFailedPrecondition, message)
}

func NotFound(message string) *Error {
	return New(KindNotFound, message)
}

func Conflict(message string) *Error {
	return New(KindConflict, message)
}

func Unavailable(message string, err error) *Error {
	return Wrap(KindUnavailable, message, err)
}

// KindOf reports the kind of err, or KindInternal when err is not classified
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// FromDependency maps a deadline or cancellation from an external call to
// KindUnavailable and returns any other error unchanged.
func FromDependency(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Unavailable(operation+" timed out", err)
	}
	return err
}

// HTTPStatus maps an error to the HTTP status code reported to clients
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalidArgument:
		return http.StatusBadRequest
	case KindFailedPrecondition:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
