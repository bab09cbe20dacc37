// Package apperr defines the failure kinds shared by every transport
// (REST, streaming, admin) so that handlers map errors to responses
// consistently instead of re-deriving HTTP status codes ad hoc.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	Validation  Kind = "validation"
	NotFound    Kind = "not_found"
	Conflict    Kind = "conflict"
	ReadOnly    Kind = "read_only"
	RateLimited Kind = "rate_limited"
	Timeout     Kind = "timeout"
	Unavailable Kind = "unavailable"
	Corrupt     Kind = "corrupt"
)

// Error is the single error type carried across package boundaries.
// Details is optional extra context surfaced verbatim in REST bodies.
type Error struct {
	Kind       Kind
	Message    string
	Details    string
	RetryAfter int // seconds; only meaningful for RateLimited
	Key        string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: NotFound, Message: fmt.Sprintf(format, args...)}
}

func Validationf(format string, args ...any) *Error {
	return &Error{Kind: Validation, Message: fmt.Sprintf(format, args...)}
}

// Corruptf tags a record key that failed to decode so scans can log and skip it.
func Corruptf(key string, err error) *Error {
	return &Error{Kind: Corrupt, Message: "unreadable record", Key: key, Err: err}
}

// As extracts an *Error from err, unwrapping standard error chains.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case Validation:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case ReadOnly:
		return http.StatusServiceUnavailable
	case RateLimited:
		return http.StatusTooManyRequests
	case Timeout:
		return http.StatusGatewayTimeout
	case Unavailable:
		return http.StatusServiceUnavailable
	case Corrupt:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
