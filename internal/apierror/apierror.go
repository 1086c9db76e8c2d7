package apierror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Kind classifies a failure independently of the wire format.
type Kind int

const (
	KindNotFound Kind = iota + 1
	KindPermissionDenied
	KindConflict
	KindUnprocessable
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindPermissionDenied:
		return "permission_denied"
	case KindConflict:
		return "conflict"
	case KindUnprocessable:
		return "unprocessable"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is a classified error. The message is safe to return to callers;
// the wrapped cause is for logs only.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches two classified errors by kind, so callers can test
// errors.Is(err, apierror.NotFound("")) style sentinels.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func PermissionDenied(format string, args ...interface{}) *Error {
	return &Error{Kind: KindPermissionDenied, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func Unprocessable(format string, args ...interface{}) *Error {
	return &Error{Kind: KindUnprocessable, Message: fmt.Sprintf(format, args...)}
}

func Internal(cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...), cause: cause}
}

// Wrap attaches a cause to a classified error without changing its kind.
func Wrap(err *Error, cause error) *Error {
	return &Error{Kind: err.Kind, Message: err.Message, cause: cause}
}

// KindOf returns the kind of a classified error, or KindInternal for
// anything unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps an error kind to an HTTP status code at the API boundary.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindUnprocessable:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// uniqueViolation is the Postgres error code raised when a uniqueness
// constraint rejects a commit.
const uniqueViolation = "23505"

// serializationFailure is raised when a serializable transaction cannot commit.
const serializationFailure = "40001"

// FromStorage translates a backing-store failure: unique-constraint and
// serialization failures become Conflict (concurrent writers racing), missing
// rows become NotFound, everything else is an internal storage failure.
func FromStorage(err error, resource string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return NotFound("%s not found", resource)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return &Error{Kind: KindConflict, Message: fmt.Sprintf("%s already exists", resource), cause: err}
		case serializationFailure:
			return &Error{Kind: KindConflict, Message: fmt.Sprintf("concurrent modification of %s, retry the request", resource), cause: err}
		}
	}
	return Internal(err, "storage failure on %s", resource)
}
