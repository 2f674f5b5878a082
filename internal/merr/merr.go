// Package merr defines the error taxonomy shared by every backend, the
// router, and the wire layer: a small closed set of error kinds, each
// carrying the MongoDB-compatible numeric code it surfaces as on the wire.
package merr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and retry purposes. See spec §7.
type Kind int

const (
	// Internal covers storage-engine or serialization failures with no more
	// specific classification. It is the zero value so a bare merr.Error{}
	// never accidentally looks like a more specific, retry-relevant kind.
	Internal Kind = iota
	// Validation covers illegal identifiers, pipelines, update operators, or
	// field paths. Fatal to the current call, never retried.
	Validation
	// NotFound covers a missing namespace, collection, or cursor.
	NotFound
	// Conflict covers a duplicate _id on insert or upsert race.
	Conflict
	// Transient covers network failure or overload signaled by a remote
	// backend. Retried by the proxy backend up to its configured attempts.
	Transient
	// Timeout covers a deadline exceeded on a backend call.
	Timeout
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case Transient:
		return "transient"
	case Timeout:
		return "timeout"
	default:
		return "internal"
	}
}

// MongoDB-compatible numeric error codes (spec §6).
const (
	CodeInternal         = 1
	CodeBadValue         = 2
	CodeUnauthorized     = 13
	CodeNamespaceNotFound = 26
	CodeDuplicateKey     = 11000
	CodeCursorNotFound   = 43
	CodeCommandNotFound  = 59
)

// Error is the concrete error value returned by every backend operation.
type Error struct {
	Kind     Kind
	Code     int
	CodeName string
	Message  string
	cause    error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s error (code %d)", e.Kind, e.Code)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error of the given kind with the default code for that kind.
// format is passed through fmt.Sprintf when args are given, so plain strings
// with no "%" verbs work unchanged.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: defaultCode(kind), Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind around an underlying cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: defaultCode(kind), Message: fmt.Sprintf(format, args...), cause: cause}
}

// WithCode overrides the numeric code (and optional code name) on a copy of e.
func (e *Error) WithCode(code int, codeName string) *Error {
	cp := *e
	cp.Code = code
	cp.CodeName = codeName
	return &cp
}

func defaultCode(kind Kind) int {
	switch kind {
	case Validation:
		return CodeBadValue
	case NotFound:
		return CodeNamespaceNotFound
	case Conflict:
		return CodeDuplicateKey
	case Timeout, Transient, Internal:
		return CodeInternal
	default:
		return CodeInternal
	}
}

// KindOf extracts the Kind from err, defaulting to Internal for errors that
// were not constructed by this package.
func KindOf(err error) Kind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return Internal
}

// Is reports whether err (or anything it wraps) is of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
