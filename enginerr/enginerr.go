// Package enginerr defines the semantic error kinds surfaced by the rules engine.
//
// Kinds are classification, not control flow: callers branch on Kind via
// errors.As, the engine itself only needs to know whether an error is
// caller-facing (Validation, NotFound, Conflict), a per-rule isolation
// concern (LookupFailure), or an internal bug report (InternalInvariant).
package enginerr

import "fmt"

// Kind classifies an Error. See §7 of the engine specification.
type Kind string

const (
	Validation        Kind = "validation"
	NotFound          Kind = "not_found"
	Conflict          Kind = "conflict"
	LookupFailure     Kind = "lookup_failure"
	InternalInvariant Kind = "internal_invariant"
)

// Error is the single error type the engine returns across all components.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, enginerr.Sentinel(enginerr.Validation)) work: any
// *Error target matches when its Kind equals e's Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Validationf(format string, args ...interface{}) *Error {
	return New(Validation, fmt.Sprintf(format, args...))
}

func NotFoundf(format string, args ...interface{}) *Error {
	return New(NotFound, fmt.Sprintf(format, args...))
}

func Conflictf(format string, args ...interface{}) *Error {
	return New(Conflict, fmt.Sprintf(format, args...))
}

// Sentinel returns a zero-message *Error usable as an errors.Is target,
// e.g. errors.Is(err, enginerr.Sentinel(enginerr.NotFound)).
func Sentinel(kind Kind) *Error {
	return &Error{Kind: kind}
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error, returning
// ("", false) otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if as(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// as is a tiny local errors.As to avoid importing errors just for this.
func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
