package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so the job engine can decide retry vs fail
// without inspecting backend-specific error types.
type Kind string

const (
	// KindNotFound marks an absent object or row. List-shaped queries
	// surface this as an empty result instead.
	KindNotFound Kind = "not_found"
	// KindValidation marks invalid input (bad coordinates, unknown step
	// type, malformed processing id). Never retried.
	KindValidation Kind = "validation"
	// KindStore marks an object-store transport failure. Retried through
	// the job-level retry policy.
	KindStore Kind = "store"
	// KindAlgorithmUnsupported marks a (stepType, id) pair that is unknown
	// or flagged unsupported. Never retried.
	KindAlgorithmUnsupported Kind = "algorithm_unsupported"
	// KindTransientBackend marks a database timeout or deadlock. Retried
	// at the job level.
	KindTransientBackend Kind = "transient_backend"
	// KindCanceled marks a user-initiated cancellation. Terminal.
	KindCanceled Kind = "canceled"
)

// Retryable reports whether the job engine may retry an error of this kind.
func (k Kind) Retryable() bool {
	switch k {
	case KindStore, KindTransientBackend:
		return true
	default:
		return false
	}
}

// Error carries a kind, a human message, and the originating cause.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// E builds a kinded error. The cause may be nil.
func E(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

func Ef(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the kind from err, walking the wrap chain.
// Unclassified errors report KindTransientBackend so the engine errs on the
// side of retrying infrastructure hiccups.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindTransientBackend
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func NotFound(msg string, cause error) *Error {
	return E(KindNotFound, msg, cause)
}

func Validation(msg string, cause error) *Error {
	return E(KindValidation, msg, cause)
}

func Store(msg string, cause error) *Error {
	return E(KindStore, msg, cause)
}
