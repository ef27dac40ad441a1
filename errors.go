package facetstream

import (
	"errors"
	"fmt"
)

// Kind classifies a failure raised by the engine, so that callers can
// branch on it (retry, surface to an operator, or treat it as a bug)
// without parsing error strings.
type Kind int

const (
	// KindValidation signals a record failed a structural or facet check
	// before being dispatched to the store. It is always a caller bug.
	KindValidation Kind = iota
	// KindCapacity signals a transactional write would exceed the
	// backend's per-transaction item ceiling.
	KindCapacity
	// KindConcurrency signals the conditional state write lost a race
	// against a newer sequence. It is retryable.
	KindConcurrency
	// KindBackend signals any other store or transport failure.
	KindBackend
	// KindSerialization signals a payload could not be encoded or
	// decoded.
	KindSerialization
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindCapacity:
		return "capacity"
	case KindConcurrency:
		return "concurrency"
	case KindBackend:
		return "backend"
	case KindSerialization:
		return "serialization"
	default:
		return "unknown"
	}
}

// Error is the error type this package raises for its own failures;
// errors from a Store's PutTransaction or from a Retry callback are
// returned as they are. Op names the operation that failed
// (e.g. "Facet.Append"); Err is the underlying cause, if any.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("facetstream: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("facetstream: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// IsKind reports whether err (or any error it wraps) is a *Error of the
// given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// IsConcurrency reports whether err is a retryable optimistic-concurrency
// conflict, the kind of error a caller's retry loop should act on.
func IsConcurrency(err error) bool { return IsKind(err, KindConcurrency) }

// IsValidation reports whether err is a caller bug (malformed record,
// facet mismatch) rather than a transient failure.
func IsValidation(err error) bool { return IsKind(err, KindValidation) }

// IsCapacity reports whether err is a transaction-size overflow.
func IsCapacity(err error) bool { return IsKind(err, KindCapacity) }

// IsBackend reports whether err is an opaque store/transport failure.
func IsBackend(err error) bool { return IsKind(err, KindBackend) }

// IsSerialization reports whether err is a payload encode/decode failure.
func IsSerialization(err error) bool { return IsKind(err, KindSerialization) }

func errFieldf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

// ErrStateNotFound is returned by Store.GetState when no state row exists
// for the given (facet, id), and is surfaced unwrapped by Facet.Get as a
// nil result rather than an error (see facet.go).
var ErrStateNotFound = errors.New("facetstream: state not found")
