package annex

import (
	"errors"
	"fmt"

	"github.com/annexlab/annex/index"
)

// Kind classifies every error the facade can return. The set is closed:
// callers can switch on it exhaustively.
type Kind int

const (
	// KindInvalidArgument indicates malformed input: bad dimensions,
	// non-positive k, empty batches, out-of-range parameters.
	KindInvalidArgument Kind = iota

	// KindCapabilityMismatch indicates a parameter accessor was called
	// on an index variant that does not carry that parameter.
	KindCapabilityMismatch

	// KindNotTrained indicates an operation that requires training was
	// called before Train.
	KindNotTrained

	// KindNotFound indicates a row or identifier that does not exist.
	KindNotFound

	// KindUnsupported indicates an operation the variant cannot perform
	// at all, such as device transfer without a registered backend.
	KindUnsupported

	// KindInternal indicates a fault inside an index implementation.
	// The facade converts panics into this kind so they never escape.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid argument"
	case KindCapabilityMismatch:
		return "capability mismatch"
	case KindNotTrained:
		return "not trained"
	case KindNotFound:
		return "not found"
	case KindUnsupported:
		return "unsupported"
	case KindInternal:
		return "internal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is the error type returned by every facade operation. It carries
// the classification, the operation that failed and a diagnostic message.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("annex: %s: %s: %s", e.Op, e.Kind, e.Message)
	}
	return fmt.Sprintf("annex: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches two facade errors by kind, so errors.Is(err, &Error{Kind: k})
// works as a kind test.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

func newError(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// translateError maps engine errors onto the closed kind set. Unknown
// errors become KindInternal so nothing leaks through unclassified.
func translateError(op string, err error) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}

	kind := KindInternal
	switch {
	case errors.Is(err, index.ErrNotTrained):
		kind = KindNotTrained
	case errors.Is(err, index.ErrNotFound):
		kind = KindNotFound
	case errors.Is(err, index.ErrInvalidK),
		errors.Is(err, index.ErrEmptyInput),
		errors.Is(err, index.ErrInvalidParameter):
		kind = KindInvalidArgument
	}
	var dm *index.ErrDimensionMismatch
	if errors.As(err, &dm) {
		kind = KindInvalidArgument
	}
	var id *index.ErrInvalidDimension
	if errors.As(err, &id) {
		kind = KindInvalidArgument
	}

	return &Error{Kind: kind, Op: op, Message: err.Error(), cause: err}
}

// guard runs fn and converts any panic into a KindInternal error, so
// faults inside index implementations never escape the facade.
func guard(op string, fn func() error) (err *Error) {
	defer func() {
		if r := recover(); r != nil {
			err = &Error{
				Kind:    KindInternal,
				Op:      op,
				Message: fmt.Sprintf("panic: %v", r),
			}
		}
	}()
	if e := fn(); e != nil {
		return translateError(op, e)
	}
	return nil
}
