// Package gerr defines the error taxonomy shared by the object
// database, pack codec and revision walker, following the same
// exported-error-struct-plus-Is pattern the rest of the module uses
// for repo.ErrNotFound-style errors.
package gerr

import "fmt"

// Kind classifies a failure the way spec §7 enumerates the taxonomy.
// Over is deliberately absent: normal iterator exhaustion is not an
// error in this module and is signalled through an ok bool instead.
type Kind int

const (
	_ Kind = iota
	NotFound
	Ambiguous
	Corrupt
	Unsupported
	IO
	Memory
	Inflate
	MissingBase
	DepthExceeded
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case Ambiguous:
		return "ambiguous"
	case Corrupt:
		return "corrupt"
	case Unsupported:
		return "unsupported"
	case IO:
		return "io"
	case Memory:
		return "memory"
	case Inflate:
		return "inflate"
	case MissingBase:
		return "missing base"
	case DepthExceeded:
		return "depth exceeded"
	default:
		return "unknown"
	}
}

// Error carries a Kind plus a human-readable context string and an
// optional wrapped cause, the way the taxonomy in spec §7 requires
// ("each variant carries a human-readable context string").
type Error struct {
	Kind    Kind
	Context string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Context, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Context)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is supports errors.Is(err, gerr.Sentinel(gerr.NotFound)) by kind, matching the
// pattern of a predicate rather than a pointer-identity comparison
// since every call site constructs a fresh *Error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Context == "" && t.Cause == nil
}

// New builds an *Error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Context: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind around a cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Context: fmt.Sprintf(format, args...), Cause: cause}
}

// Sentinel returns a zero-context, zero-cause error usable as an
// errors.Is target, e.g. errors.Is(err, gerr.Sentinel(gerr.NotFound)).
func Sentinel(kind Kind) error {
	return &Error{Kind: kind}
}

// KindOf extracts the Kind from err if it is (or wraps) a *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	for err != nil {
		if ge, ok := err.(*Error); ok {
			e = ge
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return 0, false
	}
	return e.Kind, true
}
