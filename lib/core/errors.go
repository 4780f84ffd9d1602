package core

import "errors"

// Kind discriminates the category of a failure so callers can decide how
// to react (retry, abort the whole image, or just skip one chunk) without
// string-matching error text.
type Kind int

const (
	// IoError covers failed reads/writes against the underlying image,
	// signature, or device file.
	IoError Kind = iota
	// FormatError covers malformed or unsupported on-disk structures:
	// bad magic, a reserved version, an inconsistent header field.
	FormatError
	// IntegrityError covers a chunk or region that parses fine but
	// fails its checksum or signature verification.
	IntegrityError
	// ResourceError covers allocation or capacity failures unrelated to
	// the data itself (buffer too large, too many regions).
	ResourceError
	// AssertionError covers violated internal invariants: the caller
	// handed in data that breaks an assumption the codec relies on
	// (e.g. an unordered range list).
	AssertionError
)

func (k Kind) String() string {
	switch k {
	case IoError:
		return "io"
	case FormatError:
		return "format"
	case IntegrityError:
		return "integrity"
	case ResourceError:
		return "resource"
	case AssertionError:
		return "assertion"
	default:
		return "unknown"
	}
}

// Error is the error type every public ndzcore operation returns. It
// carries a Kind so callers can use errors.As to branch on category
// without depending on message text.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.String()
	}
	return e.Op + ": " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an *Error of the given kind, wrapping err.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
