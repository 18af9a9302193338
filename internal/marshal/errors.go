package marshal

import (
	"errors"
	"fmt"
)

var (
	ErrTypeMismatch        = errors.New("type mismatch")
	ErrMissingField        = errors.New("missing field")
	ErrArrayLengthMismatch = errors.New("array length mismatch")
	ErrUntaggedPointer     = errors.New("untagged pointer")
	ErrNoCallbacks         = errors.New("callbacks unavailable")
)

// Error reports the first value that could not be marshaled. Kind is one of
// the sentinel errors above, so errors.Is works on the result.
type Error struct {
	Kind error

	// Path locates the value, e.g. "param 1.inner.values[2]".
	Path string

	Expected string
	Actual   string
}

func (e *Error) Error() string {
	var msg string
	switch e.Kind {
	case ErrMissingField:
		msg = fmt.Sprintf("missing expected member %q", e.Expected)
	case ErrArrayLengthMismatch:
		msg = fmt.Sprintf("expected array of length %s, got %s", e.Expected, e.Actual)
	case ErrUntaggedPointer:
		msg = fmt.Sprintf("untagged %s value, expected %s", e.Actual, e.Expected)
	case ErrNoCallbacks:
		msg = fmt.Sprintf("%s value cannot be passed as %s here", e.Actual, e.Expected)
	default:
		msg = fmt.Sprintf("unexpected %s value, expected %s", e.Actual, e.Expected)
	}
	if e.Path == "" {
		return msg
	}
	return e.Path + ": " + msg
}

func (e *Error) Unwrap() error { return e.Kind }
