package codec

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownType means the layout oracle has no entry for a type.
	ErrUnknownType = errors.New("codec: unknown type")

	// ErrMalformedField means a JSON value does not fit its declared type.
	ErrMalformedField = errors.New("codec: malformed field")

	// ErrSliceMisclassified means a big-vector slice could not be encoded
	// under its corrected element type. Never recoverable with a placeholder.
	ErrSliceMisclassified = errors.New("codec: big_vector slice misclassified")
)

// UnknownTypeError names the type the oracle could not resolve.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("codec: unknown type %s", e.Type)
}

func (e *UnknownTypeError) Is(target error) bool { return target == ErrUnknownType }

// FieldError locates a conversion failure inside a nested value, e.g.
// "inner.book.bids[3].order_id".
type FieldError struct {
	Path string
	Err  error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("codec: field %s: %v", e.Path, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedField, fmt.Sprintf(format, args...))
}

// withPath prefixes a field name onto a nested FieldError or wraps err.
func withPath(name string, err error) error {
	var fe *FieldError
	if errors.As(err, &fe) {
		sep := "."
		if len(fe.Path) > 0 && fe.Path[0] == '[' {
			sep = ""
		}
		return &FieldError{Path: name + sep + fe.Path, Err: fe.Err}
	}
	return &FieldError{Path: name, Err: err}
}
