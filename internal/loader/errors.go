package loader

import (
	"errors"
	"fmt"
)

// ErrMalformedLine marks an export line that is not a valid record.
var ErrMalformedLine = errors.New("malformed export line")

// LineError reports which line of an export failed to parse. A single
// LineError aborts the whole load.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() []error { return []error{ErrMalformedLine, e.Err} }
