package coord

import (
	"errors"
	"fmt"
)

// ErrMalformed is the sentinel matched by every parse failure.
//
// Callers should test with errors.Is(err, coord.ErrMalformed); the concrete
// *MalformedCoordinateError carries the offending input.
var ErrMalformed = errors.New("malformed coordinate")

// MalformedCoordinateError reports an input that does not satisfy the
// coordinate grammar.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type MalformedCoordinateError struct {
	Input  string
	Reason string
	cause  error
}

func (e *MalformedCoordinateError) Error() string {
	return fmt.Sprintf("malformed coordinate %q: %s", e.Input, e.Reason)
}

func (e *MalformedCoordinateError) Unwrap() error { return e.cause }

// Is makes every MalformedCoordinateError match ErrMalformed.
func (e *MalformedCoordinateError) Is(target error) bool {
	return target == ErrMalformed
}
