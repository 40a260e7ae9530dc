package loader

import (
	"errors"
	"fmt"
)

// ErrFetchFailed is the sentinel matched by every region fetch failure.
var ErrFetchFailed = errors.New("region fetch failed")

// FetchError reports a failed region or item fetch. It is surfaced through
// the state's Error field, never thrown across the public API.
//
// The original underlying error can be accessed via errors.Unwrap.
type FetchError struct {
	CoordID string
	cause   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("region fetch failed for %s: %v", e.CoordID, e.cause)
}

func (e *FetchError) Unwrap() error { return e.cause }

// Is makes every FetchError match ErrFetchFailed.
func (e *FetchError) Is(target error) bool {
	return target == ErrFetchFailed
}
