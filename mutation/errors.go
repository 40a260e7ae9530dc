package mutation

import (
	"errors"
	"fmt"
)

// ErrDispatchFailed is the sentinel matched by every converted dispatch
// panic.
var ErrDispatchFailed = errors.New("mutation dispatch failed")

// DispatchError reports a dispatch callback that panicked. It is always
// returned inside a Result, never thrown.
//
// The original underlying error can be accessed via errors.Unwrap.
type DispatchError struct {
	cause error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("mutation dispatch failed: %v", e.cause)
}

func (e *DispatchError) Unwrap() error { return e.cause }

// Is makes every DispatchError match ErrDispatchFailed.
func (e *DispatchError) Is(target error) bool {
	return target == ErrDispatchFailed
}
