package hexcache

import (
	"errors"
	"fmt"

	"github.com/hupe1980/hexcache/loader"
	"github.com/hupe1980/hexcache/offline"
)

var (
	// ErrClosed is returned when operations are attempted on a closed cache.
	ErrClosed = errors.New("cache is closed")

	// ErrNotFound is returned when a coordinate has no item, locally or
	// at the remote authority.
	ErrNotFound = errors.New("item not found")
)

// translateError unifies package-level errors at the facade boundary.
// Coordinate grammar errors (coord.ErrMalformed) already carry a stable
// sentinel and pass through unchanged.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Not found unification.
	if errors.Is(err, offline.ErrNoSnapshot) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	// Fetch failures keep their sentinel; attach nothing.
	if errors.Is(err, loader.ErrFetchFailed) {
		return err
	}

	return err
}
