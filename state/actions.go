package state

import (
	"github.com/hupe1980/hexcache/tile"
)

// Action is one element of the closed mutation set. Every action is total:
// applying it to any state yields a valid successor state, never a panic.
type Action interface {
	isAction()
}

// LoadRegion folds a fetched region into the state and records its
// freshness metadata. Items with malformed coordinate ids are skipped.
type LoadRegion struct {
	Items    []tile.TileData
	CenterID string
	Depth    int
}

// UpdateItems applies partial data updates to already-materialized items.
// Patches for absent coordinates are ignored.
type UpdateItems struct {
	Patches map[string]tile.DataPatch
}

// RemoveItem drops a single coordinate. No descendant cascade; use
// InvalidateRegion for region-boundary removal.
type RemoveItem struct {
	CoordID string
}

// SetCenter moves the current focus coordinate.
type SetCenter struct {
	CoordID string
}

// SetExpanded sets one coordinate's membership in the expansion set.
type SetExpanded struct {
	CoordID  string
	Expanded bool
}

// ToggleComposition flips one coordinate's composition expansion.
type ToggleComposition struct {
	CoordID string
}

// SetLoading sets the loading flag.
type SetLoading struct {
	Loading bool
}

// SetError records a non-fatal error surfaced to consumers. A nil Err
// clears the field.
type SetError struct {
	Err error
}

// InvalidateRegion drops a coordinate, every currently loaded descendant,
// and the region metadata covering them. It never fetches replacement
// data; the next focus or dependency change triggers the reload.
type InvalidateRegion struct {
	CoordID string
}

// InvalidateAll clears all items and region metadata while preserving the
// current center and expansion sets so a refetch can restore context.
type InvalidateAll struct{}

// SetAuthTransitioning marks the session-settling window during which no
// region load may be triggered.
type SetAuthTransitioning struct {
	Transitioning bool
}

func (LoadRegion) isAction()           {}
func (UpdateItems) isAction()          {}
func (RemoveItem) isAction()           {}
func (SetCenter) isAction()            {}
func (SetExpanded) isAction()          {}
func (ToggleComposition) isAction()    {}
func (SetLoading) isAction()           {}
func (SetError) isAction()             {}
func (InvalidateRegion) isAction()     {}
func (InvalidateAll) isAction()        {}
func (SetAuthTransitioning) isAction() {}
