// Package state holds the normalized cache state and the closed action set
// that mutates it.
//
// All mutation is funneled through dispatched actions applied by a single
// Store in strict issuance order; no component writes to the maps directly.
// The reducer is copy-on-write: a dispatched action never mutates the maps
// of the previous state, so snapshots taken before a dispatch stay valid.
package state

import (
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/hupe1980/hexcache/tile"
)

// DefaultMaxAge is how long a loaded region stays fresh.
const DefaultMaxAge = 30 * time.Minute

// DefaultBackgroundRefreshInterval paces the background refresh loop.
const DefaultBackgroundRefreshInterval = 5 * time.Minute

// DefaultMaxDepth is the subtree depth requested per region load.
const DefaultMaxDepth = 3

// CacheConfig is immutable per-session configuration.
type CacheConfig struct {
	// MaxAge is the freshness horizon for loaded regions.
	MaxAge time.Duration `json:"maxAge"`

	// BackgroundRefreshInterval paces periodic center refresh. Zero
	// disables the loop.
	BackgroundRefreshInterval time.Duration `json:"backgroundRefreshInterval"`

	// EnableOptimisticUpdates gates local apply-before-confirm.
	EnableOptimisticUpdates bool `json:"enableOptimisticUpdates"`

	// MaxDepth is the default region depth.
	MaxDepth int `json:"maxDepth"`
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() CacheConfig {
	return CacheConfig{
		MaxAge:                    DefaultMaxAge,
		BackgroundRefreshInterval: DefaultBackgroundRefreshInterval,
		EnableOptimisticUpdates:   true,
		MaxDepth:                  DefaultMaxDepth,
	}
}

// RegionMetadata records one completed region load.
//
// An entry for coordinate C at depth D implies C's descendants up to depth
// D are present in ItemsByID until invalidated.
type RegionMetadata struct {
	LoadedAt time.Time `json:"loadedAt"`
	Depth    int       `json:"depth"`
}

// Fresh reports whether the region is still inside the freshness horizon.
func (m RegionMetadata) Fresh(now time.Time, maxAge time.Duration) bool {
	return now.Sub(m.LoadedAt) <= maxAge
}

// CacheState is the complete cache snapshot.
//
// Maps and the loaded-id bitmap are shared between snapshots and must be
// treated as read-only by consumers; the reducer replaces them wholesale
// on mutation.
type CacheState struct {
	ItemsByID              map[string]tile.TileData  `json:"itemsById"`
	CurrentCenter          string                    `json:"currentCenter"`
	ExpandedItemIDs        map[string]struct{}       `json:"expandedItemIds"`
	CompositionExpandedIDs map[string]struct{}       `json:"compositionExpandedIds"`
	RegionMetadata         map[string]RegionMetadata `json:"regionMetadata"`
	IsLoading              bool                      `json:"isLoading"`
	Error                  error                     `json:"-"`
	LastUpdated            time.Time                 `json:"lastUpdated"`
	Config                 CacheConfig               `json:"config"`
	AuthTransitioning      bool                      `json:"authTransitioning"`

	// LoadedRemoteIDs indexes the remote ids of every materialized item
	// for O(1) membership checks when folding external events.
	LoadedRemoteIDs *roaring64.Bitmap `json:"-"`
}

// NewState returns an empty state with the given configuration.
func NewState(cfg CacheConfig) CacheState {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	return CacheState{
		ItemsByID:              map[string]tile.TileData{},
		ExpandedItemIDs:        map[string]struct{}{},
		CompositionExpandedIDs: map[string]struct{}{},
		RegionMetadata:         map[string]RegionMetadata{},
		Config:                 cfg,
		LoadedRemoteIDs:        roaring64.New(),
	}
}

// HasItem reports whether a coordinate is materialized.
func (s CacheState) HasItem(coordID string) bool {
	_, ok := s.ItemsByID[coordID]
	return ok
}

// HasRemoteID reports whether an item with the given remote id is loaded.
func (s CacheState) HasRemoteID(id uint64) bool {
	return s.LoadedRemoteIDs != nil && s.LoadedRemoteIDs.Contains(id)
}

// IsExpanded reports membership in the expansion set.
func (s CacheState) IsExpanded(coordID string) bool {
	_, ok := s.ExpandedItemIDs[coordID]
	return ok
}

// IsCompositionExpanded reports membership in the composition expansion set.
func (s CacheState) IsCompositionExpanded(coordID string) bool {
	_, ok := s.CompositionExpandedIDs[coordID]
	return ok
}

// RegionFresh reports whether a loaded region covering coordID at the
// requested depth is still fresh.
func (s CacheState) RegionFresh(coordID string, depth int, now time.Time) bool {
	meta, ok := s.RegionMetadata[coordID]
	if !ok {
		return false
	}
	return meta.Depth >= depth && meta.Fresh(now, s.Config.MaxAge)
}
