package state

import (
	"maps"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/hupe1980/hexcache/coord"
	"github.com/hupe1980/hexcache/tile"
)

// reduce applies one action. It is a pure function: the previous state's
// maps are never written, only replaced.
func reduce(s CacheState, a Action, now time.Time) CacheState {
	switch act := a.(type) {
	case LoadRegion:
		return reduceLoadRegion(s, act, now)

	case UpdateItems:
		return reduceUpdateItems(s, act, now)

	case RemoveItem:
		old, ok := s.ItemsByID[act.CoordID]
		if !ok {
			return s
		}
		items := maps.Clone(s.ItemsByID)
		delete(items, act.CoordID)
		s.ItemsByID = items
		s.LoadedRemoteIDs = bitmapWithout(s.LoadedRemoteIDs, old.Metadata.RemoteID)
		s.LastUpdated = now
		return s

	case SetCenter:
		if act.CoordID == s.CurrentCenter {
			return s
		}
		s.CurrentCenter = act.CoordID
		return s

	case SetExpanded:
		if s.IsExpanded(act.CoordID) == act.Expanded {
			return s
		}
		set := maps.Clone(s.ExpandedItemIDs)
		if act.Expanded {
			set[act.CoordID] = struct{}{}
		} else {
			delete(set, act.CoordID)
		}
		s.ExpandedItemIDs = set
		return s

	case ToggleComposition:
		set := maps.Clone(s.CompositionExpandedIDs)
		if _, ok := set[act.CoordID]; ok {
			delete(set, act.CoordID)
		} else {
			set[act.CoordID] = struct{}{}
		}
		s.CompositionExpandedIDs = set
		return s

	case SetLoading:
		s.IsLoading = act.Loading
		return s

	case SetError:
		s.Error = act.Err
		return s

	case InvalidateRegion:
		return reduceInvalidateRegion(s, act, now)

	case InvalidateAll:
		s.ItemsByID = map[string]tile.TileData{}
		s.RegionMetadata = map[string]RegionMetadata{}
		s.LoadedRemoteIDs = roaring64.New()
		s.Error = nil
		s.LastUpdated = now
		return s

	case SetAuthTransitioning:
		s.AuthTransitioning = act.Transitioning
		return s

	default:
		// Unknown actions are ignored rather than rejected so the action
		// set can grow without breaking older dispatch sites.
		return s
	}
}

func reduceLoadRegion(s CacheState, act LoadRegion, now time.Time) CacheState {
	if _, err := coord.Parse(act.CenterID); err != nil {
		return s
	}

	items := maps.Clone(s.ItemsByID)
	ids := bitmapClone(s.LoadedRemoteIDs)
	changed := false
	for _, td := range act.Items {
		if td.Metadata.CoordID == "" {
			continue
		}
		// Preserve ephemeral UI flags across authoritative refreshes.
		if prev, ok := items[td.Metadata.CoordID]; ok {
			td.State = prev.State
		}
		items[td.Metadata.CoordID] = td
		ids.Add(td.Metadata.RemoteID)
		changed = true
	}

	regions := maps.Clone(s.RegionMetadata)
	depth := act.Depth
	if depth < 0 {
		depth = 0
	}
	regions[act.CenterID] = RegionMetadata{LoadedAt: now, Depth: depth}

	if changed {
		s.ItemsByID = items
		s.LoadedRemoteIDs = ids
	}
	s.RegionMetadata = regions
	s.LastUpdated = now
	return s
}

func reduceUpdateItems(s CacheState, act UpdateItems, now time.Time) CacheState {
	if len(act.Patches) == 0 {
		return s
	}
	items := maps.Clone(s.ItemsByID)
	changed := false
	for coordID, patch := range act.Patches {
		existing, ok := items[coordID]
		if !ok {
			continue
		}
		existing.Data = patch.Apply(existing.Data)
		items[coordID] = existing
		changed = true
	}
	if !changed {
		return s
	}
	s.ItemsByID = items
	s.LastUpdated = now
	return s
}

func reduceInvalidateRegion(s CacheState, act InvalidateRegion, now time.Time) CacheState {
	center, err := coord.Parse(act.CoordID)
	if err != nil {
		return s
	}

	items := maps.Clone(s.ItemsByID)
	ids := bitmapClone(s.LoadedRemoteIDs)
	removed := false
	for id, td := range s.ItemsByID {
		if id == act.CoordID || td.Metadata.Coord.IsDescendantOf(center) {
			delete(items, id)
			ids.Remove(td.Metadata.RemoteID)
			removed = true
		}
	}

	regions := maps.Clone(s.RegionMetadata)
	regionsChanged := false
	for id := range s.RegionMetadata {
		if id == act.CoordID {
			delete(regions, id)
			regionsChanged = true
			continue
		}
		// A region entry below the invalidation boundary would promise
		// items that are now gone.
		if c, err := coord.Parse(id); err == nil && c.IsDescendantOf(center) {
			delete(regions, id)
			regionsChanged = true
		}
	}

	if !removed && !regionsChanged {
		return s
	}
	if removed {
		s.ItemsByID = items
		s.LoadedRemoteIDs = ids
	}
	if regionsChanged {
		s.RegionMetadata = regions
	}
	s.LastUpdated = now
	return s
}

func bitmapClone(b *roaring64.Bitmap) *roaring64.Bitmap {
	if b == nil {
		return roaring64.New()
	}
	return b.Clone()
}

func bitmapWithout(b *roaring64.Bitmap, id uint64) *roaring64.Bitmap {
	c := bitmapClone(b)
	c.Remove(id)
	return c
}
