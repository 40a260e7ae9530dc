// Package tile defines the shared data model for cache entries and the wire
// representation exchanged with the remote authority.
package tile

import (
	"time"

	"github.com/hupe1980/hexcache/coord"
)

// Metadata is the stable identity of a cache entry.
type Metadata struct {
	// RemoteID is the authority-side identifier, unique across the tree.
	RemoteID uint64 `json:"remoteId"`

	// Coord addresses the entry in the hierarchy.
	Coord coord.Coord `json:"-"`

	// CoordID is the canonical string form of Coord. Kept alongside the
	// parsed form so snapshots stay self-describing.
	CoordID string `json:"coordId"`

	// ParentID is the canonical coordinate of the structural parent,
	// empty for the root.
	ParentID string `json:"parentId,omitempty"`

	// Depth mirrors len(Coord.Path).
	Depth int `json:"depth"`

	// OwnerID is the owning user.
	OwnerID uint64 `json:"ownerId"`
}

// Data is the mutable content of a cache entry.
type Data struct {
	Title      string `json:"title"`
	Content    string `json:"content,omitempty"`
	Preview    string `json:"preview,omitempty"`
	Link       string `json:"link,omitempty"`
	Color      string `json:"color,omitempty"`
	Visibility bool   `json:"visibility"`
	TileType   string `json:"tileType,omitempty"`
}

// State holds ephemeral UI flags. The cache stores them because it is the
// shared store for the session, but they are never cache-authoritative and
// never persisted.
type State struct {
	IsDragged  bool `json:"-"`
	IsHovered  bool `json:"-"`
	IsSelected bool `json:"-"`
	IsExpanded bool `json:"-"`
}

// TileData is one materialized cache entry.
type TileData struct {
	Metadata Metadata `json:"metadata"`
	Data     Data     `json:"data"`
	State    State    `json:"-"`
}

// Item is the wire representation returned by the remote authority.
type Item struct {
	RemoteID   uint64    `json:"id"`
	CoordID    string    `json:"coordId"`
	ParentID   string    `json:"parentId,omitempty"`
	Depth      int       `json:"depth"`
	OwnerID    uint64    `json:"ownerId"`
	Title      string    `json:"title"`
	Content    string    `json:"content,omitempty"`
	Preview    string    `json:"preview,omitempty"`
	Link       string    `json:"link,omitempty"`
	Color      string    `json:"color,omitempty"`
	Visibility bool      `json:"visibility"`
	TileType   string    `json:"tileType,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt,omitempty"`
}

// FromItem converts a wire item into a cache entry. The item's coordinate
// id must satisfy the coordinate grammar.
func FromItem(it Item) (TileData, error) {
	c, err := coord.Parse(it.CoordID)
	if err != nil {
		return TileData{}, err
	}
	parentID := it.ParentID
	if parentID == "" {
		if p, ok := c.Parent(); ok {
			parentID = p.String()
		}
	}
	return TileData{
		Metadata: Metadata{
			RemoteID: it.RemoteID,
			Coord:    c,
			CoordID:  c.String(),
			ParentID: parentID,
			Depth:    c.Depth(),
			OwnerID:  it.OwnerID,
		},
		Data: Data{
			Title:      it.Title,
			Content:    it.Content,
			Preview:    it.Preview,
			Link:       it.Link,
			Color:      it.Color,
			Visibility: it.Visibility,
			TileType:   it.TileType,
		},
	}, nil
}

// ToItem converts a cache entry back to its wire representation.
func (t TileData) ToItem() Item {
	return Item{
		RemoteID:   t.Metadata.RemoteID,
		CoordID:    t.Metadata.CoordID,
		ParentID:   t.Metadata.ParentID,
		Depth:      t.Metadata.Depth,
		OwnerID:    t.Metadata.OwnerID,
		Title:      t.Data.Title,
		Content:    t.Data.Content,
		Preview:    t.Data.Preview,
		Link:       t.Data.Link,
		Color:      t.Data.Color,
		Visibility: t.Data.Visibility,
		TileType:   t.Data.TileType,
	}
}

// DataPatch is a partial update of Data. Nil fields are left untouched.
type DataPatch struct {
	Title      *string `json:"title,omitempty"`
	Content    *string `json:"content,omitempty"`
	Preview    *string `json:"preview,omitempty"`
	Link       *string `json:"link,omitempty"`
	Color      *string `json:"color,omitempty"`
	Visibility *bool   `json:"visibility,omitempty"`
	TileType   *string `json:"tileType,omitempty"`
}

// Apply merges the patch into d and returns the result.
func (p DataPatch) Apply(d Data) Data {
	if p.Title != nil {
		d.Title = *p.Title
	}
	if p.Content != nil {
		d.Content = *p.Content
	}
	if p.Preview != nil {
		d.Preview = *p.Preview
	}
	if p.Link != nil {
		d.Link = *p.Link
	}
	if p.Color != nil {
		d.Color = *p.Color
	}
	if p.Visibility != nil {
		d.Visibility = *p.Visibility
	}
	if p.TileType != nil {
		d.TileType = *p.TileType
	}
	return d
}
