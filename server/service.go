// Package server defines the contract to the remote authority and a
// retrying decorator for it.
//
// The cache never talks to storage directly; everything flows through
// Service. Implementations are expected to be safe for concurrent use.
package server

import (
	"context"

	"github.com/hupe1980/hexcache/tile"
)

// FetchRequest asks for the subtree around a center coordinate.
type FetchRequest struct {
	CenterCoordID string
	MaxDepth      int
}

// GenerationsRequest asks for an item plus its ancestor generations.
type GenerationsRequest struct {
	CoordID     string
	Generations int
}

// Service is the remote authority consumed by the cache.
type Service interface {
	// FetchItemsForCoordinate returns the center item and its subtree up
	// to MaxDepth. An unknown center yields an empty slice, not an error.
	FetchItemsForCoordinate(ctx context.Context, req FetchRequest) ([]tile.Item, error)

	// GetItemByCoordinate returns a single item, or nil when absent.
	GetItemByCoordinate(ctx context.Context, coordID string) (*tile.Item, error)

	// GetItemWithGenerations returns the item at CoordID together with up
	// to Generations ancestors, ordered root-first.
	GetItemWithGenerations(ctx context.Context, req GenerationsRequest) ([]tile.Item, error)
}
