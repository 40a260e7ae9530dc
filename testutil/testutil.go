// Package testutil provides testing helpers for hexcache.
//
// This package is intended for use in tests only. It provides a
// deterministic fixture tree and a scripted in-memory implementation of the
// server contract with call accounting and failure injection.
package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/hupe1980/hexcache/coord"
	"github.com/hupe1980/hexcache/server"
	"github.com/hupe1980/hexcache/tile"
)

// FakeService is an in-memory server.Service backed by a coordinate-keyed
// item map. Thread-safe; all calls are recorded.
type FakeService struct {
	mu    sync.Mutex
	items map[string]tile.Item

	fetchCalls map[string]int
	getCalls   map[string]int
	genCalls   map[string]int

	fetchErr error
	getErr   error

	// gate, when set, blocks FetchItemsForCoordinate until released.
	gate chan struct{}
}

// Compile-time interface check.
var _ server.Service = (*FakeService)(nil)

// NewFakeService creates an empty fake authority.
func NewFakeService() *FakeService {
	return &FakeService{
		items:      map[string]tile.Item{},
		fetchCalls: map[string]int{},
		getCalls:   map[string]int{},
		genCalls:   map[string]int{},
	}
}

// Seed inserts or replaces items.
func (f *FakeService) Seed(items ...tile.Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range items {
		f.items[it.CoordID] = it
	}
}

// Remove drops an item.
func (f *FakeService) Remove(coordID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, coordID)
}

// FailFetch makes FetchItemsForCoordinate return err (nil clears).
func (f *FakeService) FailFetch(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchErr = err
}

// FailGet makes GetItemByCoordinate return err (nil clears).
func (f *FakeService) FailGet(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getErr = err
}

// Hold blocks subsequent fetches until the returned release function is
// called. Used to overlap in-flight loads deterministically.
func (f *FakeService) Hold() (release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.gate = gate
	var once sync.Once
	return func() {
		once.Do(func() { close(gate) })
	}
}

// FetchCalls returns how many times the given center was fetched.
func (f *FakeService) FetchCalls(centerID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls[centerID]
}

// GetCalls returns how many times the given coordinate was fetched singly.
func (f *FakeService) GetCalls(coordID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getCalls[coordID]
}

// GenerationCalls returns how many ancestor-chain loads hit the coordinate.
func (f *FakeService) GenerationCalls(coordID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.genCalls[coordID]
}

// FetchItemsForCoordinate implements server.Service: the center plus every
// stored descendant within MaxDepth.
func (f *FakeService) FetchItemsForCoordinate(ctx context.Context, req server.FetchRequest) ([]tile.Item, error) {
	f.mu.Lock()
	f.fetchCalls[req.CenterCoordID]++
	err := f.fetchErr
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	center, perr := coord.Parse(req.CenterCoordID)
	if perr != nil {
		return nil, perr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tile.Item
	if it, ok := f.items[center.String()]; ok {
		out = append(out, it)
	}
	for id, it := range f.items {
		c, cerr := coord.Parse(id)
		if cerr != nil {
			continue
		}
		if c.IsDescendantOf(center) && c.Depth()-center.Depth() <= req.MaxDepth {
			out = append(out, it)
		}
	}
	return out, nil
}

// GetItemByCoordinate implements server.Service.
func (f *FakeService) GetItemByCoordinate(_ context.Context, coordID string) (*tile.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls[coordID]++
	if f.getErr != nil {
		return nil, f.getErr
	}
	it, ok := f.items[coordID]
	if !ok {
		return nil, nil
	}
	out := it
	return &out, nil
}

// GetItemWithGenerations implements server.Service: the item plus up to
// Generations ancestors, root-first.
func (f *FakeService) GetItemWithGenerations(_ context.Context, req server.GenerationsRequest) ([]tile.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.genCalls[req.CoordID]++

	c, err := coord.Parse(req.CoordID)
	if err != nil {
		return nil, err
	}

	var out []tile.Item
	ancestors := c.Ancestors()
	if skip := len(ancestors) - req.Generations; skip > 0 {
		ancestors = ancestors[skip:]
	}
	for _, a := range ancestors {
		if it, ok := f.items[a.String()]; ok {
			out = append(out, it)
		}
	}
	if it, ok := f.items[c.String()]; ok {
		out = append(out, it)
	}
	return out, nil
}

// SeedTree populates a regular fixture tree: the scope root plus all
// structural children down to depth levels. Remote ids are assigned
// deterministically from the coordinate string.
func (f *FakeService) SeedTree(ownerID, groupID uint64, depth int) {
	root := coord.NewRoot(ownerID, groupID)
	f.seedSubtree(root, depth)
}

func (f *FakeService) seedSubtree(c coord.Coord, remaining int) {
	f.Seed(ItemAt(c.String(), "tile "+c.String()))
	if remaining == 0 {
		return
	}
	for d := coord.Direction(1); d <= coord.MaxDirection; d++ {
		child, _ := c.Child(d)
		f.seedSubtree(child, remaining-1)
	}
}

// ItemAt builds a wire item with a remote id derived from the coordinate.
func ItemAt(coordID, title string) tile.Item {
	return tile.Item{
		RemoteID:   fnv64(coordID),
		CoordID:    coordID,
		OwnerID:    ownerOf(coordID),
		Title:      title,
		Visibility: true,
	}
}

func ownerOf(coordID string) uint64 {
	c, err := coord.Parse(coordID)
	if err != nil {
		return 0
	}
	return c.OwnerID
}

// fnv64 hashes a coordinate string to a stable remote id.
func fnv64(s string) uint64 {
	const (
		offset uint64 = 14695981039346656037
		prime  uint64 = 1099511628211
	)
	h := offset
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime
	}
	if h == 0 {
		h = 1
	}
	return h
}

// TilesFromItems converts wire items, skipping malformed ones, mirroring
// loader folding semantics for test assertions.
func TilesFromItems(items []tile.Item) []tile.TileData {
	out := make([]tile.TileData, 0, len(items))
	for _, it := range items {
		td, err := tile.FromItem(it)
		if err != nil {
			continue
		}
		out = append(out, td)
	}
	return out
}

// HasCoordID reports membership of a coordinate in a wire item slice.
func HasCoordID(items []tile.Item, coordID string) bool {
	for _, it := range items {
		if strings.EqualFold(it.CoordID, coordID) {
			return true
		}
	}
	return false
}
