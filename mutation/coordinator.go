// Package mutation orchestrates optimistic local mutations.
//
// Every mutation walks the machine issued -> optimistic-applied ->
// confirmed | rolled-back. The coordinator owns the pending-change ledger:
// a snapshot is captured before each optimistic apply and restored on
// rollback. Nothing this package does ever panics across its API; a
// dispatch that panics is recovered and reported as a structured failure.
package mutation

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/hupe1980/hexcache/bus"
	"github.com/hupe1980/hexcache/coord"
	"github.com/hupe1980/hexcache/state"
	"github.com/hupe1980/hexcache/tile"
)

// Source tags every notification this coordinator emits so subscribers can
// tell local mutations from externally-originated ones.
const Source = "mutation-coordinator"

// ChangeType classifies a pending optimistic change.
type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
	ChangeMove   ChangeType = "move"
)

// PendingChange is one tracked optimistic change. PreviousSnapshot is nil
// for changes that had nothing to capture (create, delete).
type PendingChange struct {
	ID               string
	Type             ChangeType
	CoordID          string
	PreviousSnapshot *tile.TileData
	Timestamp        time.Time
}

// Result is the outcome of a mutation operation. Failures are values, not
// panics: nothing thrown crosses this API.
type Result struct {
	Success           bool
	Err               error
	OptimisticApplied bool
	RolledBack        bool
	ChangeID          string
}

// Stater is the slice of the state store the coordinator needs.
type Stater interface {
	state.Dispatcher
	Snapshot() state.CacheState
}

// Options configures a Coordinator.
type Options struct {
	// Logger receives mutation diagnostics. Nil discards them.
	Logger *slog.Logger

	// Bus receives tile_created/updated/deleted notifications. Nil
	// disables emission.
	Bus *bus.Bus

	// Now is swappable for deterministic tests.
	Now func() time.Time
}

// Coordinator applies mutations optimistically and tracks them for
// rollback.
type Coordinator struct {
	store Stater
	opts  Options

	mu      sync.Mutex
	pending []*PendingChange
	seq     uint64
}

// New creates a coordinator over the given store.
func New(store Stater, opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{store: store, opts: opts}
}

// CreateItem synthesizes a provisional entry at coordID and applies it
// before any network round-trip, folded in as a depth-1 region under the
// parent. With optimistic updates disabled it does no local mutation; the
// caller performs the remote mutation and the invalidation afterward.
func (c *Coordinator) CreateItem(coordID string, data tile.Data) (res Result) {
	defer c.recoverInto(&res)

	target, err := coord.Parse(coordID)
	if err != nil {
		return Result{Err: err}
	}
	parent, ok := target.Parent()
	if !ok {
		return Result{Err: fmt.Errorf("cannot create at the scope root %s", coordID)}
	}

	snapshot := c.store.Snapshot()
	if !snapshot.Config.EnableOptimisticUpdates {
		return Result{Success: true}
	}

	provisional := tile.TileData{
		Metadata: tile.Metadata{
			Coord:    target,
			CoordID:  target.String(),
			ParentID: parent.String(),
			Depth:    target.Depth(),
			OwnerID:  target.OwnerID,
		},
		Data: data,
	}

	c.store.Dispatch(state.LoadRegion{
		Items:    []tile.TileData{provisional},
		CenterID: parent.String(),
		Depth:    1,
	})

	change := c.track(ChangeCreate, target.String(), nil)
	c.emit(bus.TopicTileCreated, target.String(), provisional)
	return Result{Success: true, OptimisticApplied: true, ChangeID: change.ID}
}

// UpdateItem merges a partial update into an already-materialized item.
// An absent coordinate is a no-op: there is nothing to capture, so there
// is nothing that could be rolled back later.
func (c *Coordinator) UpdateItem(coordID string, patch tile.DataPatch) (res Result) {
	defer c.recoverInto(&res)

	snapshot := c.store.Snapshot()
	existing, ok := snapshot.ItemsByID[coordID]
	if !ok {
		return Result{Success: true}
	}
	if !snapshot.Config.EnableOptimisticUpdates {
		return Result{Success: true}
	}

	previous := existing
	c.store.Dispatch(state.UpdateItems{Patches: map[string]tile.DataPatch{coordID: patch}})

	change := c.track(ChangeUpdate, coordID, &previous)
	updated := existing
	updated.Data = patch.Apply(existing.Data)
	c.emit(bus.TopicTileUpdated, coordID, updated)
	return Result{Success: true, OptimisticApplied: true, ChangeID: change.ID}
}

// DeleteItem invalidates the region rooted at coordID: deletion is a
// region-boundary event whose descendants must also be dropped, not a
// single-key removal. No snapshot is captured, so a later rollback of this
// change is a no-op on state.
func (c *Coordinator) DeleteItem(coordID string) (res Result) {
	defer c.recoverInto(&res)

	snapshot := c.store.Snapshot()
	deleted, ok := snapshot.ItemsByID[coordID]
	if !ok {
		return Result{Success: true}
	}
	if !snapshot.Config.EnableOptimisticUpdates {
		return Result{Success: true}
	}

	c.store.Dispatch(state.InvalidateRegion{CoordID: coordID})

	change := c.track(ChangeDelete, coordID, nil)
	c.emit(bus.TopicTileDeleted, coordID, deleted)
	return Result{Success: true, OptimisticApplied: true, ChangeID: change.ID}
}

// MoveItem relocates a subtree to a free child slot of a new parent. Both
// ends must be materialized; the whole move is tracked as one change whose
// rollback restores the source item (descendants are refetched on demand
// after the region invalidation).
func (c *Coordinator) MoveItem(coordID, newParentID string) (res Result) {
	defer c.recoverInto(&res)

	src, err := coord.Parse(coordID)
	if err != nil {
		return Result{Err: err}
	}
	parent, err := coord.Parse(newParentID)
	if err != nil {
		return Result{Err: err}
	}
	if src.IsAnchor() {
		return Result{Err: fmt.Errorf("composition anchor %s cannot be moved", coordID)}
	}
	if src.Equal(parent) || src.IsAncestorOf(parent) {
		return Result{Err: fmt.Errorf("cannot move %s into its own subtree", coordID)}
	}

	snapshot := c.store.Snapshot()
	existing, ok := snapshot.ItemsByID[coordID]
	if !ok {
		return Result{Success: true}
	}
	if !snapshot.Config.EnableOptimisticUpdates {
		return Result{Success: true}
	}

	dest, ok := c.freeStructuralChild(snapshot, parent)
	if !ok {
		return Result{Err: fmt.Errorf("no free structural direction under %s", newParentID)}
	}

	previous := existing

	moved := existing
	moved.Metadata.Coord = dest
	moved.Metadata.CoordID = dest.String()
	moved.Metadata.ParentID = parent.String()
	moved.Metadata.Depth = dest.Depth()

	// Drop the source subtree, then materialize the item at its new slot.
	c.store.Dispatch(state.InvalidateRegion{CoordID: coordID})
	c.store.Dispatch(state.LoadRegion{
		Items:    []tile.TileData{moved},
		CenterID: parent.String(),
		Depth:    1,
	})

	change := c.track(ChangeMove, coordID, &previous)
	c.emit(bus.TopicTileUpdated, dest.String(), moved)
	return Result{Success: true, OptimisticApplied: true, ChangeID: change.ID}
}

// CopyItem duplicates a cached tile's data into the first free structural
// slot under newParentID. Only the single tile is copied, not its
// subtree. An uncached source is a no-op.
func (c *Coordinator) CopyItem(coordID, newParentID string) (res Result) {
	defer c.recoverInto(&res)

	if _, err := coord.Parse(coordID); err != nil {
		return Result{Err: err}
	}
	parent, err := coord.Parse(newParentID)
	if err != nil {
		return Result{Err: err}
	}

	snapshot := c.store.Snapshot()
	existing, ok := snapshot.ItemsByID[coordID]
	if !ok {
		return Result{Success: true}
	}
	if !snapshot.Config.EnableOptimisticUpdates {
		return Result{Success: true}
	}

	dest, ok := c.freeStructuralChild(snapshot, parent)
	if !ok {
		return Result{Err: fmt.Errorf("no free structural direction under %s", newParentID)}
	}
	return c.CreateItem(dest.String(), existing.Data)
}

// RollbackOptimisticChange restores the captured snapshot for the change
// and discards its record regardless of outcome.
func (c *Coordinator) RollbackOptimisticChange(id string) (res Result) {
	defer c.recoverInto(&res)

	c.mu.Lock()
	var change *PendingChange
	for i, p := range c.pending {
		if p.ID == id {
			change = p
			c.pending = append(c.pending[:i:i], c.pending[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	if change == nil {
		return Result{Success: true}
	}
	if change.PreviousSnapshot == nil {
		// Nothing was captured (create/delete); state stays as-is.
		return Result{Success: true, RolledBack: true, ChangeID: id}
	}

	prev := *change.PreviousSnapshot
	c.store.Dispatch(state.LoadRegion{
		Items:    []tile.TileData{prev},
		CenterID: prev.Metadata.CoordID,
		Depth:    0,
	})
	return Result{Success: true, RolledBack: true, ChangeID: id}
}

// RollbackAllOptimistic rolls back every tracked change in reverse
// issuance order, best-effort, swallowing individual failures.
func (c *Coordinator) RollbackAllOptimistic() int {
	c.mu.Lock()
	ids := make([]string, len(c.pending))
	for i, p := range c.pending {
		ids[i] = p.ID
	}
	c.mu.Unlock()

	rolled := 0
	for i := len(ids) - 1; i >= 0; i-- {
		res := c.RollbackOptimisticChange(ids[i])
		if res.Success && res.RolledBack {
			rolled++
		} else if res.Err != nil {
			c.opts.Logger.Debug("rollback failed", "change", ids[i], "error", res.Err)
		}
	}
	return rolled
}

// ConfirmChange discards a pending change after remote confirmation.
func (c *Coordinator) ConfirmChange(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, p := range c.pending {
		if p.ID == id {
			c.pending = append(c.pending[:i:i], c.pending[i+1:]...)
			return
		}
	}
}

// PendingChanges returns a copy of the tracked ledger in issuance order.
func (c *Coordinator) PendingChanges() []PendingChange {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PendingChange, len(c.pending))
	for i, p := range c.pending {
		out[i] = *p
	}
	return out
}

// track records a pending change. At most one outstanding change per
// (coordID, type) is kept: a second mutation supersedes the first's
// tracking while both dispatches stay applied in issuance order. The
// surviving record inherits the superseded record's capture, so a
// rollback restores the state before the first mutation of the run.
func (c *Coordinator) track(t ChangeType, coordID string, prev *tile.TileData) *PendingChange {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, p := range c.pending {
		if p.CoordID == coordID && p.Type == t {
			if p.PreviousSnapshot != nil {
				prev = p.PreviousSnapshot
			}
			c.pending = append(c.pending[:i:i], c.pending[i+1:]...)
			break
		}
	}

	c.seq++
	change := &PendingChange{
		ID:               fmt.Sprintf("%s-%s-%d", t, coordID, c.seq),
		Type:             t,
		CoordID:          coordID,
		PreviousSnapshot: prev,
		Timestamp:        c.opts.Now(),
	}
	c.pending = append(c.pending, change)
	return change
}

func (c *Coordinator) emit(topic, coordID string, td tile.TileData) {
	if c.opts.Bus == nil {
		return
	}
	item := td.ToItem()
	c.opts.Bus.Publish(bus.Event{
		Topic:   topic,
		Source:  Source,
		CoordID: coordID,
		Item:    &item,
	})
}

// freeStructuralChild returns the first structural child slot of parent
// not currently materialized.
func (c *Coordinator) freeStructuralChild(s state.CacheState, parent coord.Coord) (coord.Coord, bool) {
	for d := coord.Direction(1); d <= coord.MaxDirection; d++ {
		child, _ := parent.Child(d)
		if !s.HasItem(child.String()) {
			return child, true
		}
	}
	return coord.Coord{}, false
}

// recoverInto converts a panicking dispatch into a structured failure.
func (c *Coordinator) recoverInto(res *Result) {
	if r := recover(); r != nil {
		err, ok := r.(error)
		if !ok {
			err = fmt.Errorf("dispatch panicked: %v", r)
		}
		*res = Result{Err: &DispatchError{cause: err}}
		c.opts.Logger.Error("mutation dispatch failed", "error", err)
	}
}
