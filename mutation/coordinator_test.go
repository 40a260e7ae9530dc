package mutation

import (
	"testing"

	"github.com/hupe1980/hexcache/bus"
	"github.com/hupe1980/hexcache/state"
	"github.com/hupe1980/hexcache/tile"
	"github.com/hupe1980/hexcache/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCoordinator(t *testing.T, cfg state.CacheConfig) (*Coordinator, *state.Store, *bus.Bus) {
	t.Helper()
	store := state.NewStore(cfg)
	b := bus.New()
	return New(store, Options{Bus: b}), store, b
}

func seedItem(t *testing.T, store *state.Store, remoteID uint64, coordID, title string) {
	t.Helper()
	td, err := tile.FromItem(testutil.ItemAt(coordID, title))
	require.NoError(t, err)
	td.Metadata.RemoteID = remoteID
	store.Dispatch(state.LoadRegion{Items: []tile.TileData{td}, CenterID: coordID, Depth: 0})
}

func TestOptimisticCreate(t *testing.T) {
	c, store, b := newCoordinator(t, state.DefaultConfig())

	var events []bus.Event
	b.Subscribe("map.*", func(ev bus.Event) { events = append(events, ev) })

	res := c.CreateItem("1,0:3", tile.Data{Title: "New Item"})

	require.True(t, res.Success)
	assert.True(t, res.OptimisticApplied)
	assert.NotEmpty(t, res.ChangeID)

	// Provisional entry present before any confirmation round-trip.
	s := store.Snapshot()
	require.True(t, s.HasItem("1,0:3"))
	assert.Equal(t, "New Item", s.ItemsByID["1,0:3"].Data.Title)
	assert.Equal(t, "1,0", s.ItemsByID["1,0:3"].Metadata.ParentID)

	require.Len(t, events, 1)
	assert.Equal(t, bus.TopicTileCreated, events[0].Topic)
	assert.Equal(t, "1,0:3", events[0].CoordID)
	assert.Equal(t, Source, events[0].Source)
}

func TestCreateDisabledOptimistic(t *testing.T) {
	cfg := state.DefaultConfig()
	cfg.EnableOptimisticUpdates = false
	c, store, _ := newCoordinator(t, cfg)

	res := c.CreateItem("1,0:3", tile.Data{Title: "New Item"})

	require.True(t, res.Success)
	assert.False(t, res.OptimisticApplied)
	assert.False(t, store.Snapshot().HasItem("1,0:3"), "no local mutation when disabled")
}

func TestCreateAtRootRejected(t *testing.T) {
	c, _, _ := newCoordinator(t, state.DefaultConfig())
	res := c.CreateItem("1,0", tile.Data{Title: "x"})
	assert.False(t, res.Success)
	assert.Error(t, res.Err)
}

func TestUpdateAbsentCoordinateIsNoop(t *testing.T) {
	c, store, b := newCoordinator(t, state.DefaultConfig())

	events := 0
	b.Subscribe("map.*", func(bus.Event) { events++ })
	before := store.Snapshot()

	title := "nope"
	res := c.UpdateItem("1,0:9", tile.DataPatch{Title: &title})

	require.True(t, res.Success)
	assert.False(t, res.OptimisticApplied)
	assert.Empty(t, c.PendingChanges(), "never creates a pending change")
	assert.Equal(t, before.LastUpdated, store.Snapshot().LastUpdated, "never dispatches")
	assert.Zero(t, events)
}

func TestUpdateCapturesSnapshotAndRollsBack(t *testing.T) {
	c, store, _ := newCoordinator(t, state.DefaultConfig())
	seedItem(t, store, 1, "1,0:2", "original")

	title := "changed"
	res := c.UpdateItem("1,0:2", tile.DataPatch{Title: &title})
	require.True(t, res.Success)
	require.True(t, res.OptimisticApplied)
	assert.Equal(t, "changed", store.Snapshot().ItemsByID["1,0:2"].Data.Title)

	pending := c.PendingChanges()
	require.Len(t, pending, 1)
	require.NotNil(t, pending[0].PreviousSnapshot)
	assert.Equal(t, "original", pending[0].PreviousSnapshot.Data.Title)

	rb := c.RollbackOptimisticChange(res.ChangeID)
	require.True(t, rb.Success)
	assert.True(t, rb.RolledBack)
	assert.Equal(t, "original", store.Snapshot().ItemsByID["1,0:2"].Data.Title)
	assert.Empty(t, c.PendingChanges())
}

func TestDeleteInvalidatesRegion(t *testing.T) {
	c, store, b := newCoordinator(t, state.DefaultConfig())
	seedItem(t, store, 1, "1,0:2", "parent")
	seedItem(t, store, 2, "1,0:2,1", "child")
	seedItem(t, store, 3, "1,0:3", "sibling")

	var got bus.Event
	b.Subscribe(bus.TopicTileDeleted, func(ev bus.Event) { got = ev })

	res := c.DeleteItem("1,0:2")
	require.True(t, res.Success)
	assert.True(t, res.OptimisticApplied)

	s := store.Snapshot()
	assert.False(t, s.HasItem("1,0:2"))
	assert.False(t, s.HasItem("1,0:2,1"), "deletion cascades through the region boundary")
	assert.True(t, s.HasItem("1,0:3"))
	assert.Equal(t, "1,0:2", got.CoordID)
}

func TestDeleteThenRollbackIsNoopOnState(t *testing.T) {
	c, store, _ := newCoordinator(t, state.DefaultConfig())
	seedItem(t, store, 1, "1,0:2", "doomed")

	res := c.DeleteItem("1,0:2")
	require.True(t, res.Success)

	rb := c.RollbackOptimisticChange(res.ChangeID)
	require.True(t, rb.Success)
	assert.True(t, rb.RolledBack)
	assert.False(t, store.Snapshot().HasItem("1,0:2"), "delete captures no snapshot, rollback restores nothing")
}

func TestDeleteAbsentCoordinateIsNoop(t *testing.T) {
	c, _, _ := newCoordinator(t, state.DefaultConfig())
	res := c.DeleteItem("1,0:9")
	require.True(t, res.Success)
	assert.False(t, res.OptimisticApplied)
	assert.Empty(t, c.PendingChanges())
}

func TestSecondMutationSupersedesTracking(t *testing.T) {
	c, store, _ := newCoordinator(t, state.DefaultConfig())
	seedItem(t, store, 1, "1,0:2", "v0")

	v1, v2 := "v1", "v2"
	res1 := c.UpdateItem("1,0:2", tile.DataPatch{Title: &v1})
	res2 := c.UpdateItem("1,0:2", tile.DataPatch{Title: &v2})
	require.True(t, res1.Success)
	require.True(t, res2.Success)

	// Both dispatches applied in issuance order.
	assert.Equal(t, "v2", store.Snapshot().ItemsByID["1,0:2"].Data.Title)

	// Only the second change is tracked, and it inherits the first
	// capture so a rollback restores the pre-run state.
	pending := c.PendingChanges()
	require.Len(t, pending, 1)
	assert.Equal(t, res2.ChangeID, pending[0].ID)
	require.NotNil(t, pending[0].PreviousSnapshot)
	assert.Equal(t, "v0", pending[0].PreviousSnapshot.Data.Title)

	// Rolling back the superseded id is a no-op; it is no longer tracked.
	rb := c.RollbackOptimisticChange(res1.ChangeID)
	assert.True(t, rb.Success)
	assert.False(t, rb.RolledBack)
	assert.Equal(t, "v2", store.Snapshot().ItemsByID["1,0:2"].Data.Title)
}

func TestRollbackAllAfterSupersedingRestoresFirstCapture(t *testing.T) {
	c, store, _ := newCoordinator(t, state.DefaultConfig())
	seedItem(t, store, 1, "1,0:2", "v0")

	v1, v2 := "v1", "v2"
	require.True(t, c.UpdateItem("1,0:2", tile.DataPatch{Title: &v1}).Success)
	require.True(t, c.UpdateItem("1,0:2", tile.DataPatch{Title: &v2}).Success)

	assert.Equal(t, 1, c.RollbackAllOptimistic())
	assert.Equal(t, "v0", store.Snapshot().ItemsByID["1,0:2"].Data.Title)
	assert.Empty(t, c.PendingChanges())
}

func TestRollbackAllReverseOrder(t *testing.T) {
	c, store, _ := newCoordinator(t, state.DefaultConfig())
	seedItem(t, store, 1, "1,0:2", "a0")
	seedItem(t, store, 2, "1,0:3", "b0")

	a1, b1 := "a1", "b1"
	require.True(t, c.UpdateItem("1,0:2", tile.DataPatch{Title: &a1}).Success)
	require.True(t, c.UpdateItem("1,0:3", tile.DataPatch{Title: &b1}).Success)

	rolled := c.RollbackAllOptimistic()
	assert.Equal(t, 2, rolled)
	assert.Empty(t, c.PendingChanges())

	s := store.Snapshot()
	assert.Equal(t, "a0", s.ItemsByID["1,0:2"].Data.Title)
	assert.Equal(t, "b0", s.ItemsByID["1,0:3"].Data.Title)
}

func TestMoveItem(t *testing.T) {
	c, store, _ := newCoordinator(t, state.DefaultConfig())
	seedItem(t, store, 1, "1,0:2", "mover")
	seedItem(t, store, 2, "1,0:3", "target parent")

	res := c.MoveItem("1,0:2", "1,0:3")
	require.True(t, res.Success, "%v", res.Err)
	require.True(t, res.OptimisticApplied)

	s := store.Snapshot()
	assert.False(t, s.HasItem("1,0:2"))
	assert.True(t, s.HasItem("1,0:3,1"), "moved into first free slot of the new parent")
	assert.Equal(t, "mover", s.ItemsByID["1,0:3,1"].Data.Title)
}

func TestCopyItem(t *testing.T) {
	c, store, b := newCoordinator(t, state.DefaultConfig())
	seedItem(t, store, 1, "1,0:2", "original")
	seedItem(t, store, 2, "1,0:3", "target parent")

	var events []bus.Event
	b.Subscribe("map.*", func(ev bus.Event) { events = append(events, ev) })

	res := c.CopyItem("1,0:2", "1,0:3")
	require.True(t, res.Success, "%v", res.Err)
	require.True(t, res.OptimisticApplied)

	s := store.Snapshot()
	assert.True(t, s.HasItem("1,0:2"), "source stays in place")
	assert.True(t, s.HasItem("1,0:3,1"), "copied into first free slot of the new parent")
	assert.Equal(t, "original", s.ItemsByID["1,0:3,1"].Data.Title)

	require.Len(t, events, 1)
	assert.Equal(t, bus.TopicTileCreated, events[0].Topic)
	assert.Equal(t, "1,0:3,1", events[0].CoordID)
}

func TestCopyAbsentSourceIsNoop(t *testing.T) {
	c, store, _ := newCoordinator(t, state.DefaultConfig())
	seedItem(t, store, 2, "1,0:3", "target parent")

	res := c.CopyItem("1,0:2", "1,0:3")
	assert.True(t, res.Success)
	assert.False(t, res.OptimisticApplied)
	assert.False(t, store.Snapshot().HasItem("1,0:3,1"))
}

func TestMoveIntoOwnSubtreeRejected(t *testing.T) {
	c, store, _ := newCoordinator(t, state.DefaultConfig())
	seedItem(t, store, 1, "1,0:2", "mover")

	res := c.MoveItem("1,0:2", "1,0:2,1")
	assert.False(t, res.Success)
	assert.Error(t, res.Err)
}

// panickyStore wraps a Store and panics on a chosen action type.
type panickyStore struct {
	*state.Store
}

func (p *panickyStore) Dispatch(a state.Action) {
	if _, ok := a.(state.UpdateItems); ok {
		panic("subscriber exploded")
	}
	p.Store.Dispatch(a)
}

func TestPanickingDispatchConvertedToFailure(t *testing.T) {
	store := state.NewStore(state.DefaultConfig())
	ps := &panickyStore{Store: store}
	c := New(ps, Options{})
	seedItem(t, store, 1, "1,0:2", "v0")

	title := "v1"
	res := c.UpdateItem("1,0:2", tile.DataPatch{Title: &title})

	assert.False(t, res.Success)
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, ErrDispatchFailed)
	assert.False(t, res.OptimisticApplied)
	assert.False(t, res.RolledBack)
}
