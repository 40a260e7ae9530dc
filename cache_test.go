package hexcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/hexcache/bus"
	"github.com/hupe1980/hexcache/mutation"
	"github.com/hupe1980/hexcache/scheduler"
	"github.com/hupe1980/hexcache/state"
	"github.com/hupe1980/hexcache/testutil"
	"github.com/hupe1980/hexcache/tile"
)

func newTestCache(t *testing.T, optFns ...Option) (*Cache, *testutil.FakeService) {
	t.Helper()
	svc := testutil.NewFakeService()
	svc.Seed(
		testutil.ItemAt("1,0", "root"),
		testutil.ItemAt("1,0:2", "hub"),
		testutil.ItemAt("1,0:2,1", "left"),
		testutil.ItemAt("1,0:2,2", "right"),
		testutil.ItemAt("1,0:3", "neighbor"),
	)

	// Prefetch stays off here so asserts on fetch accounting and drained
	// state are deterministic; loader tests cover the prefetch paths.
	optFns = append([]Option{WithScheduler(scheduler.Immediate{}), WithoutPrefetch()}, optFns...)
	c, err := New(svc, optFns...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, svc
}

func TestNewRequiresService(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestNavigationTriggersDeferredLoad(t *testing.T) {
	c, svc := newTestCache(t)

	require.NoError(t, c.NavigateToItem("1,0:2"))

	// With the immediate scheduler the deferred load has already run.
	s := c.Snapshot()
	assert.Equal(t, "1,0:2", s.CurrentCenter)
	assert.True(t, s.HasItem("1,0:2"))
	assert.True(t, s.HasItem("1,0:2,1"))
	assert.Equal(t, 1, svc.FetchCalls("1,0:2"))
}

func TestAuthLogoutDrainsAndSettles(t *testing.T) {
	c, svc := newTestCache(t, WithSettleDelay(20*time.Millisecond))

	require.NoError(t, c.NavigateToItem("1,0:2"))
	require.True(t, c.Snapshot().HasItem("1,0:2"))
	before := svc.FetchCalls("1,0:2")

	c.Events().Publish(bus.Event{Topic: bus.TopicAuthLogout, Source: "auth"})

	s := c.Snapshot()
	assert.Empty(t, s.ItemsByID, "logout drains the cache")
	assert.True(t, s.AuthTransitioning)
	assert.Equal(t, "1,0:2", s.CurrentCenter, "focus survives the drain")

	// After the settle window the flag clears and a deferred load of the
	// center is permitted again.
	assert.Eventually(t, func() bool {
		s := c.Snapshot()
		return !s.AuthTransitioning && s.HasItem("1,0:2")
	}, 2*time.Second, 5*time.Millisecond)
	assert.Greater(t, svc.FetchCalls("1,0:2"), before)
}

func TestCenterChangeDuringInFlightLoad(t *testing.T) {
	sched := scheduler.NewNextTick()
	t.Cleanup(func() { sched.Close() })
	c, svc := newTestCache(t, WithScheduler(sched))

	// Gate the first load mid-flight, then move the center again.
	release := svc.Hold()
	require.NoError(t, c.NavigateToItem("1,0:2"))
	require.Eventually(t, func() bool {
		return svc.FetchCalls("1,0:2") == 1
	}, 2*time.Second, time.Millisecond)
	require.NoError(t, c.NavigateToItem("1,0:3"))
	release()

	// The second center's load must not be lost to the first one.
	assert.Eventually(t, func() bool {
		return c.Snapshot().HasItem("1,0:3")
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, svc.FetchCalls("1,0:3"))
}

func TestExternalTileEventsFold(t *testing.T) {
	c, svc := newTestCache(t)
	require.NoError(t, c.NavigateToItem("1,0:2"))

	// Another actor updated a tile: single-item refetch.
	svc.Seed(testutil.ItemAt("1,0:2,1", "renamed"))
	c.Events().Publish(bus.Event{
		Topic:   bus.TopicTileUpdated,
		Source:  "sync",
		CoordID: "1,0:2,1",
	})
	td, ok := c.Item("1,0:2,1")
	require.True(t, ok)
	assert.Equal(t, "renamed", td.Data.Title)

	// Another actor deleted a tile: single-node removal, no cascade.
	c.Events().Publish(bus.Event{
		Topic:   bus.TopicTileDeleted,
		Source:  "sync",
		CoordID: "1,0:2,1",
	})
	_, ok = c.Item("1,0:2,1")
	assert.False(t, ok)
	assert.True(t, c.Snapshot().HasItem("1,0:2"))
}

func TestExternalUpdateForUncachedTileIgnored(t *testing.T) {
	c, svc := newTestCache(t)
	require.NoError(t, c.NavigateToItem("1,0:2"))

	// Nothing local holds "1,0:3"; an update for it is not our business.
	c.Events().Publish(bus.Event{
		Topic:   bus.TopicTileUpdated,
		Source:  "sync",
		CoordID: "1,0:3",
	})
	assert.Zero(t, svc.GetCalls("1,0:3"))
	assert.False(t, c.Snapshot().HasItem("1,0:3"))
}

func TestExternalMoveRefetchedByRemoteID(t *testing.T) {
	c, svc := newTestCache(t)
	require.NoError(t, c.NavigateToItem("1,0:2"))

	// Another actor moved a cached tile. The new coordinate is not keyed
	// locally, but the remote id is, so the update still folds in.
	moved := testutil.ItemAt("1,0:2,1", "left")
	moved.CoordID = "1,0:3,1"
	svc.Remove("1,0:2,1")
	svc.Seed(moved)

	c.Events().Publish(bus.Event{
		Topic:   bus.TopicTileUpdated,
		Source:  "sync",
		CoordID: "1,0:3,1",
		Item:    &moved,
	})
	assert.True(t, c.Snapshot().HasItem("1,0:3,1"))
	assert.Equal(t, 1, svc.GetCalls("1,0:3,1"))
}

func TestOwnMutationEventsAreSkipped(t *testing.T) {
	c, svc := newTestCache(t)
	require.NoError(t, c.NavigateToItem("1,0:2"))
	before := svc.GetCalls("1,0:2,1")

	c.Events().Publish(bus.Event{
		Topic:   bus.TopicTileUpdated,
		Source:  mutation.Source,
		CoordID: "1,0:2,1",
	})
	assert.Equal(t, before, svc.GetCalls("1,0:2,1"))
}

func TestGetItem(t *testing.T) {
	c, svc := newTestCache(t)
	ctx := context.Background()

	// Remote fetch on local miss.
	td, err := c.GetItem(ctx, "1,0:3")
	require.NoError(t, err)
	assert.Equal(t, "neighbor", td.Data.Title)
	assert.Equal(t, 1, svc.GetCalls("1,0:3"))

	// Local hit afterwards.
	_, err = c.GetItem(ctx, "1,0:3")
	require.NoError(t, err)
	assert.Equal(t, 1, svc.GetCalls("1,0:3"))

	// Absent everywhere.
	_, err = c.GetItem(ctx, "1,0:4")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMutationDelegation(t *testing.T) {
	metrics := &BasicMetricsCollector{}
	c, _ := newTestCache(t, WithMetricsCollector(metrics))
	require.NoError(t, c.NavigateToItem("1,0:2"))

	res := c.CreateItem("1,0:2,3", tile.Data{Title: "fresh"})
	require.True(t, res.Success)
	assert.True(t, res.OptimisticApplied)
	require.Len(t, c.PendingChanges(), 1)

	res = c.RollbackChange(res.ChangeID)
	assert.True(t, res.RolledBack)
	assert.Empty(t, c.PendingChanges())

	assert.Equal(t, int64(1), metrics.MutationCount.Load())
	assert.Equal(t, int64(1), metrics.Rollbacks.Load())
}

func TestInvalidate(t *testing.T) {
	c, _ := newTestCache(t)
	require.NoError(t, c.NavigateToItem("1,0:2"))

	// Materialize the sibling so the cascade has an untouched neighbor.
	_, err := c.GetItem(context.Background(), "1,0:3")
	require.NoError(t, err)

	c.Invalidate("1,0:2")
	s := c.Snapshot()
	assert.False(t, s.HasItem("1,0:2"))
	assert.False(t, s.HasItem("1,0:2,1"))
	assert.True(t, s.HasItem("1,0:3"))
}

func TestClosedCache(t *testing.T) {
	c, _ := newTestCache(t)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.NavigateToItem("1,0:2"), ErrClosed)
	assert.ErrorIs(t, c.LoadRegion(context.Background(), "1,0:2"), ErrClosed)
	res := c.CreateItem("1,0:2,3", tile.Data{Title: "late"})
	assert.ErrorIs(t, res.Err, ErrClosed)
}

func TestStateSubscription(t *testing.T) {
	c, _ := newTestCache(t)

	var centers []string
	unsubscribe := c.Subscribe(func(s state.CacheState) {
		centers = append(centers, s.CurrentCenter)
	})
	require.NoError(t, c.NavigateToItem("1,0:2"))
	unsubscribe()
	require.NoError(t, c.NavigateToItem("1,0:3"))

	assert.Contains(t, centers, "1,0:2")
	assert.NotContains(t, centers, "1,0:3")
}
