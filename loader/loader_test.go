package loader

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/hexcache/server"
	"github.com/hupe1980/hexcache/state"
	"github.com/hupe1980/hexcache/testutil"
	"github.com/hupe1980/hexcache/tile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoader(t *testing.T, svc *testutil.FakeService, opts Options) (*Loader, *state.Store) {
	t.Helper()
	store := state.NewStore(state.DefaultConfig())
	return New(svc, store, opts), store
}

func TestLoadRegionFoldsSubtree(t *testing.T) {
	svc := testutil.NewFakeService()
	svc.SeedTree(1, 2, 2)
	l, store := newLoader(t, svc, Options{DisablePrefetch: true})

	require.NoError(t, l.LoadRegion(context.Background(), "1,2:1", 1))

	s := store.Snapshot()
	assert.True(t, s.HasItem("1,2:1"))
	assert.True(t, s.HasItem("1,2:1,3"))
	assert.False(t, s.IsLoading)
	assert.NoError(t, s.Error)

	meta, ok := s.RegionMetadata["1,2:1"]
	require.True(t, ok)
	assert.Equal(t, 1, meta.Depth)
}

func TestConcurrentLoadsCoalesce(t *testing.T) {
	svc := testutil.NewFakeService()
	svc.SeedTree(1, 2, 2)
	l, _ := newLoader(t, svc, Options{DisablePrefetch: true})

	release := svc.Hold()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = l.LoadRegion(context.Background(), "1,2:1", 2)
		}(i)
	}

	// Give both goroutines time to reach the singleflight group before
	// releasing the held fetch.
	time.Sleep(50 * time.Millisecond)
	release()
	wg.Wait()

	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
	assert.Equal(t, 1, svc.FetchCalls("1,2:1"), "exactly one network call for the shared center")
}

func TestSequentialLoadsAreNotCoalesced(t *testing.T) {
	svc := testutil.NewFakeService()
	svc.SeedTree(1, 2, 1)
	l, _ := newLoader(t, svc, Options{DisablePrefetch: true})

	require.NoError(t, l.LoadRegion(context.Background(), "1,2:1", 1))
	require.NoError(t, l.LoadRegion(context.Background(), "1,2:1", 1))

	assert.Equal(t, 2, svc.FetchCalls("1,2:1"))
}

func TestDegenerateCenterRejectedBeforeNetwork(t *testing.T) {
	svc := testutil.NewFakeService()
	l, store := newLoader(t, svc, Options{})

	require.NoError(t, l.LoadRegion(context.Background(), "0,0:1", 2))
	require.NoError(t, l.LoadRegion(context.Background(), "garbage", 2))

	assert.Equal(t, 0, svc.FetchCalls("0,0:1"))
	assert.Equal(t, 0, svc.FetchCalls("garbage"))
	assert.NoError(t, store.Snapshot().Error, "degenerate centers are empty results, not errors")
}

func TestFetchFailureSurfacedViaState(t *testing.T) {
	svc := testutil.NewFakeService()
	boom := errors.New("authority down")
	svc.FailFetch(boom)
	l, store := newLoader(t, svc, Options{DisablePrefetch: true})

	err := l.LoadRegion(context.Background(), "1,2:1", 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFetchFailed)
	assert.ErrorIs(t, err, boom)

	s := store.Snapshot()
	assert.False(t, s.IsLoading, "loading flag cleared on failure")
	assert.ErrorIs(t, s.Error, ErrFetchFailed)
	assert.Equal(t, 1, svc.FetchCalls("1,2:1"), "no automatic retry inside the loader")
}

func TestSiblingPrefetch(t *testing.T) {
	svc := testutil.NewFakeService()
	svc.SeedTree(1, 2, 2)
	l, store := newLoader(t, svc, Options{})

	require.NoError(t, l.LoadRegion(context.Background(), "1,2:1", 1))

	assert.Eventually(t, func() bool {
		s := store.Snapshot()
		for _, sib := range []string{"1,2:2", "1,2:3", "1,2:4", "1,2:5", "1,2:6"} {
			if !s.HasItem(sib) {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond, "siblings loaded for instant lateral navigation")
}

func TestAncestorCompletion(t *testing.T) {
	svc := testutil.NewFakeService()
	svc.SeedTree(1, 2, 3)
	l, store := newLoader(t, svc, Options{})

	require.NoError(t, l.LoadRegion(context.Background(), "1,2:1,2", 1))

	assert.Eventually(t, func() bool {
		s := store.Snapshot()
		return s.HasItem("1,2") && s.HasItem("1,2:1")
	}, 2*time.Second, 10*time.Millisecond, "ancestor chain completed upward")
}

func TestLoadItemFoldsSingleCoordinate(t *testing.T) {
	svc := testutil.NewFakeService()
	svc.Seed(testutil.ItemAt("1,2:3", "single"))
	l, store := newLoader(t, svc, Options{DisablePrefetch: true})

	require.NoError(t, l.LoadItem(context.Background(), "1,2:3"))

	s := store.Snapshot()
	assert.True(t, s.HasItem("1,2:3"))
	assert.Equal(t, "single", s.ItemsByID["1,2:3"].Data.Title)
	assert.Equal(t, 1, svc.GetCalls("1,2:3"))
}

func TestLoadItemUnknownCoordinateIsNoop(t *testing.T) {
	svc := testutil.NewFakeService()
	l, store := newLoader(t, svc, Options{DisablePrefetch: true})

	require.NoError(t, l.LoadItem(context.Background(), "1,2:9"))

	assert.False(t, store.Snapshot().HasItem("1,2:9"))
}

// malformedInjector corrupts every fetch response with an item whose
// coordinate id does not parse.
type malformedInjector struct {
	server.Service
}

func (m malformedInjector) FetchItemsForCoordinate(ctx context.Context, req server.FetchRequest) ([]tile.Item, error) {
	items, err := m.Service.FetchItemsForCoordinate(ctx, req)
	if err != nil {
		return nil, err
	}
	return append(items, tile.Item{RemoteID: 99, CoordID: "not a coordinate", Title: "garbage"}), nil
}

func TestMalformedItemsDroppedDuringFold(t *testing.T) {
	svc := testutil.NewFakeService()
	svc.Seed(testutil.ItemAt("1,2:1", "good"))
	svc.Seed(testutil.ItemAt("1,2:1,1", "child"))
	store := state.NewStore(state.DefaultConfig())
	l := New(malformedInjector{Service: svc}, store, Options{DisablePrefetch: true})

	require.NoError(t, l.LoadRegion(context.Background(), "1,2:1", 1))

	s := store.Snapshot()
	assert.True(t, s.HasItem("1,2:1"))
	assert.True(t, s.HasItem("1,2:1,1"))
	assert.False(t, s.HasItem("not a coordinate"))
	assert.False(t, s.HasRemoteID(99))
	assert.Len(t, s.ItemsByID, 2)
}
