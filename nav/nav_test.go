package nav

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/hexcache/coord"
	"github.com/hupe1980/hexcache/state"
)

func TestEncodeNavigationState(t *testing.T) {
	t.Run("composition true is serialized", func(t *testing.T) {
		values := EncodeNavigationState(NavigationState{
			Center:        "123",
			ExpandedItems: []string{"1", "2"},
			Composition:   true,
		})

		encoded := values.Encode()
		assert.Contains(t, encoded, "center=123")
		assert.Contains(t, encoded, "expandedItems=1%2C2")
		assert.Contains(t, encoded, "composition=true")
	})

	t.Run("composition false is omitted", func(t *testing.T) {
		values := EncodeNavigationState(NavigationState{
			Center:        "123",
			ExpandedItems: []string{"1", "2"},
		})

		encoded := values.Encode()
		assert.NotContains(t, encoded, "composition")
		assert.False(t, values.Has(ParamComposition))
	})
}

func TestParseNavigationState(t *testing.T) {
	values := url.Values{}
	values.Set(ParamCenter, "1,0:2")
	values.Set(ParamExpandedItems, "1%2C0%3A2,1%2C0%3A3")
	values.Set(ParamComposition, "true")

	ns := ParseNavigationState(values)
	assert.Equal(t, "1,0:2", ns.Center)
	assert.True(t, ns.Composition)
	assert.Equal(t, []string{"1,0:2", "1,0:3"}, ns.ExpandedItems)

	assert.False(t, ParseNavigationState(url.Values{}).Composition)
}

func TestExpandedItemsRoundTrip(t *testing.T) {
	// Ids carry commas and colons of their own, so the join must stay
	// recoverable for every well-formed id.
	ids := []string{"1,0:2", "1,0:2,-3", "1,0:3"}
	values := EncodeNavigationState(NavigationState{
		Center:        "1,0",
		ExpandedItems: ids,
	})

	ns := ParseNavigationState(values)
	assert.Equal(t, ids, ns.ExpandedItems)
	for _, id := range ns.ExpandedItems {
		_, err := coord.Parse(id)
		require.NoError(t, err)
	}
}

func TestNavigateRoundTrip(t *testing.T) {
	values := EncodeNavigationState(NavigationState{
		Center:      "1,0:2,-3",
		Composition: true,
	})
	ns := ParseNavigationState(values)
	assert.Equal(t, "1,0:2,-3", ns.Center)
	assert.True(t, ns.Composition)

	_, err := coord.Parse(ns.Center)
	require.NoError(t, err)
}

func TestNavigateToItem(t *testing.T) {
	store := state.NewStore(state.DefaultConfig())
	history := NewMemoryHistory()

	var prefetched []string
	nav := New(store, history, Options{
		Prefetch: func(centerID string) { prefetched = append(prefetched, centerID) },
	})

	require.NoError(t, nav.NavigateToItem("1,0:2"))

	assert.Equal(t, "1,0:2", store.Snapshot().CurrentCenter)
	assert.Equal(t, []string{"1,0:2"}, prefetched)
	require.Equal(t, 1, history.Len())
	assert.Equal(t, "1,0:2", history.Current().Get(ParamCenter))
}

func TestNavigateToItemMalformed(t *testing.T) {
	store := state.NewStore(state.DefaultConfig())
	history := NewMemoryHistory()
	nav := New(store, history, Options{})

	err := nav.NavigateToItem("not a coordinate")
	require.ErrorIs(t, err, coord.ErrMalformed)

	assert.Empty(t, store.Snapshot().CurrentCenter)
	assert.Zero(t, history.Len())
}

func TestNavigateWithoutURLUpdate(t *testing.T) {
	store := state.NewStore(state.DefaultConfig())
	history := NewMemoryHistory()
	nav := New(store, history, Options{})

	require.NoError(t, nav.NavigateToItem("1,0:2", WithoutURLUpdate()))

	assert.Equal(t, "1,0:2", store.Snapshot().CurrentCenter)
	assert.Zero(t, history.Len())
}

func TestNavigateWithReplace(t *testing.T) {
	store := state.NewStore(state.DefaultConfig())
	history := NewMemoryHistory()
	nav := New(store, history, Options{})

	require.NoError(t, nav.NavigateToItem("1,0:2"))
	require.NoError(t, nav.NavigateToItem("1,0:3", WithReplace()))

	assert.Equal(t, 1, history.Len())
	assert.Equal(t, "1,0:3", history.Current().Get(ParamCenter))
}

func TestToggleItemExpansion(t *testing.T) {
	store := state.NewStore(state.DefaultConfig())
	history := NewMemoryHistory()
	nav := New(store, history, Options{})

	require.NoError(t, nav.NavigateToItem("1,0:2"))

	nav.ToggleItemExpansion("1,0:2,1")
	assert.True(t, store.Snapshot().IsExpanded("1,0:2,1"))
	persisted := ParseNavigationState(history.Current())
	assert.Equal(t, []string{"1,0:2,1"}, persisted.ExpandedItems)

	nav.ToggleItemExpansion("1,0:2,1")
	assert.False(t, store.Snapshot().IsExpanded("1,0:2,1"))
	assert.False(t, history.Current().Has(ParamExpandedItems))
}

func TestToggleComposition(t *testing.T) {
	store := state.NewStore(state.DefaultConfig())
	history := NewMemoryHistory()
	nav := New(store, history, Options{})

	require.NoError(t, nav.NavigateToItem("1,0:2"))

	nav.ToggleComposition("1,0:2")
	assert.True(t, store.Snapshot().IsCompositionExpanded("1,0:2"))
	assert.Equal(t, "true", history.Current().Get(ParamComposition))

	nav.ToggleComposition("1,0:2")
	assert.False(t, store.Snapshot().IsCompositionExpanded("1,0:2"))
	assert.False(t, history.Current().Has(ParamComposition))
}
