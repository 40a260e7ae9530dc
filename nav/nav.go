// Package nav changes the focus coordinate and persists navigation state
// into a shareable, URL-like parameter set.
//
// Persisted keys: "center", "expandedItems" (comma-joined, per-id
// query-escaped coordinate ids) and "composition". The composition flag
// is only ever serialized as
// "composition=true"; when false it is omitted entirely, so its absence is
// the false value.
package nav

import (
	"io"
	"log/slog"
	"net/url"
	"sort"
	"strings"

	"github.com/hupe1980/hexcache/coord"
	"github.com/hupe1980/hexcache/scheduler"
	"github.com/hupe1980/hexcache/state"
)

// Parameter keys of the navigation persistence contract.
const (
	ParamCenter        = "center"
	ParamExpandedItems = "expandedItems"
	ParamComposition   = "composition"
)

// History is the push/replace persistence surface, typically backed by
// browser-style session history.
type History interface {
	Push(values url.Values)
	Replace(values url.Values)
	Current() url.Values
}

// NavigationState is the decoded shareable state.
type NavigationState struct {
	Center        string
	ExpandedItems []string
	Composition   bool
}

// Stater is the slice of the state store the navigator needs.
type Stater interface {
	state.Dispatcher
	Snapshot() state.CacheState
}

// Options configures a Navigator.
type Options struct {
	// Logger receives navigation diagnostics. Nil discards them.
	Logger *slog.Logger

	// Scheduler defers the post-navigation prefetch by one tick so it
	// never runs inside the dispatch that moved the center. Nil means
	// immediate.
	Scheduler scheduler.Scheduler

	// Prefetch is invoked (deferred) with the new center after a
	// successful navigation. Nil disables prefetch.
	Prefetch func(centerID string)
}

// Navigator owns focus changes and their persistence.
type Navigator struct {
	store   Stater
	history History
	opts    Options
}

// New creates a navigator over the given store and history.
func New(store Stater, history History, opts Options) *Navigator {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Scheduler == nil {
		opts.Scheduler = scheduler.Immediate{}
	}
	return &Navigator{store: store, history: history, opts: opts}
}

// NavigateOption adjusts one navigation call.
type NavigateOption func(*navigateConfig)

type navigateConfig struct {
	skipURL bool
	replace bool
}

// WithoutURLUpdate suppresses history persistence for this navigation.
func WithoutURLUpdate() NavigateOption {
	return func(c *navigateConfig) { c.skipURL = true }
}

// WithReplace uses Replace instead of Push, keeping history depth flat.
func WithReplace() NavigateOption {
	return func(c *navigateConfig) { c.replace = true }
}

// NavigateToItem resolves identifier to a coordinate, moves the center,
// persists the navigation state and schedules the deferred prefetch.
func (n *Navigator) NavigateToItem(identifier string, opts ...NavigateOption) error {
	var cfg navigateConfig
	for _, fn := range opts {
		fn(&cfg)
	}

	c, err := coord.Parse(identifier)
	if err != nil {
		return err
	}
	centerID := c.String()

	n.store.Dispatch(state.SetCenter{CoordID: centerID})

	if !cfg.skipURL {
		n.persist(cfg.replace)
	}

	if n.opts.Prefetch != nil {
		// Deferred by one tick: the synchronous state transitions of this
		// navigation step settle before any load dispatches pile on.
		if err := n.opts.Scheduler.Defer(func() { n.opts.Prefetch(centerID) }); err != nil {
			n.opts.Logger.Debug("prefetch deferral rejected", "coord", centerID, "error", err)
		}
	}
	return nil
}

// ToggleItemExpansion flips one coordinate's membership in the expansion
// set and re-persists the navigation state.
func (n *Navigator) ToggleItemExpansion(coordID string) {
	expanded := n.store.Snapshot().IsExpanded(coordID)
	n.store.Dispatch(state.SetExpanded{CoordID: coordID, Expanded: !expanded})
	n.persist(true)
}

// ToggleComposition flips one coordinate's composition expansion and
// re-persists.
func (n *Navigator) ToggleComposition(coordID string) {
	n.store.Dispatch(state.ToggleComposition{CoordID: coordID})
	n.persist(true)
}

func (n *Navigator) persist(replace bool) {
	if n.history == nil {
		return
	}
	s := n.store.Snapshot()
	values := EncodeNavigationState(NavigationState{
		Center:        s.CurrentCenter,
		ExpandedItems: sortedKeys(s.ExpandedItemIDs),
		Composition:   s.IsCompositionExpanded(s.CurrentCenter),
	})
	if replace {
		n.history.Replace(values)
	} else {
		n.history.Push(values)
	}
}

// EncodeNavigationState builds the parameter set. A false composition flag
// produces no "composition" key at all.
//
// Coordinate ids contain commas themselves, so each id is query-escaped
// before the comma join; the separators stay unambiguous and
// ParseNavigationState can always recover the exact ids.
func EncodeNavigationState(ns NavigationState) url.Values {
	values := url.Values{}
	if ns.Center != "" {
		values.Set(ParamCenter, ns.Center)
	}
	if len(ns.ExpandedItems) > 0 {
		escaped := make([]string, len(ns.ExpandedItems))
		for i, id := range ns.ExpandedItems {
			escaped[i] = url.QueryEscape(id)
		}
		values.Set(ParamExpandedItems, strings.Join(escaped, ","))
	}
	if ns.Composition {
		values.Set(ParamComposition, "true")
	}
	return values
}

// ParseNavigationState extracts the shareable state back out of a
// parameter set. Absence of the composition key is false. Tokens that
// fail to unescape are dropped rather than surfaced.
func ParseNavigationState(values url.Values) NavigationState {
	ns := NavigationState{
		Center:      values.Get(ParamCenter),
		Composition: values.Get(ParamComposition) == "true",
	}
	if raw := values.Get(ParamExpandedItems); raw != "" {
		for _, tok := range strings.Split(raw, ",") {
			id, err := url.QueryUnescape(tok)
			if err != nil {
				continue
			}
			ns.ExpandedItems = append(ns.ExpandedItems, id)
		}
	}
	return ns
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MemoryHistory is an in-memory History for tests and headless sessions.
type MemoryHistory struct {
	entries []url.Values
}

// Compile-time interface check.
var _ History = (*MemoryHistory)(nil)

// NewMemoryHistory creates an empty history.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{}
}

// Push appends a new entry.
func (h *MemoryHistory) Push(values url.Values) {
	h.entries = append(h.entries, values)
}

// Replace overwrites the latest entry, or seeds the first one.
func (h *MemoryHistory) Replace(values url.Values) {
	if len(h.entries) == 0 {
		h.entries = []url.Values{values}
		return
	}
	h.entries[len(h.entries)-1] = values
}

// Current returns the latest entry, or an empty set.
func (h *MemoryHistory) Current() url.Values {
	if len(h.entries) == 0 {
		return url.Values{}
	}
	return h.entries[len(h.entries)-1]
}

// Len returns the history depth.
func (h *MemoryHistory) Len() int { return len(h.entries) }
