// Package loader fetches regions from the remote authority and folds them
// into the cache state.
//
// Concurrent loads for the same center are coalesced through a singleflight
// group: exactly one network call happens, and every caller observes the
// shared outcome via the one dispatch it eventually produces. Loads for
// different centers may race; each dispatch is a self-consistent snapshot
// for its own coordinate, so the last one to land winning is accepted
// staleness, not a correctness violation.
package loader

import (
	"context"
	"io"
	"log/slog"

	"github.com/hupe1980/hexcache/coord"
	"github.com/hupe1980/hexcache/server"
	"github.com/hupe1980/hexcache/state"
	"github.com/hupe1980/hexcache/tile"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Stater is the slice of the state store the loader needs.
type Stater interface {
	state.Dispatcher
	Snapshot() state.CacheState
}

// Options configures a Loader.
type Options struct {
	// Logger receives load diagnostics. Nil discards them.
	Logger *slog.Logger

	// PrefetchLimiter paces sibling prefetch calls. Nil means unpaced.
	PrefetchLimiter *rate.Limiter

	// DisablePrefetch turns off ancestor completion and sibling prefetch.
	DisablePrefetch bool
}

// Loader coordinates region fetches against one state store.
type Loader struct {
	svc   server.Service
	store Stater
	opts  Options

	group singleflight.Group
}

// New creates a loader over the given authority and store.
func New(svc server.Service, store Stater, opts Options) *Loader {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Loader{svc: svc, store: store, opts: opts}
}

// LoadRegion loads the subtree around centerID up to maxDepth and
// dispatches the result. Degenerate or malformed centers are rejected
// before any network call and yield an empty result, not an error.
func (l *Loader) LoadRegion(ctx context.Context, centerID string, maxDepth int) error {
	center, err := coord.Parse(centerID)
	if err != nil || center.IsDegenerate() {
		l.opts.Logger.Debug("skipping unusable center", "coord", centerID)
		return nil
	}
	return l.coalesced(ctx, center.String(), maxDepth, true)
}

// errgroup limit for sibling prefetch fan-out.
const prefetchConcurrency = 3

// LoadItem refetches a single coordinate and folds it in as a depth-1
// region. A coordinate unknown to the authority is a no-op.
func (l *Loader) LoadItem(ctx context.Context, coordID string) error {
	c, err := coord.Parse(coordID)
	if err != nil || c.IsDegenerate() {
		return nil
	}

	item, err := l.svc.GetItemByCoordinate(ctx, c.String())
	if err != nil {
		ferr := &FetchError{CoordID: c.String(), cause: err}
		l.store.Dispatch(state.SetError{Err: ferr})
		return ferr
	}
	if item == nil {
		return nil
	}

	td, err := tile.FromItem(*item)
	if err != nil {
		return nil
	}
	l.store.Dispatch(state.LoadRegion{Items: []tile.TileData{td}, CenterID: c.String(), Depth: 1})
	return nil
}

// coalesced funnels a load through the singleflight group. A caller that
// joins an in-flight load for the same center shares its outcome without
// issuing a second fetch.
func (l *Loader) coalesced(ctx context.Context, centerID string, maxDepth int, primary bool) error {
	ch := l.group.DoChan(centerID, func() (any, error) {
		// The load outlives any single caller; a navigation that moved on
		// must not cancel the shared fetch mid-flight.
		return nil, l.fetchAndFold(context.WithoutCancel(ctx), centerID, maxDepth, primary)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fetchAndFold performs the network call and dispatches the result.
// Primary loads drive the loading flag, surface errors, and trigger
// followup context loads; speculative loads only fold.
func (l *Loader) fetchAndFold(ctx context.Context, centerID string, maxDepth int, primary bool) error {
	if primary {
		l.store.Dispatch(state.SetLoading{Loading: true})
	}

	items, err := l.svc.FetchItemsForCoordinate(ctx, server.FetchRequest{
		CenterCoordID: centerID,
		MaxDepth:      maxDepth,
	})
	if err != nil {
		ferr := &FetchError{CoordID: centerID, cause: err}
		if primary {
			l.store.Dispatch(state.SetError{Err: ferr})
			l.store.Dispatch(state.SetLoading{Loading: false})
		}
		l.opts.Logger.Warn("region fetch failed", "coord", centerID, "error", err)
		return ferr
	}

	tiles := make([]tile.TileData, 0, len(items))
	for _, it := range items {
		td, convErr := tile.FromItem(it)
		if convErr != nil {
			l.opts.Logger.Debug("dropping malformed item", "coord", it.CoordID, "error", convErr)
			continue
		}
		tiles = append(tiles, td)
	}

	l.store.Dispatch(state.LoadRegion{Items: tiles, CenterID: centerID, Depth: maxDepth})
	if primary {
		l.store.Dispatch(state.SetLoading{Loading: false})
	}

	if primary && !l.opts.DisablePrefetch {
		center := coord.MustParse(centerID)
		// Upward context lands best-effort; deeper exploration does not
		// wait for it.
		go l.completeAncestors(ctx, center)
		go l.prefetchSiblings(ctx, center)
	}
	return nil
}

// completeAncestors loads the missing part of the ancestor chain so upward
// navigation has partial context.
func (l *Loader) completeAncestors(ctx context.Context, center coord.Coord) {
	if center.IsRoot() {
		return
	}

	snapshot := l.store.Snapshot()
	missing := false
	for _, a := range center.Ancestors() {
		if !snapshot.HasItem(a.String()) {
			missing = true
			break
		}
	}
	if !missing {
		return
	}

	items, err := l.svc.GetItemWithGenerations(ctx, server.GenerationsRequest{
		CoordID:     center.String(),
		Generations: center.Depth(),
	})
	if err != nil {
		l.opts.Logger.Debug("ancestor completion failed", "coord", center.String(), "error", err)
		return
	}

	tiles := make([]tile.TileData, 0, len(items))
	for _, it := range items {
		if td, convErr := tile.FromItem(it); convErr == nil {
			tiles = append(tiles, td)
		}
	}
	if len(tiles) == 0 {
		return
	}
	// Fold under the scope root so the center's own region depth, recorded
	// by the primary load, is left intact.
	root := coord.NewRoot(center.OwnerID, center.GroupID)
	l.store.Dispatch(state.LoadRegion{Items: tiles, CenterID: root.String(), Depth: 0})
}

// prefetchSiblings speculatively loads the immediate siblings at depth 1
// so lateral navigation is instant. Each sibling is individually
// best-effort and goes through the same singleflight group.
func (l *Loader) prefetchSiblings(ctx context.Context, center coord.Coord) {
	siblings := center.Siblings()
	if len(siblings) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(prefetchConcurrency)
	for _, sib := range siblings {
		sibID := sib.String()
		g.Go(func() error {
			if l.opts.PrefetchLimiter != nil {
				if err := l.opts.PrefetchLimiter.Wait(gctx); err != nil {
					return nil
				}
			}
			if err := l.coalesced(gctx, sibID, 1, false); err != nil {
				l.opts.Logger.Debug("sibling prefetch failed", "coord", sibID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}
