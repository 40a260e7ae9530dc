package hexcache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hupe1980/hexcache/bus"
	"github.com/hupe1980/hexcache/loader"
	"github.com/hupe1980/hexcache/mutation"
	"github.com/hupe1980/hexcache/nav"
	"github.com/hupe1980/hexcache/offline"
	"github.com/hupe1980/hexcache/scheduler"
	"github.com/hupe1980/hexcache/server"
	"github.com/hupe1980/hexcache/state"
	"github.com/hupe1980/hexcache/tile"
)

// Cache is the session facade. It wires the state store, region loader,
// mutation coordinator and navigator together and reacts to lifecycle
// signals: center changes trigger deferred loads, auth transitions drain
// and suppress the cache for a settle window, and tile events from other
// actors are folded in item by item.
//
// A Cache is a per-session value. All methods are safe for concurrent
// use.
type Cache struct {
	cfg     state.CacheConfig
	store   *state.Store
	events  *bus.Bus
	sched   scheduler.Scheduler
	svc     server.Service
	loader  *loader.Loader
	mutator *mutation.Coordinator
	nav     *nav.Navigator
	offline *offline.Manager
	log     *Logger
	metrics MetricsCollector
	settle  time.Duration

	mu          sync.Mutex
	closed      bool
	lastCenter  string
	settleTimer *time.Timer

	unsubState func()
	busSubs    []*bus.Subscription
	ownSched   bool
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

// New creates a cache over the given server service.
func New(svc server.Service, optFns ...Option) (*Cache, error) {
	if svc == nil {
		return nil, errors.New("server service is required")
	}
	o := applyOptions(optFns)

	if o.retry != nil {
		svc = server.NewRetryService(svc, *o.retry)
	}

	c := &Cache{
		cfg:     o.config,
		store:   state.NewStore(o.config),
		events:  bus.New(),
		sched:   o.scheduler,
		svc:     svc,
		log:     o.logger,
		metrics: o.metrics,
		settle:  o.settleDelay,
		stopCh:  make(chan struct{}),
	}
	if c.sched == nil {
		c.sched = scheduler.NewNextTick()
		c.ownSched = true
	}
	c.events.SetPanicHook(func(topic string, recovered any) {
		c.log.WithTopic(topic).Error("event handler panicked", "recovered", recovered)
	})

	c.loader = loader.New(svc, c.store, loader.Options{
		Logger:          c.log.Logger,
		PrefetchLimiter: o.prefetchLimiter,
		DisablePrefetch: o.disablePrefetch,
	})
	c.mutator = mutation.New(c.store, mutation.Options{
		Logger: c.log.Logger,
		Bus:    c.events,
	})
	c.nav = nav.New(c.store, o.history, nav.Options{
		Logger:    c.log.Logger,
		Scheduler: c.sched,
	})
	if o.offlineStore != nil {
		c.offline = offline.NewManager(o.offlineStore, offline.Options{
			Codec:       o.codec,
			Compression: o.compression,
			MaxAge:      o.config.MaxAge,
			Logger:      c.log.Logger,
		})
	}

	c.unsubState = c.store.Subscribe(c.onState)
	c.busSubs = append(c.busSubs,
		c.events.Subscribe("auth.*", c.onAuth),
		c.events.Subscribe("map.*", c.onExternalTile),
	)

	if o.backgroundLoop {
		c.wg.Add(1)
		go c.refreshLoop()
	}
	return c, nil
}

// Snapshot returns the current cache state.
func (c *Cache) Snapshot() state.CacheState {
	return c.store.Snapshot()
}

// Item returns the locally materialized item for a coordinate.
func (c *Cache) Item(coordID string) (tile.TileData, bool) {
	td, ok := c.store.Snapshot().ItemsByID[coordID]
	return td, ok
}

// Subscribe registers a state change callback. The returned function
// removes the subscription and is idempotent.
func (c *Cache) Subscribe(fn func(state.CacheState)) (unsubscribe func()) {
	return c.store.Subscribe(fn)
}

// Events returns the session notification bus.
func (c *Cache) Events() *bus.Bus {
	return c.events
}

// NavigateToItem moves the focus to the given coordinate and persists
// the navigation state. The region load it implies runs deferred.
func (c *Cache) NavigateToItem(identifier string, opts ...nav.NavigateOption) error {
	if c.isClosed() {
		return ErrClosed
	}
	return c.nav.NavigateToItem(identifier, opts...)
}

// ToggleItemExpansion flips one coordinate's expansion and re-persists
// the navigation state.
func (c *Cache) ToggleItemExpansion(coordID string) {
	if c.isClosed() {
		return
	}
	c.nav.ToggleItemExpansion(coordID)
}

// ToggleComposition flips one coordinate's composition expansion.
func (c *Cache) ToggleComposition(coordID string) {
	if c.isClosed() {
		return
	}
	c.nav.ToggleComposition(coordID)
}

// LoadRegion fetches the region around centerID at the configured depth
// and folds it into the cache. Concurrent identical loads share one
// fetch.
func (c *Cache) LoadRegion(ctx context.Context, centerID string) error {
	if c.isClosed() {
		return ErrClosed
	}
	start := time.Now()
	err := c.loader.LoadRegion(ctx, centerID, c.cfg.MaxDepth)
	c.metrics.RecordLoad(time.Since(start), err)
	return translateError(err)
}

// LoadItem refetches a single coordinate and folds it in.
func (c *Cache) LoadItem(ctx context.Context, coordID string) error {
	if c.isClosed() {
		return ErrClosed
	}
	start := time.Now()
	err := c.loader.LoadItem(ctx, coordID)
	c.metrics.RecordLoad(time.Since(start), err)
	return translateError(err)
}

// GetItem returns the item at a coordinate, fetching it from the
// authority on a local miss. ErrNotFound means the coordinate has no
// item anywhere.
func (c *Cache) GetItem(ctx context.Context, coordID string) (tile.TileData, error) {
	if c.isClosed() {
		return tile.TileData{}, ErrClosed
	}
	if td, ok := c.Item(coordID); ok {
		return td, nil
	}
	if err := c.LoadItem(ctx, coordID); err != nil {
		return tile.TileData{}, err
	}
	td, ok := c.Item(coordID)
	if !ok {
		return tile.TileData{}, ErrNotFound
	}
	return td, nil
}

// CreateItem optimistically creates an item at the given coordinate.
func (c *Cache) CreateItem(coordID string, data tile.Data) mutation.Result {
	return c.mutate(mutation.ChangeCreate, func() mutation.Result {
		return c.mutator.CreateItem(coordID, data)
	})
}

// UpdateItem optimistically applies a partial data update.
func (c *Cache) UpdateItem(coordID string, patch tile.DataPatch) mutation.Result {
	return c.mutate(mutation.ChangeUpdate, func() mutation.Result {
		return c.mutator.UpdateItem(coordID, patch)
	})
}

// DeleteItem optimistically removes an item and its loaded descendants.
func (c *Cache) DeleteItem(coordID string) mutation.Result {
	return c.mutate(mutation.ChangeDelete, func() mutation.Result {
		return c.mutator.DeleteItem(coordID)
	})
}

// MoveItem optimistically reparents an item.
func (c *Cache) MoveItem(coordID, newParentID string) mutation.Result {
	return c.mutate(mutation.ChangeMove, func() mutation.Result {
		return c.mutator.MoveItem(coordID, newParentID)
	})
}

// CopyItem optimistically duplicates an item under a new parent.
func (c *Cache) CopyItem(coordID, newParentID string) mutation.Result {
	return c.mutate(mutation.ChangeCreate, func() mutation.Result {
		return c.mutator.CopyItem(coordID, newParentID)
	})
}

// ConfirmChange marks a pending optimistic change as authority-confirmed.
func (c *Cache) ConfirmChange(id string) {
	c.mutator.ConfirmChange(id)
}

// RollbackChange reverts one pending optimistic change.
func (c *Cache) RollbackChange(id string) mutation.Result {
	res := c.mutator.RollbackOptimisticChange(id)
	if res.RolledBack {
		c.metrics.RecordRollback(1)
	}
	return res
}

// RollbackAll reverts every pending optimistic change, newest first, and
// returns how many were rolled back.
func (c *Cache) RollbackAll() int {
	n := c.mutator.RollbackAllOptimistic()
	if n > 0 {
		c.metrics.RecordRollback(n)
	}
	return n
}

// PendingChanges returns the outstanding optimistic changes.
func (c *Cache) PendingChanges() []mutation.PendingChange {
	return c.mutator.PendingChanges()
}

// Invalidate drops a coordinate, its loaded descendants and their region
// metadata.
func (c *Cache) Invalidate(coordID string) {
	c.store.Dispatch(state.InvalidateRegion{CoordID: coordID})
	c.metrics.RecordInvalidation()
}

// InvalidateAll drops every item while preserving center and expansion
// state.
func (c *Cache) InvalidateAll() {
	c.store.Dispatch(state.InvalidateAll{})
	c.metrics.RecordInvalidation()
}

// SaveOffline persists the current cache state to the offline store.
func (c *Cache) SaveOffline(ctx context.Context) error {
	if c.offline == nil {
		return errors.New("offline store not configured")
	}
	return c.offline.Save(ctx, c.store.Snapshot())
}

// RestoreOffline folds the persisted snapshot into the cache so the
// session renders before its first fetch. The restored region is folded
// at depth zero, so the regular load path still refreshes it.
func (c *Cache) RestoreOffline(ctx context.Context) error {
	if c.offline == nil {
		return errors.New("offline store not configured")
	}
	snap, err := c.offline.Load(ctx)
	if err != nil {
		return translateError(err)
	}

	c.store.Dispatch(state.LoadRegion{Items: snap.Items, CenterID: snap.Center, Depth: 0})
	for _, id := range snap.Expanded {
		c.store.Dispatch(state.SetExpanded{CoordID: id, Expanded: true})
	}
	if snap.Center != "" {
		c.store.Dispatch(state.SetCenter{CoordID: snap.Center})
	}
	c.log.Info("offline snapshot restored", "items", len(snap.Items), "center", snap.Center)
	return nil
}

// Close tears down subscriptions, timers and loops. Further operations
// return ErrClosed.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.settleTimer != nil {
		c.settleTimer.Stop()
		c.settleTimer = nil
	}
	c.mu.Unlock()

	c.unsubState()
	for _, sub := range c.busSubs {
		sub.Unsubscribe()
	}
	close(c.stopCh)
	c.wg.Wait()

	if c.ownSched {
		return c.sched.Close()
	}
	return nil
}

func (c *Cache) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Cache) mutate(change mutation.ChangeType, fn func() mutation.Result) mutation.Result {
	if c.isClosed() {
		return mutation.Result{Err: ErrClosed}
	}
	start := time.Now()
	res := fn()
	c.metrics.RecordMutation(change, time.Since(start), res.Err)
	return res
}

// onState watches for focus changes. A changed center outside an auth
// transition schedules a deferred region load. An unrelated in-flight
// load does not suppress the schedule; same-center dedup is the
// loader's singleflight job, and skipping here would lose the load for
// the new center since nothing re-arms it when the old one finishes.
func (c *Cache) onState(s state.CacheState) {
	c.mu.Lock()
	changed := s.CurrentCenter != c.lastCenter
	c.lastCenter = s.CurrentCenter
	closed := c.closed
	c.mu.Unlock()

	if closed || !changed || s.CurrentCenter == "" || s.AuthTransitioning {
		return
	}
	c.deferLoad(s.CurrentCenter)
}

func (c *Cache) deferLoad(centerID string) {
	c.metrics.RecordPrefetch()
	err := c.sched.Defer(func() {
		if c.isClosed() {
			return
		}
		if c.store.Snapshot().AuthTransitioning {
			return
		}
		start := time.Now()
		err := c.loader.LoadRegion(context.Background(), centerID, c.cfg.MaxDepth)
		c.metrics.RecordLoad(time.Since(start), err)
		if err != nil {
			c.log.WithCoord(centerID).Warn("deferred region load failed", "error", err)
			c.events.Publish(bus.Event{
				Topic:   bus.TopicError,
				Source:  "cache",
				CoordID: centerID,
				Err:     err,
			})
		}
	})
	if err != nil {
		c.log.WithCoord(centerID).Debug("load deferral rejected", "error", err)
	}
}

// onAuth drains the cache on login/logout and suppresses loads for the
// settle window.
func (c *Cache) onAuth(ev bus.Event) {
	if c.isClosed() {
		return
	}
	c.log.WithTopic(ev.Topic).Info("auth transition")

	c.store.Dispatch(state.SetAuthTransitioning{Transitioning: true})
	c.store.Dispatch(state.InvalidateAll{})
	c.metrics.RecordInvalidation()

	if c.offline != nil {
		if err := c.offline.Clear(context.Background()); err != nil {
			c.log.Warn("offline clear failed", "error", err)
		}
	}

	c.mu.Lock()
	if c.settleTimer != nil {
		c.settleTimer.Stop()
	}
	c.settleTimer = time.AfterFunc(c.settle, c.onSettled)
	c.mu.Unlock()
}

// onSettled ends the suppression window and permits the next load.
func (c *Cache) onSettled() {
	if c.isClosed() {
		return
	}
	c.store.Dispatch(state.SetAuthTransitioning{Transitioning: false})
	if center := c.store.Snapshot().CurrentCenter; center != "" {
		c.deferLoad(center)
	}
}

// onExternalTile folds tile events from other actors. The coordinator's
// own events are skipped to avoid double-processing. Updates for tiles
// not cached here are ignored; the remote-id index catches moved tiles
// whose new coordinate is not keyed locally yet.
func (c *Cache) onExternalTile(ev bus.Event) {
	if ev.Source == mutation.Source || c.isClosed() {
		return
	}
	switch ev.Topic {
	case bus.TopicTileCreated, bus.TopicTileUpdated:
		if ev.Topic == bus.TopicTileUpdated && !c.knowsTile(ev) {
			return
		}
		coordID := ev.CoordID
		if err := c.sched.Defer(func() {
			if c.isClosed() {
				return
			}
			if err := c.loader.LoadItem(context.Background(), coordID); err != nil {
				c.log.WithCoord(coordID).Warn("external tile refetch failed", "error", err)
			}
		}); err != nil {
			c.log.WithCoord(coordID).Debug("refetch deferral rejected", "error", err)
		}
	case bus.TopicTileDeleted:
		c.store.Dispatch(state.RemoveItem{CoordID: ev.CoordID})
	}
}

// knowsTile reports whether the event's tile is cached, by coordinate
// or, when the event carries the wire item, by remote id.
func (c *Cache) knowsTile(ev bus.Event) bool {
	s := c.store.Snapshot()
	if s.HasItem(ev.CoordID) {
		return true
	}
	return ev.Item != nil && s.HasRemoteID(ev.Item.RemoteID)
}

// refreshLoop re-loads the current center when its region goes stale.
func (c *Cache) refreshLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.BackgroundRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			s := c.store.Snapshot()
			if s.AuthTransitioning || s.IsLoading || s.CurrentCenter == "" {
				continue
			}
			if s.RegionFresh(s.CurrentCenter, c.cfg.MaxDepth, time.Now()) {
				continue
			}
			start := time.Now()
			err := c.loader.LoadRegion(context.Background(), s.CurrentCenter, c.cfg.MaxDepth)
			c.metrics.RecordLoad(time.Since(start), err)
			if err != nil {
				c.log.WithCoord(s.CurrentCenter).Warn("background refresh failed", "error", err)
			}
		}
	}
}
