package state

import (
	"sync"
	"time"
)

// Dispatcher is the write side of a store. Collaborators mutate state only
// through it.
type Dispatcher interface {
	Dispatch(Action)
}

// Store owns a CacheState and applies actions to it strictly in issuance
// order. Reads return the latest snapshot; because the reducer is
// copy-on-write the snapshot stays internally consistent after later
// dispatches.
type Store struct {
	mu   sync.RWMutex
	cur  CacheState
	subs map[int]func(CacheState)
	next int

	// now is swappable for deterministic tests.
	now func() time.Time
}

// Compile-time interface check.
var _ Dispatcher = (*Store)(nil)

// NewStore creates a store seeded with an empty state under cfg.
func NewStore(cfg CacheConfig) *Store {
	return &Store{
		cur:  NewState(cfg),
		subs: map[int]func(CacheState){},
		now:  time.Now,
	}
}

// Dispatch applies one action and synchronously notifies subscribers with
// the resulting snapshot. It never panics for any action in the closed set.
func (st *Store) Dispatch(a Action) {
	st.mu.Lock()
	st.cur = reduce(st.cur, a, st.now())
	snapshot := st.cur
	subs := make([]func(CacheState), 0, len(st.subs))
	for _, fn := range st.subs {
		subs = append(subs, fn)
	}
	st.mu.Unlock()

	for _, fn := range subs {
		fn(snapshot)
	}
}

// Snapshot returns the current state. The contained maps are shared and
// read-only.
func (st *Store) Snapshot() CacheState {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.cur
}

// Subscribe registers a callback invoked after every dispatch. The
// returned function removes the subscription and is idempotent.
func (st *Store) Subscribe(fn func(CacheState)) (unsubscribe func()) {
	st.mu.Lock()
	id := st.next
	st.next++
	st.subs[id] = fn
	st.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			st.mu.Lock()
			delete(st.subs, id)
			st.mu.Unlock()
		})
	}
}

// SetNowFunc overrides the store clock. Test hook.
func (st *Store) SetNowFunc(now func() time.Time) {
	st.mu.Lock()
	st.now = now
	st.mu.Unlock()
}
