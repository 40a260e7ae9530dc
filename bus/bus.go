// Package bus provides the session-scoped notification bus.
//
// The bus carries mutation notifications between the cache and its
// collaborators (agent tooling, UI shells, auth plumbing). It is a plain
// value owned by whoever builds the session; there is deliberately no
// package-level default bus, which keeps concurrent sessions (and tests)
// independent.
//
// Topics are dotted names ("map.tile_created"). A subscription pattern is
// either an exact topic or a prefix wildcard ("map.*"); matching is
// deterministic and handlers fire synchronously in subscription order.
package bus

import (
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/hexcache/tile"
)

// Well-known topics.
const (
	TopicTileCreated = "map.tile_created"
	TopicTileUpdated = "map.tile_updated"
	TopicTileDeleted = "map.tile_deleted"
	TopicAuthLogin   = "auth.login"
	TopicAuthLogout  = "auth.logout"
	TopicError       = "error.occurred"
)

// Event is one notification.
type Event struct {
	Topic string

	// Source identifies the emitting actor. Subscribers use it to skip
	// their own notifications and avoid double-processing.
	Source string

	// CoordID is the affected coordinate, when the event has one.
	CoordID string

	// Item carries the affected item for tile events, when known.
	Item *tile.Item

	// Err carries the failure for error.occurred events.
	Err error

	Timestamp time.Time
}

// Handler consumes events. A panicking handler is recovered by the bus and
// reported through the optional panic hook; it never poisons other
// subscribers.
type Handler func(Event)

// Subscription is the handle returned by Subscribe. Dropping it without
// calling Unsubscribe leaks the handler for the bus lifetime.
type Subscription struct {
	bus  *Bus
	id   int
	once sync.Once
}

// Unsubscribe removes the handler. Idempotent.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.bus.remove(s.id)
	})
}

type subscriber struct {
	id      int
	pattern string
	fn      Handler
}

// Bus is a synchronous publish/subscribe dispatcher.
type Bus struct {
	mu      sync.RWMutex
	subs    []subscriber
	nextID  int
	onPanic func(topic string, recovered any)
	now     func() time.Time
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{now: time.Now}
}

// SetPanicHook installs a callback invoked when a handler panics.
func (b *Bus) SetPanicHook(fn func(topic string, recovered any)) {
	b.mu.Lock()
	b.onPanic = fn
	b.mu.Unlock()
}

// Subscribe registers a handler for every event whose topic matches
// pattern. Pattern is an exact topic or a prefix wildcard ending in ".*".
func (b *Bus) Subscribe(pattern string, fn Handler) *Subscription {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs = append(b.subs, subscriber{id: id, pattern: pattern, fn: fn})
	b.mu.Unlock()
	return &Subscription{bus: b, id: id}
}

// Publish delivers the event synchronously to every matching subscriber in
// subscription order. A zero Timestamp is stamped with the bus clock.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = b.now()
	}

	b.mu.RLock()
	matched := make([]subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		if TopicMatches(s.pattern, ev.Topic) {
			matched = append(matched, s)
		}
	}
	onPanic := b.onPanic
	b.mu.RUnlock()

	for _, s := range matched {
		b.deliver(s, ev, onPanic)
	}
}

func (b *Bus) deliver(s subscriber, ev Event, onPanic func(string, any)) {
	defer func() {
		if r := recover(); r != nil && onPanic != nil {
			onPanic(ev.Topic, r)
		}
	}()
	s.fn(ev)
}

func (b *Bus) remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// SetNowFunc overrides the bus clock. Test hook.
func (b *Bus) SetNowFunc(now func() time.Time) {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
}

// TopicMatches reports whether a subscription pattern matches a concrete
// topic. "map.*" matches "map.tile_created" and "map.x.y"; "*" matches
// everything; anything else is an exact comparison.
func TopicMatches(pattern, topic string) bool {
	if pattern == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		return strings.HasPrefix(topic, prefix+".")
	}
	return pattern == topic
}
