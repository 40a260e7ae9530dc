// Package offline persists cache snapshots to a blob store so a fresh
// session can render the last known map before its first fetch completes.
//
// Layout inside the blob store:
//
//	snapshots/<unix-nano>  one immutable snapshot per save
//	CURRENT                name of the live snapshot
//
// Saves write the snapshot first and flip the pointer second, so a reader
// never observes a half-written snapshot. Old generations beyond a small
// retention window are pruned after each save.
package offline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/hupe1980/hexcache/blobstore"
	"github.com/hupe1980/hexcache/codec"
	"github.com/hupe1980/hexcache/state"
	"github.com/hupe1980/hexcache/tile"
)

const (
	pointerName    = "CURRENT"
	snapshotPrefix = "snapshots/"

	// keepGenerations is how many snapshots survive pruning, the live
	// one included.
	keepGenerations = 3
)

var (
	// ErrNoSnapshot is returned by Load when nothing has been saved yet
	// or the cache was cleared.
	ErrNoSnapshot = errors.New("no offline snapshot available")

	// ErrSnapshotStale is returned by Load when the live snapshot is
	// older than the configured maximum age.
	ErrSnapshotStale = errors.New("offline snapshot is stale")
)

// Snapshot is the persisted slice of the cache state.
type Snapshot struct {
	SavedAt  time.Time                       `json:"savedAt"`
	Center   string                          `json:"center"`
	Items    []tile.TileData                 `json:"items"`
	Regions  map[string]state.RegionMetadata `json:"regions"`
	Expanded []string                        `json:"expanded,omitempty"`
}

// Options configures a Manager.
type Options struct {
	// Codec serializes snapshot bodies. Defaults to codec.Default.
	Codec codec.Codec

	// Compression wraps snapshot bodies. Defaults to Zstd.
	Compression Compression

	// MaxAge rejects snapshots older than this on load. Zero means
	// state.DefaultMaxAge.
	MaxAge time.Duration

	// Logger receives persistence diagnostics. Nil discards them.
	Logger *slog.Logger

	// Now is the clock, swappable in tests.
	Now func() time.Time
}

// Manager saves and restores cache snapshots.
type Manager struct {
	store blobstore.BlobStore
	codec codec.Codec
	comp  Compression
	max   time.Duration
	log   *slog.Logger
	now   func() time.Time
}

// NewManager creates a snapshot manager over the given blob store.
func NewManager(store blobstore.BlobStore, opts Options) *Manager {
	if opts.Codec == nil {
		opts.Codec = codec.Default
	}
	if opts.Compression == nil {
		opts.Compression = Zstd{}
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = state.DefaultMaxAge
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		store: store,
		codec: opts.Codec,
		comp:  opts.Compression,
		max:   opts.MaxAge,
		log:   opts.Logger,
		now:   opts.Now,
	}
}

// Save persists the given cache state as a new snapshot generation and
// flips the pointer to it.
func (m *Manager) Save(ctx context.Context, s state.CacheState) error {
	snap := Snapshot{
		SavedAt: m.now(),
		Center:  s.CurrentCenter,
		Items:   make([]tile.TileData, 0, len(s.ItemsByID)),
		Regions: s.RegionMetadata,
	}
	for _, td := range s.ItemsByID {
		snap.Items = append(snap.Items, td)
	}
	for id := range s.ExpandedItemIDs {
		snap.Expanded = append(snap.Expanded, id)
	}

	raw, err := m.codec.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	body, err := m.comp.Compress(raw)
	if err != nil {
		return fmt.Errorf("compress snapshot: %w", err)
	}
	blob, err := encodeSnapshot(header{
		version:     FormatVersion,
		codec:       m.codec.Name(),
		compression: m.comp.Name(),
	}, body)
	if err != nil {
		return err
	}

	name := snapshotPrefix + strconv.FormatInt(snap.SavedAt.UnixNano(), 10)
	if err := m.store.Put(ctx, name, blob); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := m.store.Put(ctx, pointerName, []byte(name)); err != nil {
		return fmt.Errorf("commit snapshot pointer: %w", err)
	}
	m.log.Debug("snapshot saved", "name", name, "items", len(snap.Items), "bytes", len(blob))

	m.prune(ctx, name)
	return nil
}

// Load reads the live snapshot, verifies its integrity and re-parses the
// coordinate of every item. Items whose coordinate id no longer parses
// are dropped rather than failing the whole load.
func (m *Manager) Load(ctx context.Context) (*Snapshot, error) {
	name, err := m.currentName(ctx)
	if err != nil {
		return nil, err
	}

	blob, err := m.store.Open(ctx, name)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, ErrNoSnapshot
		}
		return nil, err
	}
	defer blob.Close()

	h, body, err := decodeSnapshot(blob)
	if err != nil {
		return nil, err
	}
	c, ok := codec.ByName(h.codec)
	if !ok {
		return nil, fmt.Errorf("snapshot encoded with unknown codec %q", h.codec)
	}
	comp, ok := CompressionByName(h.compression)
	if !ok {
		return nil, fmt.Errorf("snapshot compressed with unknown compression %q", h.compression)
	}

	raw, err := comp.Decompress(body)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot: %w", err)
	}
	var snap Snapshot
	if err := c.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	if m.now().Sub(snap.SavedAt) > m.max {
		return nil, fmt.Errorf("%w: saved %s ago", ErrSnapshotStale, m.now().Sub(snap.SavedAt).Round(time.Second))
	}

	kept := snap.Items[:0]
	for _, td := range snap.Items {
		it := td.ToItem()
		restored, err := tile.FromItem(it)
		if err != nil {
			m.log.Warn("dropping snapshot item with malformed coordinate", "coord", td.Metadata.CoordID, "error", err)
			continue
		}
		kept = append(kept, restored)
	}
	snap.Items = kept
	return &snap, nil
}

// Clear removes every snapshot generation. A cleared cache loads as
// ErrNoSnapshot.
func (m *Manager) Clear(ctx context.Context) error {
	names, err := m.store.List(ctx, snapshotPrefix)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := m.store.Delete(ctx, name); err != nil {
			return err
		}
	}
	return m.store.Delete(ctx, pointerName)
}

func (m *Manager) currentName(ctx context.Context) (string, error) {
	blob, err := m.store.Open(ctx, pointerName)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return "", ErrNoSnapshot
		}
		return "", err
	}
	defer blob.Close()

	buf := make([]byte, blob.Size())
	if _, err := io.ReadFull(blob, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// prune deletes snapshot generations beyond the retention window. Best
// effort: the live snapshot is never deleted and failures only log.
func (m *Manager) prune(ctx context.Context, current string) {
	names, err := m.store.List(ctx, snapshotPrefix)
	if err != nil {
		m.log.Warn("snapshot prune listing failed", "error", err)
		return
	}
	if len(names) <= keepGenerations {
		return
	}
	// Names embed unix-nano timestamps of equal width, so the sorted
	// order List returns is chronological.
	for _, name := range names[:len(names)-keepGenerations] {
		if name == current {
			continue
		}
		if err := m.store.Delete(ctx, name); err != nil {
			m.log.Warn("snapshot prune failed", "name", name, "error", err)
		}
	}
}
