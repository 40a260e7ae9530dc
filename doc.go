// Package hexcache is a client-side hierarchical region cache over a
// hexagonal spatial hierarchy.
//
// The cache mirrors a remote authority's tile tree around a focus
// coordinate: region loads are deduplicated and folded into a pure
// reducer, mutations apply optimistically and confirm or roll back
// against the authority, and navigation state persists into a shareable
// parameter set. An optional offline layer snapshots the cache into any
// blob store so the next session renders before its first fetch.
//
// Basic usage:
//
//	cache, err := hexcache.New(svc,
//	    hexcache.WithLogger(hexcache.NewTextLogger(slog.LevelInfo)),
//	    hexcache.WithRetry(server.RetryOptions{EnableRetry: true}),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cache.Close()
//
//	if err := cache.NavigateToItem("1,0:2"); err != nil {
//	    log.Fatal(err)
//	}
//
// Or through the fluent builder:
//
//	cache, err := hexcache.NewBuilder(svc).
//	    MaxDepth(2).
//	    Offline(blobstore.NewLocalStore(dir)).
//	    Build()
package hexcache
