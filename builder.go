package hexcache

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/hupe1980/hexcache/blobstore"
	"github.com/hupe1980/hexcache/codec"
	"github.com/hupe1980/hexcache/nav"
	"github.com/hupe1980/hexcache/offline"
	"github.com/hupe1980/hexcache/scheduler"
	"github.com/hupe1980/hexcache/server"
	"github.com/hupe1980/hexcache/state"
)

// NewBuilder creates a fluent cache builder over the given server
// service.
//
// The builder is immutable: each method returns a new builder with the
// updated configuration, so partially configured builders can be shared
// safely.
//
// Example:
//
//	cache, err := hexcache.NewBuilder(svc).
//	    MaxDepth(2).
//	    MaxAge(10 * time.Minute).
//	    Retry(server.RetryOptions{EnableRetry: true}).
//	    Offline(blobstore.NewLocalStore(dir)).
//	    Build()
func NewBuilder(svc server.Service) Builder {
	return Builder{
		svc: svc,
		cfg: state.DefaultConfig(),
	}
}

// Builder is an immutable fluent builder for creating Cache instances.
type Builder struct {
	svc    server.Service
	cfg    state.CacheConfig
	optFns []Option
}

func (b Builder) add(opt Option) Builder {
	optFns := make([]Option, 0, len(b.optFns)+1)
	optFns = append(optFns, b.optFns...)
	b.optFns = append(optFns, opt)
	return b
}

// MaxDepth sets how many generations below the center a region load
// covers.
func (b Builder) MaxDepth(depth int) Builder {
	b.cfg.MaxDepth = depth
	return b
}

// MaxAge sets the freshness horizon for loaded regions and offline
// snapshots.
func (b Builder) MaxAge(d time.Duration) Builder {
	b.cfg.MaxAge = d
	return b
}

// RefreshInterval sets the background refresh cadence.
func (b Builder) RefreshInterval(d time.Duration) Builder {
	b.cfg.BackgroundRefreshInterval = d
	return b
}

// OptimisticUpdates enables or disables optimistic mutation application.
// Default: enabled.
func (b Builder) OptimisticUpdates(enabled bool) Builder {
	b.cfg.EnableOptimisticUpdates = enabled
	return b
}

// Logger sets the structured logger for operation tracing.
func (b Builder) Logger(l *Logger) Builder {
	return b.add(WithLogger(l))
}

// Metrics sets the metrics collector for monitoring.
func (b Builder) Metrics(mc MetricsCollector) Builder {
	return b.add(WithMetricsCollector(mc))
}

// Scheduler overrides the deferral scheduler.
func (b Builder) Scheduler(s scheduler.Scheduler) Builder {
	return b.add(WithScheduler(s))
}

// History sets the navigation persistence surface.
func (b Builder) History(h nav.History) Builder {
	return b.add(WithHistory(h))
}

// Retry wraps the server service in a retrying decorator.
func (b Builder) Retry(opts server.RetryOptions) Builder {
	return b.add(WithRetry(opts))
}

// Offline enables the persisted snapshot cache on the given blob store.
func (b Builder) Offline(store blobstore.BlobStore) Builder {
	return b.add(WithOffline(store))
}

// Codec sets the codec for offline snapshots.
func (b Builder) Codec(c codec.Codec) Builder {
	return b.add(WithCodec(c))
}

// Compression sets the compression for offline snapshots.
func (b Builder) Compression(c offline.Compression) Builder {
	return b.add(WithCompression(c))
}

// SettleDelay overrides the auth transition suppression window.
func (b Builder) SettleDelay(d time.Duration) Builder {
	return b.add(WithSettleDelay(d))
}

// PrefetchLimiter paces speculative sibling loads.
func (b Builder) PrefetchLimiter(l *rate.Limiter) Builder {
	return b.add(WithPrefetchLimiter(l))
}

// WithoutPrefetch disables ancestor completion and sibling prefetch.
func (b Builder) WithoutPrefetch() Builder {
	return b.add(WithoutPrefetch())
}

// BackgroundRefresh starts the stale-region refresh loop.
func (b Builder) BackgroundRefresh() Builder {
	return b.add(WithBackgroundRefresh())
}

// Build creates the cache.
func (b Builder) Build() (*Cache, error) {
	optFns := make([]Option, 0, len(b.optFns)+1)
	optFns = append(optFns, WithConfig(b.cfg))
	optFns = append(optFns, b.optFns...)
	return New(b.svc, optFns...)
}
