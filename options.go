package hexcache

import (
	"log/slog"
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

// DefaultSettleDelay is how long the cache stays suppressed after an auth
// transition before loads resume.
const DefaultSettleDelay = 500 * time.Millisecond

type options struct {
	config          state.CacheConfig
	logger          *Logger
	metrics         MetricsCollector
	scheduler       scheduler.Scheduler
	history         nav.History
	retry           *server.RetryOptions
	offlineStore    blobstore.BlobStore
	codec           codec.Codec
	compression     offline.Compression
	settleDelay     time.Duration
	prefetchLimiter *rate.Limiter
	disablePrefetch bool
	backgroundLoop  bool
}

// Option configures cache constructor behavior.
type Option func(*options)

// WithConfig overrides the cache configuration (freshness horizon,
// background refresh interval, optimistic updates, region depth).
func WithConfig(cfg state.CacheConfig) Option {
	return func(o *options) {
		o.config = cfg
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metrics = mc
	}
}

// WithScheduler overrides the deferral scheduler. Tests typically pass
// scheduler.Immediate{} for determinism.
func WithScheduler(s scheduler.Scheduler) Option {
	return func(o *options) {
		o.scheduler = s
	}
}

// WithHistory sets the navigation persistence surface. Without it,
// navigation still works but is not persisted.
func WithHistory(h nav.History) Option {
	return func(o *options) {
		o.history = h
	}
}

// WithRetry wraps the server service in a retrying decorator.
func WithRetry(opts server.RetryOptions) Option {
	return func(o *options) {
		o.retry = &opts
	}
}

// WithOffline enables the persisted snapshot cache on the given blob
// store.
func WithOffline(store blobstore.BlobStore) Option {
	return func(o *options) {
		o.offlineStore = store
	}
}

// WithCodec sets the codec for offline snapshots. Defaults to
// codec.Default.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithCompression sets the compression for offline snapshots. Defaults
// to zstd.
func WithCompression(c offline.Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithSettleDelay overrides how long loads stay suppressed after an auth
// transition.
func WithSettleDelay(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.settleDelay = d
		}
	}
}

// WithPrefetchLimiter paces speculative sibling loads.
func WithPrefetchLimiter(l *rate.Limiter) Option {
	return func(o *options) {
		o.prefetchLimiter = l
	}
}

// WithoutPrefetch disables ancestor completion and sibling prefetch.
func WithoutPrefetch() Option {
	return func(o *options) {
		o.disablePrefetch = true
	}
}

// WithBackgroundRefresh starts a loop that re-loads the current center
// when its region goes stale.
func WithBackgroundRefresh() Option {
	return func(o *options) {
		o.backgroundLoop = true
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		config:      state.DefaultConfig(),
		logger:      NoopLogger(),
		metrics:     NoopMetricsCollector{},
		settleDelay: DefaultSettleDelay,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
