package server

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/hupe1980/hexcache/coord"
	"github.com/hupe1980/hexcache/tile"
	"golang.org/x/time/rate"
)

const (
	// DefaultMaxAttempts bounds retries per call.
	DefaultMaxAttempts = 3

	// DefaultBackoffBase is the first retry delay.
	DefaultBackoffBase = 100 * time.Millisecond

	// DefaultBackoffCap caps the exponential delay.
	DefaultBackoffCap = 2 * time.Second
)

// RetryOptions configures the retrying decorator.
type RetryOptions struct {
	// EnableRetry toggles retries entirely. Disabled turns the decorator
	// into a pass-through.
	EnableRetry bool

	// MaxAttempts is the total number of attempts (first call included).
	MaxAttempts int

	// BackoffBase and BackoffCap bound the exponential backoff schedule.
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// Limiter optionally paces outgoing calls across all operations.
	Limiter *rate.Limiter
}

// DefaultRetryOptions returns the production defaults.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		EnableRetry: true,
		MaxAttempts: DefaultMaxAttempts,
		BackoffBase: DefaultBackoffBase,
		BackoffCap:  DefaultBackoffCap,
	}
}

// RetryService wraps a Service with bounded exponential backoff and
// optional rate limiting.
type RetryService struct {
	inner Service
	opts  RetryOptions
	rng   *rand.Rand
	sleep func(context.Context, time.Duration) error
}

// Compile-time interface check.
var _ Service = (*RetryService)(nil)

// NewRetryService decorates inner with the retry policy.
func NewRetryService(inner Service, opts RetryOptions) *RetryService {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = DefaultBackoffBase
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = DefaultBackoffCap
	}
	return &RetryService{
		inner: inner,
		opts:  opts,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep: sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// retryable reports whether the error is worth another attempt. Malformed
// coordinates and canceled contexts never are.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, coord.ErrMalformed) {
		return false
	}
	return true
}

func (r *RetryService) backoff(attempt int) time.Duration {
	d := r.opts.BackoffBase << attempt
	if d > r.opts.BackoffCap || d <= 0 {
		d = r.opts.BackoffCap
	}
	// Full jitter keeps concurrent retriers from thundering together.
	return time.Duration(r.rng.Int63n(int64(d)) + 1)
}

func (r *RetryService) do(ctx context.Context, call func(context.Context) error) error {
	if r.opts.Limiter != nil {
		if err := r.opts.Limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if !r.opts.EnableRetry {
		return call(ctx)
	}

	var lastErr error
	for attempt := 0; attempt < r.opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := r.sleep(ctx, r.backoff(attempt-1)); err != nil {
				return err
			}
		}
		lastErr = call(ctx)
		if !retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// FetchItemsForCoordinate implements Service.
func (r *RetryService) FetchItemsForCoordinate(ctx context.Context, req FetchRequest) ([]tile.Item, error) {
	var items []tile.Item
	err := r.do(ctx, func(ctx context.Context) error {
		var callErr error
		items, callErr = r.inner.FetchItemsForCoordinate(ctx, req)
		return callErr
	})
	return items, err
}

// GetItemByCoordinate implements Service.
func (r *RetryService) GetItemByCoordinate(ctx context.Context, coordID string) (*tile.Item, error) {
	var item *tile.Item
	err := r.do(ctx, func(ctx context.Context) error {
		var callErr error
		item, callErr = r.inner.GetItemByCoordinate(ctx, coordID)
		return callErr
	})
	return item, err
}

// GetItemWithGenerations implements Service.
func (r *RetryService) GetItemWithGenerations(ctx context.Context, req GenerationsRequest) ([]tile.Item, error) {
	var items []tile.Item
	err := r.do(ctx, func(ctx context.Context) error {
		var callErr error
		items, callErr = r.inner.GetItemWithGenerations(ctx, req)
		return callErr
	})
	return items, err
}
