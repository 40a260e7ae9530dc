package hexcache

import (
	"sync/atomic"
	"time"

	"github.com/hupe1980/hexcache/mutation"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like
// Prometheus.
type MetricsCollector interface {
	// RecordLoad is called after each region or item load.
	// duration is the total time taken, err is nil if successful.
	RecordLoad(duration time.Duration, err error)

	// RecordMutation is called after each mutation operation.
	RecordMutation(change mutation.ChangeType, duration time.Duration, err error)

	// RecordRollback is called after rollbacks with the number of
	// changes reverted.
	RecordRollback(count int)

	// RecordInvalidation is called when cache regions are invalidated.
	RecordInvalidation()

	// RecordPrefetch is called when a speculative load is scheduled.
	RecordPrefetch()
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordLoad(time.Duration, error)                          {}
func (NoopMetricsCollector) RecordMutation(mutation.ChangeType, time.Duration, error) {}
func (NoopMetricsCollector) RecordRollback(int)                                       {}
func (NoopMetricsCollector) RecordInvalidation()                                      {}
func (NoopMetricsCollector) RecordPrefetch()                                          {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	LoadCount      atomic.Int64
	LoadErrors     atomic.Int64
	LoadTotalNanos atomic.Int64
	MutationCount  atomic.Int64
	MutationErrors atomic.Int64
	Rollbacks      atomic.Int64
	Invalidations  atomic.Int64
	Prefetches     atomic.Int64
}

// RecordLoad implements MetricsCollector.
func (b *BasicMetricsCollector) RecordLoad(duration time.Duration, err error) {
	b.LoadCount.Add(1)
	b.LoadTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.LoadErrors.Add(1)
	}
}

// RecordMutation implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMutation(_ mutation.ChangeType, _ time.Duration, err error) {
	b.MutationCount.Add(1)
	if err != nil {
		b.MutationErrors.Add(1)
	}
}

// RecordRollback implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRollback(count int) {
	b.Rollbacks.Add(int64(count))
}

// RecordInvalidation implements MetricsCollector.
func (b *BasicMetricsCollector) RecordInvalidation() {
	b.Invalidations.Add(1)
}

// RecordPrefetch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPrefetch() {
	b.Prefetches.Add(1)
}

// LoadAvgNanos returns the average load latency in nanoseconds.
func (b *BasicMetricsCollector) LoadAvgNanos() int64 {
	count := b.LoadCount.Load()
	if count == 0 {
		return 0
	}
	return b.LoadTotalNanos.Load() / count
}
