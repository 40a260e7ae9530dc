// Package scheduler abstracts "run after the current dispatch batch".
//
// Navigation-triggered prefetch must not run inside the dispatch that moved
// the center, or a single navigation step fans out into a dispatch-inside-
// dispatch cascade. Production code uses NextTick, which hands work to a
// single worker goroutine in FIFO order; tests use Immediate for
// deterministic, inline execution.
package scheduler

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Defer after Close.
var ErrClosed = errors.New("scheduler is closed")

// Scheduler defers a function to a later tick.
type Scheduler interface {
	// Defer schedules fn. Implementations guarantee FIFO execution order
	// between Defer calls from the same goroutine.
	Defer(fn func()) error

	// Close stops the scheduler after draining already-deferred work.
	Close() error
}

// Immediate runs deferred work inline. Deterministic; for tests.
type Immediate struct{}

// Defer runs fn before returning.
func (Immediate) Defer(fn func()) error {
	fn()
	return nil
}

// Close is a no-op.
func (Immediate) Close() error { return nil }

// NextTick queues deferred work onto one worker goroutine.
type NextTick struct {
	mu     sync.Mutex
	queue  chan func()
	stopCh chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// Compile-time interface checks.
var (
	_ Scheduler = Immediate{}
	_ Scheduler = (*NextTick)(nil)
)

// NewNextTick starts the worker.
func NewNextTick() *NextTick {
	s := &NextTick{
		queue:  make(chan func(), 128),
		stopCh: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *NextTick) run() {
	defer s.wg.Done()
	for {
		select {
		case fn := <-s.queue:
			fn()
		case <-s.stopCh:
			// Drain whatever was already queued before the close.
			for {
				select {
				case fn := <-s.queue:
					fn()
				default:
					return
				}
			}
		}
	}
}

// Defer schedules fn on the worker goroutine.
func (s *NextTick) Defer(fn func()) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.mu.Unlock()

	select {
	case s.queue <- fn:
		return nil
	case <-s.stopCh:
		return ErrClosed
	}
}

// Close drains the queue and stops the worker.
func (s *NextTick) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	return nil
}
