package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hupe1980/hexcache/coord"
	"github.com/hupe1980/hexcache/tile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyService fails a configured number of times before succeeding.
type flakyService struct {
	failures int
	calls    int
	err      error
}

func (f *flakyService) FetchItemsForCoordinate(_ context.Context, _ FetchRequest) ([]tile.Item, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return []tile.Item{{RemoteID: 1, CoordID: "1,0:1", Title: "ok"}}, nil
}

func (f *flakyService) GetItemByCoordinate(_ context.Context, _ string) (*tile.Item, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return nil, nil
}

func (f *flakyService) GetItemWithGenerations(_ context.Context, _ GenerationsRequest) ([]tile.Item, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return nil, nil
}

func newTestRetryService(inner Service, opts RetryOptions) *RetryService {
	r := NewRetryService(inner, opts)
	r.sleep = func(context.Context, time.Duration) error { return nil }
	return r
}

func TestRetryEventuallySucceeds(t *testing.T) {
	inner := &flakyService{failures: 2, err: errors.New("transient")}
	svc := newTestRetryService(inner, DefaultRetryOptions())

	items, err := svc.FetchItemsForCoordinate(context.Background(), FetchRequest{CenterCoordID: "1,0:1", MaxDepth: 2})
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryBounded(t *testing.T) {
	boom := errors.New("still down")
	inner := &flakyService{failures: 100, err: boom}
	svc := newTestRetryService(inner, RetryOptions{EnableRetry: true, MaxAttempts: 3})

	_, err := svc.GetItemByCoordinate(context.Background(), "1,0:1")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryDisabledPassesThrough(t *testing.T) {
	boom := errors.New("down")
	inner := &flakyService{failures: 100, err: boom}
	svc := newTestRetryService(inner, RetryOptions{EnableRetry: false})

	_, err := svc.GetItemByCoordinate(context.Background(), "1,0:1")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, inner.calls)
}

func TestMalformedCoordinateNotRetried(t *testing.T) {
	inner := &flakyService{failures: 100, err: &coord.MalformedCoordinateError{Input: "x", Reason: "test"}}
	svc := newTestRetryService(inner, DefaultRetryOptions())

	_, err := svc.GetItemWithGenerations(context.Background(), GenerationsRequest{CoordID: "x"})
	assert.ErrorIs(t, err, coord.ErrMalformed)
	assert.Equal(t, 1, inner.calls)
}

func TestCanceledContextNotRetried(t *testing.T) {
	inner := &flakyService{failures: 100, err: context.Canceled}
	svc := newTestRetryService(inner, DefaultRetryOptions())

	_, err := svc.GetItemByCoordinate(context.Background(), "1,0:1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, inner.calls)
}

func TestBackoffCapped(t *testing.T) {
	svc := NewRetryService(&flakyService{}, RetryOptions{
		EnableRetry: true,
		MaxAttempts: 10,
		BackoffBase: 100 * time.Millisecond,
		BackoffCap:  time.Second,
	})
	for attempt := 0; attempt < 20; attempt++ {
		d := svc.backoff(attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}
}
