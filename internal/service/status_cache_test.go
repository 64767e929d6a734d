package service

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recapbook/api/internal/cache"
	"github.com/recapbook/api/internal/model"
)

// brokenCache fails every call
type brokenCache struct{}

func (brokenCache) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, errors.New("connection refused")
}

func (brokenCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return errors.New("connection refused")
}

func counter(calls *int32) func(ctx context.Context, runID string) (*model.StatusSnapshot, error) {
	return func(ctx context.Context, runID string) (*model.StatusSnapshot, error) {
		n := atomic.AddInt32(calls, 1)
		return &model.StatusSnapshot{RunID: runID, MediaCount: int(n), ComputedAt: time.Now()}, nil
	}
}

func TestStatusCache_IdenticalWithinTTL(t *testing.T) {
	var calls int32
	sc := NewStatusCache(cache.NewMemoryCache(), 40*time.Millisecond, counter(&calls))
	ctx := context.Background()

	first, err := sc.Get(ctx, "r1")
	require.NoError(t, err)
	second, err := sc.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	time.Sleep(60 * time.Millisecond)
	third, err := sc.Get(ctx, "r1")
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestStatusCache_DegradesWhenCacheUnavailable(t *testing.T) {
	var calls int32
	sc := NewStatusCache(brokenCache{}, time.Minute, counter(&calls))

	for range 3 {
		_, err := sc.Get(context.Background(), "r1")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestStatusCache_ErrorsAreNotCached(t *testing.T) {
	var calls int32
	sc := NewStatusCache(cache.NewMemoryCache(), time.Minute, func(ctx context.Context, runID string) (*model.StatusSnapshot, error) {
		atomic.AddInt32(&calls, 1)
		return nil, ErrRunNotFound
	})

	_, err := sc.Get(context.Background(), "r1")
	assert.ErrorIs(t, err, ErrRunNotFound)
	_, err = sc.Get(context.Background(), "r1")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestStatusCache_SharedComputeIgnoresCallerCancellation(t *testing.T) {
	var calls int32
	sc := NewStatusCache(cache.NewMemoryCache(), time.Minute, func(ctx context.Context, runID string) (*model.StatusSnapshot, error) {
		atomic.AddInt32(&calls, 1)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return &model.StatusSnapshot{RunID: runID, ComputedAt: time.Now()}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	first, err := sc.Get(ctx, "r1")
	require.NoError(t, err)

	// the entry was stored even though the caller had gone away
	second, err := sc.Get(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGetStatus_StaleWithinTTL(t *testing.T) {
	h := newHarness(t, okGenerator(), testConfig(), nil)
	ctx := context.Background()
	h.collect(t, "r1", 0)
	_, err := h.svc.CreateRun(ctx, &model.CreateRunRequest{RunID: "r1"})
	require.NoError(t, err)

	before, err := h.svc.GetStatus(ctx, "r1")
	require.NoError(t, err)

	require.NoError(t, h.store.AddMedia(ctx, "r1", "01.jpg", strings.NewReader("x")))
	after, err := h.svc.GetStatus(ctx, "r1")
	require.NoError(t, err)

	assert.Equal(t, before, after)
	assert.Equal(t, model.StageSourceCollected, after.Stage)
}
