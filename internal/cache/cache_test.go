package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache()
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 3*time.Second))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	now = now.Add(3 * time.Second)
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	c := NewRedisCache(rdb, "status:")
	ctx := context.Background()

	_, err := c.Get(ctx, "r1")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, c.Set(ctx, "r1", []byte(`{"stage":"created"}`), 2*time.Second))
	got, err := c.Get(ctx, "r1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"stage":"created"}`, string(got))
	assert.Equal(t, 2*time.Second, mr.TTL("status:r1"))

	mr.FastForward(2 * time.Second)
	_, err = c.Get(ctx, "r1")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedisCache_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	mr.Close()

	c := NewRedisCache(rdb, "status:")
	_, err := c.Get(context.Background(), "r1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMiss)
}
