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

type pointer struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
}

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, "test:"), mr
}

func TestCacheRoundTrip(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", pointer{ID: "a", Count: 2}, time.Minute))
	assert.True(t, mr.Exists("test:k"))

	var got pointer
	require.NoError(t, c.Get(ctx, "k", &got))
	assert.Equal(t, pointer{ID: "a", Count: 2}, got)

	require.NoError(t, c.Delete(ctx, "k"))
	assert.ErrorIs(t, c.Get(ctx, "k", &got), ErrMiss)
}

func TestCacheTTL(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", pointer{ID: "a"}, time.Second))
	mr.FastForward(2 * time.Second)

	var got pointer
	assert.ErrorIs(t, c.Get(ctx, "k", &got), ErrMiss)
}

func TestCacheSetIfNewer(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	ok, err := c.SetIfNewer(ctx, "k", pointer{ID: "b"}, 20)
	require.NoError(t, err)
	assert.True(t, ok)

	// a late write carrying an older version is ignored
	ok, err = c.SetIfNewer(ctx, "k", pointer{ID: "a"}, 10)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = c.SetIfNewer(ctx, "k", pointer{ID: "a"}, 20)
	require.NoError(t, err)
	assert.False(t, ok)

	var got pointer
	require.NoError(t, c.Get(ctx, "k", &got))
	assert.Equal(t, "b", got.ID)

	ok, err = c.SetIfNewer(ctx, "k", pointer{ID: "c"}, 30)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, c.Get(ctx, "k", &got))
	assert.Equal(t, "c", got.ID)
}

func TestCacheDeleteMatching(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	for _, k := range []string{"live:u:p1:e1", "live:u:p1:e2", "live:u:p2:e1"} {
		require.NoError(t, c.Set(ctx, k, pointer{ID: k}, 0))
	}

	n, err := c.DeleteMatching(ctx, "live:u:p1:*")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, mr.Exists("test:live:u:p1:e1"))
	assert.False(t, mr.Exists("test:live:u:p1:e2"))
	assert.True(t, mr.Exists("test:live:u:p2:e1"))
}
