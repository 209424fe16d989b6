package cache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusdesk/campusdesk/internal/platform/cache"
)

type counts struct {
	Students int `json:"students"`
}

func TestFetchJSONCachesUntilBump(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c := cache.NewCache(client, "dashboard", time.Minute)
	ctx := context.Background()

	calls := 0
	loader := func(context.Context) (any, error) {
		calls++
		return counts{Students: calls * 10}, nil
	}

	key, err := c.BuildKey(ctx, "sess-1")
	require.NoError(t, err)
	var got counts
	require.NoError(t, c.FetchJSON(ctx, key, &got, loader))
	require.NoError(t, c.FetchJSON(ctx, key, &got, loader))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 10, got.Students)

	require.NoError(t, c.Bump(ctx))
	key, err = c.BuildKey(ctx, "sess-1")
	require.NoError(t, err)
	require.NoError(t, c.FetchJSON(ctx, key, &got, loader))
	assert.Equal(t, 2, calls)
	assert.Equal(t, 20, got.Students)
}

func TestFetchJSONDoesNotCacheErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c := cache.NewCache(client, "dashboard", time.Minute)
	ctx := context.Background()

	boom := errors.New("upstream down")
	var got counts
	err := c.FetchJSON(ctx, "k", &got, func(context.Context) (any, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("k"))
}

func TestNilCacheCallsLoader(t *testing.T) {
	var c *cache.Cache
	var got counts
	require.NoError(t, c.FetchJSON(context.Background(), "k", &got, func(context.Context) (any, error) {
		return counts{Students: 3}, nil
	}))
	assert.Equal(t, 3, got.Students)
	assert.NoError(t, c.Bump(context.Background()))
}

func TestNewRejectsUnreachableRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err := cache.New(context.Background(), addr, "", 0)
	assert.Error(t, err)
}
