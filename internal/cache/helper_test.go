package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	Name string `json:"name"`
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestCacheAside_PopulatesAndHits(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()

	calls := 0
	fetch := func(dest *[]item) func() error {
		return func() error {
			calls++
			*dest = []item{{Name: "desk"}}
			return nil
		}
	}

	var first []item
	require.NoError(t, CacheAside(ctx, rdb, "k", &first, time.Minute, fetch(&first)))
	assert.Equal(t, 1, calls)
	assert.True(t, mr.Exists("k"))

	var second []item
	require.NoError(t, CacheAside(ctx, rdb, "k", &second, time.Minute, fetch(&second)))
	assert.Equal(t, 1, calls)
	assert.Equal(t, []item{{Name: "desk"}}, second)

	require.NoError(t, Invalidate(ctx, rdb, "k"))
	assert.False(t, mr.Exists("k"))
}

func TestCacheAside_NilClientAlwaysFetches(t *testing.T) {
	ctx := context.Background()
	calls := 0
	var dest item
	for i := 0; i < 2; i++ {
		require.NoError(t, CacheAside(ctx, nil, "k", &dest, time.Minute, func() error {
			calls++
			return nil
		}))
	}
	assert.Equal(t, 2, calls)
}

func TestCacheAside_FetchError(t *testing.T) {
	_, rdb := newTestRedis(t)
	var dest item
	err := CacheAside(context.Background(), rdb, "k", &dest, time.Minute, func() error {
		return errors.New("db down")
	})
	assert.EqualError(t, err, "db down")
}

func TestInitRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := InitRedis(context.Background(), mr.Addr(), testLogger())
	require.NotNil(t, rdb)
	_ = rdb.Close()

	assert.Nil(t, InitRedis(context.Background(), "", testLogger()))
	assert.Nil(t, InitRedis(context.Background(), "redis://%%bad", testLogger()))
}
