package shapecache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/feedsync/internal/shape"
)

func newCache(t *testing.T, ttl time.Duration) (*Cache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, ttl), mr
}

func TestCache_RoundTripPerOffsetAndScope(t *testing.T) {
	c, _ := newCache(t, time.Minute)
	ctx := context.Background()
	msgs := []shape.Message{
		{Headers: shape.Headers{Operation: "insert"}, Key: "a/p1", Value: []byte(`{"creator_id":"a","subject_id":"p1"}`), Offset: 7},
		shape.UpToDate(7),
	}

	_, ok := c.Get(ctx, "bookmarks", "a", 7)
	assert.False(t, ok)

	c.Set(ctx, "bookmarks", "a", 7, msgs)
	got, ok := c.Get(ctx, "bookmarks", "a", 7)
	require.True(t, ok)
	assert.Equal(t, msgs[0].Key, got[0].Key)
	assert.JSONEq(t, string(msgs[0].Value), string(got[0].Value))
	assert.True(t, got[1].IsControl())

	_, ok = c.Get(ctx, "bookmarks", "b", 7)
	assert.False(t, ok)
	_, ok = c.Get(ctx, "bookmarks", "a", 8)
	assert.False(t, ok)

	assert.Equal(t, Stats{Hits: 1, Misses: 3}, c.Stats())
	c.ResetStats()
	assert.Equal(t, Stats{}, c.Stats())
}

func TestCache_Expires(t *testing.T) {
	c, mr := newCache(t, time.Minute)
	ctx := context.Background()
	c.Set(ctx, "posts", "", 1, []shape.Message{shape.UpToDate(1)})

	mr.FastForward(2 * time.Minute)
	_, ok := c.Get(ctx, "posts", "", 1)
	assert.False(t, ok)
}

func TestCache_RedisDownIsAMiss(t *testing.T) {
	c, mr := newCache(t, time.Minute)
	mr.Close()
	ctx := context.Background()

	c.Set(ctx, "posts", "", 1, []shape.Message{shape.UpToDate(1)})
	_, ok := c.Get(ctx, "posts", "", 1)
	assert.False(t, ok)
}
