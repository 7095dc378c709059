// Package shapecache redis 快照缓存：同一水位下所有客户端的首屏快照只查一次库。
package shapecache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/feedsync/internal/shape"
	"github.com/d60-Lab/feedsync/pkg/logger"
)

// Cache key = shape:{entity}:{scope}:{offset}；offset 变化即失效，TTL 只负责回收
type Cache struct {
	rdb *redis.Client
	ttl time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

func New(rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{rdb: rdb, ttl: ttl}
}

func key(entity, scope string, offset int64) string {
	return fmt.Sprintf("shape:%s:%s:%d", entity, scope, offset)
}

func (c *Cache) Get(ctx context.Context, entity, scope string, offset int64) ([]shape.Message, bool) {
	data, err := c.rdb.Get(ctx, key(entity, scope, offset)).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Warn("snapshot cache get failed", zap.String("entity", entity), zap.Error(err))
		}
		c.misses.Add(1)
		return nil, false
	}
	var msgs []shape.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return msgs, true
}

// Set 失败只记日志，缓存不影响正确性
func (c *Cache) Set(ctx context.Context, entity, scope string, offset int64, msgs []shape.Message) {
	payload, err := json.Marshal(msgs)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key(entity, scope, offset), payload, c.ttl).Err(); err != nil {
		logger.Warn("snapshot cache set failed", zap.String("entity", entity), zap.Error(err))
	}
}

// Stats 命中统计
type Stats struct {
	Hits   int64
	Misses int64
}

func (c *Cache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// ResetStats 清零命中统计
func (c *Cache) ResetStats() {
	c.hits.Store(0)
	c.misses.Store(0)
}
