package service

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/d60-Lab/feedsync/internal/repository"
	"github.com/d60-Lab/feedsync/pkg/logger"
)

// ChangeWatcher 让 Hub 跟上其他实例写入的变更：定时轮询日志水位，
// 配置了 redis 时同时订阅 ChangePublisher 的频道。
type ChangeWatcher struct {
	changes      repository.ChangeRepository
	hub          *Hub
	rdb          *redis.Client
	channel      string
	pollInterval time.Duration
}

// NewChangeWatcher rdb 可以为 nil
func NewChangeWatcher(db *gorm.DB, hub *Hub, rdb *redis.Client, channel string, pollInterval time.Duration) *ChangeWatcher {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &ChangeWatcher{
		changes:      repository.NewChangeRepository(db),
		hub:          hub,
		rdb:          rdb,
		channel:      channel,
		pollInterval: pollInterval,
	}
}

// Start 启动轮询与订阅；返回停止函数
func (w *ChangeWatcher) Start() func(context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.loop(ctx)
	}()

	var sub *redis.PubSub
	if w.rdb != nil {
		sub = w.rdb.Subscribe(ctx, w.channel)
		go w.consume(sub)
	}
	return func(stopCtx context.Context) error {
		cancel()
		if sub != nil {
			_ = sub.Close()
		}
		select {
		case <-done:
			return nil
		case <-stopCtx.Done():
			return stopCtx.Err()
		}
	}
}

func (w *ChangeWatcher) loop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.pollOnce(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("poll change log failed", zap.Error(err))
			}
		}
	}
}

func (w *ChangeWatcher) pollOnce(ctx context.Context) error {
	latest, err := w.changes.Latest(ctx)
	if err != nil {
		return err
	}
	w.hub.Notify(latest)
	return nil
}

func (w *ChangeWatcher) consume(sub *redis.PubSub) {
	for msg := range sub.Channel() {
		offset, err := strconv.ParseInt(msg.Payload, 10, 64)
		if err != nil {
			logger.Warn("bad change offset payload", zap.String("payload", msg.Payload))
			continue
		}
		w.hub.Notify(offset)
	}
}
