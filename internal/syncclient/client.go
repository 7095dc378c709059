package syncclient

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/d60-Lab/feedsync/config"
	"github.com/d60-Lab/feedsync/internal/model"
	"github.com/d60-Lab/feedsync/internal/store"
	"github.com/d60-Lab/feedsync/pkg/logger"
)

// NewSource 按配置选择传输方式
func NewSource(cfg config.ClientConfig) Source {
	if cfg.Transport == "ws" {
		return NewWSSource(cfg.BaseURL, cfg.Token)
	}
	return NewHTTPSource(cfg.BaseURL, cfg.Token, nil)
}

// Start 为注册表中每个集合启动一个订阅者，返回的 stop 等待全部退出。
// 没有会话时按用户作用域的 shape（bookmarks、notifications）直接置为空的 ready。
func Start(ctx context.Context, reg *store.Registry, sub *Subscriber, authenticated bool) func() {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	for _, c := range reg.Syncables() {
		if !authenticated && scoped(c.Name()) {
			c.BeginSync()
			c.MarkReady()
			continue
		}
		wg.Add(1)
		go func(c store.Syncable) {
			defer wg.Done()
			if err := sub.Run(ctx, c); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("subscriber stopped", zap.String("entity", c.Name()), zap.Error(err))
			}
		}(c)
	}
	return func() {
		cancel()
		wg.Wait()
	}
}

func scoped(entity string) bool {
	return entity == model.EntityBookmarks || entity == model.EntityNotifications
}
