package service

import (
	"context"
	"sync"
)

// Hub 进程内的变更水位广播：长轮询与 websocket 在此等待新 offset。
// 每次前进都关闭当前通道并换一个新的，等待者只需 select 通道。
type Hub struct {
	mu     sync.Mutex
	latest int64
	ch     chan struct{}
}

func NewHub() *Hub { return &Hub{ch: make(chan struct{})} }

// Notify 水位前进时唤醒所有等待者，旧值被忽略
func (h *Hub) Notify(offset int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if offset <= h.latest {
		return
	}
	h.latest = offset
	close(h.ch)
	h.ch = make(chan struct{})
}

func (h *Hub) Latest() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest
}

// Wait 阻塞到水位超过 offset；ctx 结束返回 false
func (h *Hub) Wait(ctx context.Context, offset int64) bool {
	for {
		h.mu.Lock()
		if h.latest > offset {
			h.mu.Unlock()
			return true
		}
		ch := h.ch
		h.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return false
		}
	}
}
