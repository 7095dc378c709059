// Package txid 跟踪同步流中已观察到的事务 ID，供乐观写等待确认。
package txid

import (
	"context"
	"errors"
	"sync"

	apperrors "github.com/d60-Lab/feedsync/pkg/errors"
)

// DefaultRetain 记住最近观察到的 txid 个数
const DefaultRetain = 4096

// Tracker 记录已观察的 txid，并唤醒等待者
type Tracker struct {
	mu       sync.Mutex
	observed map[int64]struct{}
	order    []int64 // FIFO，用于淘汰最旧的 txid
	retain   int
	waiters  map[int64][]chan struct{}
	maxSeen  int64
}

func NewTracker(retain int) *Tracker {
	if retain <= 0 {
		retain = DefaultRetain
	}
	return &Tracker{
		observed: make(map[int64]struct{}),
		retain:   retain,
		waiters:  make(map[int64][]chan struct{}),
	}
}

// Observe 标记 txid 已在同步流中出现
func (t *Tracker) Observe(ids ...int64) {
	if len(ids) == 0 {
		return
	}
	t.mu.Lock()
	var wake []chan struct{}
	for _, id := range ids {
		if id > t.maxSeen {
			t.maxSeen = id
		}
		if _, ok := t.observed[id]; ok {
			continue
		}
		t.observed[id] = struct{}{}
		t.order = append(t.order, id)
		wake = append(wake, t.waiters[id]...)
		delete(t.waiters, id)
	}
	for len(t.order) > t.retain {
		delete(t.observed, t.order[0])
		t.order = t.order[1:]
	}
	t.mu.Unlock()

	for _, ch := range wake {
		close(ch)
	}
}

// Seen 是否已观察到
func (t *Tracker) Seen(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.observed[id]
	return ok
}

// MaxSeen 返回观察到的最大 txid
func (t *Tracker) MaxSeen() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxSeen
}

// Await 阻塞直到 id 被观察到或 ctx 结束。
// ctx 超时返回 TimeoutError，取消返回包装了 context.Canceled 的 TimeoutError。
func (t *Tracker) Await(ctx context.Context, id int64) error {
	t.mu.Lock()
	if _, ok := t.observed[id]; ok {
		t.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	t.waiters[id] = append(t.waiters[id], ch)
	t.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		t.forget(id, ch)
		if errors.Is(ctx.Err(), context.Canceled) {
			return apperrors.Wrap(apperrors.CodeDeadlineExceeded, "await txid cancelled", ctx.Err())
		}
		return apperrors.Timeout("timed out waiting for txid confirmation")
	}
}

// Pending 返回当前等待中的 txid 个数（用于观测泄漏）
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, ws := range t.waiters {
		n += len(ws)
	}
	return n
}

func (t *Tracker) forget(id int64, ch chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ws := t.waiters[id]
	for i, w := range ws {
		if w == ch {
			ws = append(ws[:i], ws[i+1:]...)
			break
		}
	}
	if len(ws) == 0 {
		delete(t.waiters, id)
	} else {
		t.waiters[id] = ws
	}
}
