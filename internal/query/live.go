// Package query 在 Registry 上做连接、过滤与排序；集合变化时整体重算。
package query

import (
	"sync"

	"github.com/d60-Lab/feedsync/internal/store"
)

// Live 依赖集合变化时重算 compute 的结果集
type Live[T any] struct {
	reg     *store.Registry
	compute func(reg *store.Registry) T
	deps    []string

	mu        sync.RWMutex
	result    T
	version   uint64
	at        uint64 // result 对应的写 tick
	listeners map[uint64]func(T)
	nextID    uint64
	closed    bool
	unsub     func()
}

// NewLive compute 在读 tick 内执行，只能使用集合的 *Locked 方法
func NewLive[T any](reg *store.Registry, compute func(reg *store.Registry) T, deps ...string) *Live[T] {
	l := &Live[T]{
		reg:       reg,
		compute:   compute,
		deps:      deps,
		listeners: make(map[uint64]func(T)),
	}
	l.unsub = reg.Loop.Subscribe(func(changed store.Changed) {
		if len(l.deps) == 0 || changed.Has(l.deps...) {
			l.refresh()
		}
	})
	l.refresh()
	return l
}

func (l *Live[T]) refresh() {
	v, at := l.snapshot()
	l.publish(v, at)
}

// snapshot 在读 tick 内计算，返回结果及其所在的写 tick
func (l *Live[T]) snapshot() (T, uint64) {
	var v T
	at := l.reg.Loop.ReadAt(func() { v = l.compute(l.reg) })
	return v, at
}

// publish 保存结果并通知；多个写者的 refresh 可能交错，较旧 tick 的结果被丢弃
func (l *Live[T]) publish(v T, at uint64) {
	l.mu.Lock()
	if l.closed || (l.version > 0 && at <= l.at) {
		l.mu.Unlock()
		return
	}
	l.result = v
	l.at = at
	l.version++
	fns := make([]func(T), 0, len(l.listeners))
	for _, fn := range l.listeners {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	// 回调时取最新结果，乱序回调的最后一次也是最新值
	for _, fn := range fns {
		fn(l.Result())
	}
}

// Result 最近一次计算结果
func (l *Live[T]) Result() T {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.result
}

// Version 每次重算加一
func (l *Live[T]) Version() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.version
}

// Subscribe 结果重算后回调
func (l *Live[T]) Subscribe(fn func(T)) func() {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.listeners[id] = fn
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		delete(l.listeners, id)
		l.mu.Unlock()
	}
}

// Close 停止监听集合变化
func (l *Live[T]) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.listeners = map[uint64]func(T){}
	l.mu.Unlock()
	l.unsub()
}
