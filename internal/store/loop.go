package store

import (
	"sort"
	"sync"
)

// Changed 一次写 tick 中被修改的集合名
type Changed map[string]struct{}

func (c Changed) add(name string) { c[name] = struct{}{} }

// Has 任一名字命中即返回 true
func (c Changed) Has(names ...string) bool {
	for _, n := range names {
		if _, ok := c[n]; ok {
			return true
		}
	}
	return false
}

// Names 返回排序后的集合名
func (c Changed) Names() []string {
	out := make([]string, 0, len(c))
	for n := range c {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Loop 串行化同一个 Registry 内所有集合的写入。
// 同步批次与乐观写各自是一次写 tick，查询在读锁下进行；
// 监听者在 tick 结束、锁释放后才被调用，每个 tick 至多一次。
type Loop struct {
	mu  sync.RWMutex
	seq uint64 // 写 tick 序号，受 mu 保护

	lmu       sync.Mutex
	listeners map[uint64]func(Changed)
	nextID    uint64
}

func NewLoop() *Loop {
	return &Loop{listeners: make(map[uint64]func(Changed))}
}

// Write 在写锁下执行 fn，随后通知监听者
func (l *Loop) Write(fn func(changed Changed)) {
	changed := Changed{}
	l.mu.Lock()
	fn(changed)
	if len(changed) > 0 {
		l.seq++
	}
	l.mu.Unlock()
	if len(changed) > 0 {
		l.emit(changed)
	}
}

// Read 在读锁下执行 fn
func (l *Loop) Read(fn func()) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	fn()
}

// ReadAt 与 Read 相同，另返回读到的数据所在的写 tick 序号
func (l *Loop) ReadAt(fn func()) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	fn()
	return l.seq
}

// Subscribe 注册 tick 监听，返回取消函数
func (l *Loop) Subscribe(fn func(Changed)) func() {
	l.lmu.Lock()
	l.nextID++
	id := l.nextID
	l.listeners[id] = fn
	l.lmu.Unlock()
	return func() {
		l.lmu.Lock()
		delete(l.listeners, id)
		l.lmu.Unlock()
	}
}

func (l *Loop) emit(changed Changed) {
	l.lmu.Lock()
	ids := make([]uint64, 0, len(l.listeners))
	for id := range l.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(Changed), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, l.listeners[id])
	}
	l.lmu.Unlock()

	for _, fn := range fns {
		fn(changed)
	}
}
