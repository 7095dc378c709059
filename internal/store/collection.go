// Package store 实体本地副本：同步数据 + 乐观投机层。
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/d60-Lab/feedsync/internal/model"
	"github.com/d60-Lab/feedsync/internal/shape"
	"github.com/d60-Lab/feedsync/internal/txid"
	apperrors "github.com/d60-Lab/feedsync/pkg/errors"
)

var validate = validator.New()

type op[T model.Entity] struct {
	key     string
	value   T
	deleted bool
	// update 的 mutator；前序层回滚后用它在新的底值上重算 value
	mutate func(T) T
	// 重算时底行已不可见（插入被回滚），该写不再生效
	skip bool
}

// layer 一个 Tx 在本集合上的有序写
type layer[T model.Entity] struct {
	c   *Collection[T]
	tx  *Tx
	ops []op[T]
}

func (l *layer[T]) collection() string { return l.c.name }
func (l *layer[T]) empty() bool        { return len(l.ops) == 0 }

func (l *layer[T]) install(changed Changed) {
	l.c.layers = append(l.c.layers, l)
	changed.add(l.c.name)
}

func (l *layer[T]) remove(changed Changed) {
	for i, x := range l.c.layers {
		if x == l {
			l.c.layers = append(l.c.layers[:i], l.c.layers[i+1:]...)
			changed.add(l.c.name)
			return
		}
	}
}

// rollback 移除本层，并重算之后各层对同一 key 的 update
func (l *layer[T]) rollback(changed Changed) {
	idx := -1
	for i, x := range l.c.layers {
		if x == l {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	touched := make(map[string]struct{}, len(l.ops))
	for _, o := range l.ops {
		touched[o.key] = struct{}{}
	}
	l.remove(changed)
	l.c.rebase(idx, touched)
}

func (l *layer[T]) detach(changed Changed) {
	for _, o := range l.ops {
		if o.skip {
			continue
		}
		l.c.detached[o.key] = o
	}
	l.remove(changed)
	if len(l.ops) > 0 {
		changed.add(l.c.name)
	}
}

func (l *layer[T]) awaitTxID(ctx context.Context, id int64) error {
	return l.c.tracker.Await(ctx, id)
}

// Collection 某一实体类型的本地副本
type Collection[T model.Entity] struct {
	name    string
	loop    *Loop
	tracker *txid.Tracker

	// 以下字段受 loop.mu 保护
	synced   map[string]T
	detached map[string]op[T]
	layers   []*layer[T]
	status   Status
	err      error

	readyOnce sync.Once
	ready     chan struct{}
}

func NewCollection[T model.Entity](name string, loop *Loop) *Collection[T] {
	return &Collection[T]{
		name:     name,
		loop:     loop,
		tracker:  txid.NewTracker(0),
		synced:   make(map[string]T),
		detached: make(map[string]op[T]),
		ready:    make(chan struct{}),
	}
}

func (c *Collection[T]) Name() string { return c.name }

// Status 当前同步状态
func (c *Collection[T]) Status() Status {
	var s Status
	c.loop.Read(func() { s = c.status })
	return s
}

// IsAvailable loading 或 ready 时为 true；调用方在乐观写前检查，不可用时直接跳过
func (c *Collection[T]) IsAvailable() bool { return c.Status().Available() }

// Err 进入 error 状态的原因
func (c *Collection[T]) Err() error {
	var err error
	c.loop.Read(func() { err = c.err })
	return err
}

// Preload 等待首个完整快照应用完成
func (c *Collection[T]) Preload(ctx context.Context) error {
	select {
	case <-c.ready:
	case <-ctx.Done():
		return apperrors.Wrap(apperrors.CodeNotReady, fmt.Sprintf("%s: preload interrupted", c.name), ctx.Err())
	}
	if err := c.Err(); err != nil {
		return apperrors.Wrap(apperrors.CodeNotReady, fmt.Sprintf("%s: sync failed", c.name), err)
	}
	return nil
}

// Get 按 key 读取可见行（同步 + 投机）
func (c *Collection[T]) Get(key string) (T, bool) {
	var (
		v  T
		ok bool
	)
	c.loop.Read(func() { v, ok = c.visible(key, nil) })
	return v, ok
}

// Has key 是否可见
func (c *Collection[T]) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Values 返回全部可见行，按 key 排序
func (c *Collection[T]) Values() []T {
	return c.Query(nil)
}

// Query 返回满足 predicate 的可见行，按 key 排序；predicate 为 nil 返回全部
func (c *Collection[T]) Query(predicate func(T) bool) []T {
	var out []T
	c.loop.Read(func() { out = c.queryLocked(predicate) })
	return out
}

// QueryLocked 供已持有读锁的调用方（查询引擎）使用
func (c *Collection[T]) QueryLocked(predicate func(T) bool) []T {
	return c.queryLocked(predicate)
}

// GetLocked 供已持有读锁的调用方使用
func (c *Collection[T]) GetLocked(key string) (T, bool) {
	return c.visible(key, nil)
}

func (c *Collection[T]) queryLocked(predicate func(T) bool) []T {
	keys := c.keys()
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		v, ok := c.visible(k, nil)
		if !ok {
			continue
		}
		if predicate == nil || predicate(v) {
			out = append(out, v)
		}
	}
	return out
}

// Subscribe 集合有变化时回调（写 tick 结束后）
func (c *Collection[T]) Subscribe(fn func()) func() {
	return c.loop.Subscribe(func(changed Changed) {
		if changed.Has(c.name) {
			fn()
		}
	})
}

// AwaitTxID 等待本集合的同步流出现 txid
func (c *Collection[T]) AwaitTxID(ctx context.Context, id int64) error {
	return c.tracker.Await(ctx, id)
}

// ---- 乐观写（暂存到 Tx，Apply 时整体生效） ----

// Insert 暂存插入；key 已可见时返回 ConflictError
func (c *Collection[T]) Insert(tx *Tx, items ...T) error {
	return c.stage(tx, func(l *layer[T]) error {
		for _, item := range items {
			key := item.Key()
			if _, ok := c.visible(key, l); ok {
				return apperrors.Conflict(fmt.Sprintf("%s: key %s already exists", c.name, key))
			}
			l.ops = append(l.ops, op[T]{key: key, value: item})
		}
		return nil
	})
}

// Update 以 mutator 计算新值并暂存；mutator 看到的是包含本事务先前写入的值
func (c *Collection[T]) Update(tx *Tx, key string, mutator func(T) T) error {
	return c.stage(tx, func(l *layer[T]) error {
		cur, ok := c.visible(key, l)
		if !ok {
			return apperrors.Conflict(fmt.Sprintf("%s: key %s not found", c.name, key))
		}
		next := mutator(cur)
		if next.Key() != key {
			return apperrors.InvalidArg(fmt.Sprintf("%s: update must not change key %s", c.name, key))
		}
		l.ops = append(l.ops, op[T]{key: key, value: next, mutate: mutator})
		return nil
	})
}

// Delete 暂存删除；key 不可见时返回 ConflictError
func (c *Collection[T]) Delete(tx *Tx, keys ...string) error {
	return c.stage(tx, func(l *layer[T]) error {
		for _, key := range keys {
			if _, ok := c.visible(key, l); !ok {
				return apperrors.Conflict(fmt.Sprintf("%s: key %s not found", c.name, key))
			}
			l.ops = append(l.ops, op[T]{key: key, deleted: true})
		}
		return nil
	})
}

func (c *Collection[T]) stage(tx *Tx, fn func(l *layer[T]) error) error {
	if tx.loop != c.loop {
		return apperrors.Internal(fmt.Sprintf("%s: transaction belongs to another registry", c.name))
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.staging(); err != nil {
		return err
	}

	var err error
	c.loop.Read(func() {
		if !c.status.Available() {
			err = apperrors.NotReady(fmt.Sprintf("%s: store is %s", c.name, c.status))
			return
		}
		var l *layer[T]
		if p := tx.lookup(c.name); p != nil {
			l = p.(*layer[T])
		} else {
			l = &layer[T]{c: c, tx: tx}
			tx.attach(l)
		}
		// 失败时丢弃本次调用追加的写，保持 Tx 干净
		n := len(l.ops)
		if err = fn(l); err != nil {
			l.ops = l.ops[:n]
		}
	})
	return err
}

// visible 计算 key 的可见值：synced → detached → 已安装的层 → pending（未安装的暂存层）
func (c *Collection[T]) visible(key string, pending *layer[T]) (T, bool) {
	v, ok := c.synced[key]
	if d, has := c.detached[key]; has {
		v, ok = d.value, !d.deleted
	}
	apply := func(l *layer[T]) {
		for _, o := range l.ops {
			if o.key == key && !o.skip {
				v, ok = o.value, !o.deleted
			}
		}
	}
	for _, l := range c.layers {
		if l == pending {
			continue
		}
		apply(l)
	}
	if pending != nil {
		apply(pending)
	}
	if !ok {
		var zero T
		return zero, false
	}
	return v, true
}

// rebase 从 layers[from] 起按顺序重算 touched 中 key 的 update。
// 同步数据在投机层仍在时已到达的话，重算会短暂重复计数，直到该层 commit。
func (c *Collection[T]) rebase(from int, touched map[string]struct{}) {
	for i := from; i < len(c.layers); i++ {
		l := c.layers[i]
		for j := range l.ops {
			o := &l.ops[j]
			if o.mutate == nil {
				continue
			}
			if _, hit := touched[o.key]; !hit {
				continue
			}
			cur, ok := c.valueBefore(o.key, i, j)
			o.skip = !ok
			if ok {
				o.value = o.mutate(cur)
			}
		}
	}
}

// valueBefore layers[li].ops[oi] 之前的可见值
func (c *Collection[T]) valueBefore(key string, li, oi int) (T, bool) {
	v, ok := c.synced[key]
	if d, has := c.detached[key]; has {
		v, ok = d.value, !d.deleted
	}
	for i := 0; i <= li; i++ {
		ops := c.layers[i].ops
		if i == li {
			ops = ops[:oi]
		}
		for _, o := range ops {
			if o.key == key && !o.skip {
				v, ok = o.value, !o.deleted
			}
		}
	}
	return v, ok
}

func (c *Collection[T]) keys() []string {
	set := make(map[string]struct{}, len(c.synced))
	for k := range c.synced {
		set[k] = struct{}{}
	}
	for k := range c.detached {
		set[k] = struct{}{}
	}
	for _, l := range c.layers {
		for _, o := range l.ops {
			set[o.key] = struct{}{}
		}
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ---- 同步路径 ----

// BeginSync uninitialized → loading
func (c *Collection[T]) BeginSync() {
	c.loop.Write(func(changed Changed) {
		if c.status == StatusUninitialized {
			c.status = StatusLoading
			changed.add(c.name)
		}
	})
}

// ApplySync 按到达顺序应用一批 upsert/delete，同步行覆盖同 key 的 detached 投机行。
// 值在 I/O 边界解码并校验，失败时整批拒绝。
func (c *Collection[T]) ApplySync(msgs []shape.Message) error {
	type decoded struct {
		key     string
		value   T
		deleted bool
	}
	batch := make([]decoded, 0, len(msgs))
	var txids []int64
	for _, m := range msgs {
		if m.IsControl() {
			continue
		}
		txids = append(txids, m.Headers.TxIDs...)
		switch m.Headers.Operation {
		case model.OpDelete:
			batch = append(batch, decoded{key: m.Key, deleted: true})
		case model.OpInsert, model.OpUpdate:
			var v T
			if err := json.Unmarshal(m.Value, &v); err != nil {
				return apperrors.Wrap(apperrors.CodeInvalidArgument, fmt.Sprintf("%s: decode %s", c.name, m.Key), err)
			}
			if err := validate.Struct(v); err != nil {
				return apperrors.Wrap(apperrors.CodeInvalidArgument, fmt.Sprintf("%s: invalid row %s", c.name, m.Key), err)
			}
			key := m.Key
			if key == "" {
				key = v.Key()
			}
			batch = append(batch, decoded{key: key, value: v})
		default:
			return apperrors.InvalidArg(fmt.Sprintf("%s: unknown operation %q", c.name, m.Headers.Operation))
		}
	}

	if len(batch) > 0 {
		c.loop.Write(func(changed Changed) {
			for _, d := range batch {
				if d.deleted {
					delete(c.synced, d.key)
				} else {
					c.synced[d.key] = d.value
				}
				delete(c.detached, d.key)
			}
			changed.add(c.name)
		})
	}
	// 数据可见之后再唤醒等待确认的写
	c.tracker.Observe(txids...)
	return nil
}

// Reset 服务端要求重新拉取时清空同步数据
func (c *Collection[T]) Reset() {
	c.loop.Write(func(changed Changed) {
		c.synced = make(map[string]T)
		changed.add(c.name)
	})
}

// MarkReady 首个快照完成
func (c *Collection[T]) MarkReady() {
	c.loop.Write(func(changed Changed) {
		if c.status == StatusLoading || c.status == StatusUninitialized {
			c.status = StatusReady
			changed.add(c.name)
		}
	})
	c.readyOnce.Do(func() { close(c.ready) })
}

// Fail 传输失败，进入终态 error
func (c *Collection[T]) Fail(err error) {
	c.loop.Write(func(changed Changed) {
		if c.status == StatusError {
			return
		}
		c.status = StatusError
		c.err = err
		changed.add(c.name)
	})
	c.readyOnce.Do(func() { close(c.ready) })
}
