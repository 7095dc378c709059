package store

import (
	"context"
	"sync"
	"sync/atomic"

	apperrors "github.com/d60-Lab/feedsync/pkg/errors"
)

type txState int

const (
	txStaging txState = iota
	txApplied
	txCommitted
	txRolledBack
	txDetached
)

var txSeq atomic.Uint64

// part 一个事务在某个集合上的投机层
type part interface {
	collection() string
	install(changed Changed)
	remove(changed Changed)
	rollback(changed Changed)
	detach(changed Changed)
	awaitTxID(ctx context.Context, id int64) error
	empty() bool
}

// Tx 一次用户操作的乐观写。
// 各集合上的写先暂存在 Tx 中，Apply 时在一个写 tick 内整体安装，
// 查询引擎看不到只应用了一半的 onMutate。
type Tx struct {
	id   uint64
	loop *Loop

	mu     sync.Mutex
	state  txState
	parts  []part
	byName map[string]part
}

func NewTx(loop *Loop) *Tx {
	return &Tx{id: txSeq.Add(1), loop: loop, byName: make(map[string]part)}
}

// ID 本地事务序号（与服务端 txid 无关）
func (tx *Tx) ID() uint64 { return tx.id }

// Empty 没有任何暂存写
func (tx *Tx) Empty() bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	for _, p := range tx.parts {
		if !p.empty() {
			return false
		}
	}
	return true
}

// Collections 返回被触及的集合名，按首次写入顺序
func (tx *Tx) Collections() []string {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	out := make([]string, 0, len(tx.parts))
	for _, p := range tx.parts {
		if !p.empty() {
			out = append(out, p.collection())
		}
	}
	return out
}

func (tx *Tx) staging() error {
	if tx.state != txStaging {
		return apperrors.Internal("transaction already applied")
	}
	return nil
}

// lookup 返回本事务在集合上的层；调用方持有 tx.mu
func (tx *Tx) lookup(name string) part { return tx.byName[name] }

func (tx *Tx) attach(p part) {
	tx.parts = append(tx.parts, p)
	tx.byName[p.collection()] = p
}

// Apply 在一个写 tick 内安装全部投机层
func (tx *Tx) Apply() {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state != txStaging {
		return
	}
	tx.state = txApplied
	tx.loop.Write(func(changed Changed) {
		for _, p := range tx.parts {
			if !p.empty() {
				p.install(changed)
			}
		}
	})
}

// Commit 确认后移除投机层，此时同步数据已包含服务端结果
func (tx *Tx) Commit() { tx.finish(txCommitted) }

// Rollback 移除投机层，回到同步状态；之后仍挂着的层在新底值上重算
func (tx *Tx) Rollback() { tx.finish(txRolledBack) }

// Detach 确认超时：投机行保留，直到同 key 的同步变更到达
func (tx *Tx) Detach() {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state != txApplied {
		if tx.state == txStaging {
			tx.state = txRolledBack
		}
		return
	}
	tx.state = txDetached
	tx.loop.Write(func(changed Changed) {
		for _, p := range tx.parts {
			p.detach(changed)
		}
	})
}

func (tx *Tx) finish(to txState) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	switch tx.state {
	case txStaging:
		tx.state = to
		return
	case txApplied:
	default:
		return
	}
	tx.state = to
	tx.loop.Write(func(changed Changed) {
		for _, p := range tx.parts {
			if to == txRolledBack {
				p.rollback(changed)
			} else {
				p.remove(changed)
			}
		}
	})
}

// AwaitConfirm 等待所有被触及集合都在同步流中看到 txid
func (tx *Tx) AwaitConfirm(ctx context.Context, id int64) error {
	tx.mu.Lock()
	parts := append([]part(nil), tx.parts...)
	tx.mu.Unlock()
	for _, p := range parts {
		if p.empty() {
			continue
		}
		if err := p.awaitTxID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
