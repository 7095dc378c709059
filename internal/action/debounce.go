package action

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/feedsync/internal/store"
	apperrors "github.com/d60-Lab/feedsync/pkg/errors"
	"github.com/d60-Lab/feedsync/pkg/logger"
)

// ToggleAction 成对的开关动作（like/unlike 等）
type ToggleAction interface {
	Action
	// ToggleKey 同一开关的两个方向返回相同 key，如 like:<post>
	ToggleKey() string
	// Enabled like/repost/bookmark/follow 为 true，反操作为 false
	Enabled() bool
}

// Settlement 一批被合并的开关动作的最终结果
type Settlement struct {
	done chan struct{}
	txid int64
	err  error
	sent bool
}

func newSettlement() *Settlement { return &Settlement{done: make(chan struct{})} }

// Done 结算完成时关闭
func (s *Settlement) Done() <-chan struct{} { return s.done }

// Wait 等待结算；txid 为 0 且 err 为 nil 表示净效果为零，未发送请求
func (s *Settlement) Wait(ctx context.Context) (int64, error) {
	select {
	case <-s.done:
		return s.txid, s.err
	case <-ctx.Done():
		return 0, apperrors.Wrap(apperrors.CodeDeadlineExceeded, "settlement wait interrupted", ctx.Err())
	}
}

// Sent 是否真的发送了远端请求
func (s *Settlement) Sent() bool {
	<-s.done
	return s.sent
}

type toggleBatch struct {
	key      string
	baseline bool // 第一次切换前的状态
	last     ToggleAction
	txs      []*store.Tx
	timer    *time.Timer
	result   *Settlement
	once     sync.Once
}

// Toggle 本地立即按顺序应用每次切换；远端只在防抖窗口结束后发送最后一次意图，
// 且仅当它与窗口开始前的状态不同。被合并的切换共享同一个 Settlement。
func (r *Runner) Toggle(a ToggleAction) (*Settlement, error) {
	tx, err := r.mutate(a)
	if err != nil {
		r.settle(a, err, OutcomeRejected)
		return nil, err
	}

	key := a.ToggleKey()
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.pending[key]
	if !ok {
		b = &toggleBatch{key: key, baseline: !a.Enabled(), result: newSettlement()}
		r.pending[key] = b
		b.timer = time.AfterFunc(r.debounce, func() { r.flush(b) })
	} else {
		b.timer.Reset(r.debounce)
	}
	b.last = a
	b.txs = append(b.txs, tx)
	return b.result, nil
}

// Flush 立即结算所有等待中的开关（关闭会话前调用）
func (r *Runner) Flush() {
	r.mu.Lock()
	batches := make([]*toggleBatch, 0, len(r.pending))
	for _, b := range r.pending {
		batches = append(batches, b)
	}
	r.mu.Unlock()
	for _, b := range batches {
		if b.timer.Stop() {
			r.flush(b)
		}
	}
	for _, b := range batches {
		<-b.result.done
	}
}

func (r *Runner) flush(b *toggleBatch) {
	b.once.Do(func() { r.settleBatch(b) })
}

func (r *Runner) settleBatch(b *toggleBatch) {
	r.mu.Lock()
	if r.pending[b.key] == b {
		delete(r.pending, b.key)
	}
	last, txs := b.last, b.txs
	r.mu.Unlock()

	res := b.result
	defer close(res.done)

	if last.Enabled() == b.baseline {
		// 来回切换后回到原状态：撤掉投机层即可
		for i := len(txs) - 1; i >= 0; i-- {
			txs[i].Rollback()
		}
		r.settle(last, nil, OutcomeCoalesced)
		return
	}

	e, err := last.Event()
	if err == nil {
		res.sent = true
		res.txid, err = r.sender.Send(context.Background(), e)
	}
	if err != nil {
		for i := len(txs) - 1; i >= 0; i-- {
			txs[i].Rollback()
		}
		logger.Warn("toggle failed, rolled back",
			zap.String("action", last.Name()), zap.Int("coalesced", len(txs)), zap.Error(err))
		res.txid, res.err = 0, err
		r.settle(last, err, OutcomeRolledBack)
		return
	}
	r.settle(last, nil, r.confirm(context.Background(), last.Name(), res.txid, txs...))
}
