// Package action 乐观动作协议：本地投机写 → 远端事件 → 等待 txid 确认 → 失败回滚。
package action

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/feedsync/internal/event"
	"github.com/d60-Lab/feedsync/internal/store"
	apperrors "github.com/d60-Lab/feedsync/pkg/errors"
	"github.com/d60-Lab/feedsync/pkg/logger"
	"github.com/d60-Lab/feedsync/pkg/metrics"
)

const (
	DefaultConfirmTimeout = 5 * time.Second
	DefaultToggleDebounce = 500 * time.Millisecond
)

// 动作结果标签
const (
	OutcomeCommitted  = "committed"
	OutcomeDetached   = "detached"
	OutcomeRolledBack = "rolled_back"
	OutcomeRejected   = "rejected"
	OutcomeCoalesced  = "coalesced"
)

// Action 一种用户操作：OnMutate 写投机层，Event 描述发往服务端的意图
type Action interface {
	Name() string
	// Validate 在任何乐观写之前执行
	Validate() error
	// OnMutate 只能通过 tx 修改集合，Apply 时整体生效
	OnMutate(reg *store.Registry, tx *store.Tx) error
	Event() (event.Event, error)
}

// EventSender 发送事件并返回服务端 txid
type EventSender interface {
	Send(ctx context.Context, e event.Event) (int64, error)
}

type Option func(*Runner)

func WithConfirmTimeout(d time.Duration) Option {
	return func(r *Runner) { r.confirmTimeout = d }
}

func WithToggleDebounce(d time.Duration) Option {
	return func(r *Runner) { r.debounce = d }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// Runner 唯一的回滚责任方；UI 只调用 Run / Toggle
type Runner struct {
	reg            *store.Registry
	sender         EventSender
	confirmTimeout time.Duration
	debounce       time.Duration
	metrics        *metrics.Metrics

	mu      sync.Mutex
	settled []func(Action, error)
	pending map[string]*toggleBatch
}

func NewRunner(reg *store.Registry, sender EventSender, opts ...Option) *Runner {
	r := &Runner{
		reg:            reg,
		sender:         sender,
		confirmTimeout: DefaultConfirmTimeout,
		debounce:       DefaultToggleDebounce,
		pending:        make(map[string]*toggleBatch),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = metrics.Nop()
	}
	return r
}

// OnSettled 注册结果回调（toast / 重试入口）；err 为 nil 表示已确认或确认超时
func (r *Runner) OnSettled(fn func(Action, error)) {
	r.mu.Lock()
	r.settled = append(r.settled, fn)
	r.mu.Unlock()
}

// Run 执行一次乐观动作，返回服务端 txid。
// 远端失败时回滚并返回错误；确认超时或 ctx 取消只记录日志，投机行保留到同步数据覆盖。
func (r *Runner) Run(ctx context.Context, a Action) (int64, error) {
	tx, err := r.mutate(a)
	if err != nil {
		r.settle(a, err, OutcomeRejected)
		return 0, err
	}

	e, err := a.Event()
	if err != nil {
		tx.Rollback()
		r.settle(a, err, OutcomeRejected)
		return 0, err
	}
	id, err := r.sender.Send(ctx, e)
	if err != nil {
		tx.Rollback()
		logger.Warn("action failed, rolled back", zap.String("action", a.Name()), zap.Error(err))
		r.settle(a, err, OutcomeRolledBack)
		return 0, err
	}

	r.settle(a, nil, r.confirm(ctx, a.Name(), id, tx))
	return id, nil
}

// mutate 校验并在一个 tick 内应用投机写。
// 集合不可用（未同步或已关闭）时跳过乐观写，事件照常发送。
func (r *Runner) mutate(a Action) (*store.Tx, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	tx := r.reg.Begin()
	if err := a.OnMutate(r.reg, tx); err != nil {
		tx.Rollback()
		if !apperrors.Is(err, apperrors.ErrNotReady) {
			return nil, err
		}
		logger.Debug("store unavailable, skipping optimistic write",
			zap.String("action", a.Name()), zap.Error(err))
		return r.reg.Begin(), nil
	}
	tx.Apply()
	return tx, nil
}

// confirm 等待所有被触及集合看到 txid，随后提交；超时则 detach
func (r *Runner) confirm(ctx context.Context, name string, id int64, txs ...*store.Tx) string {
	cctx, cancel := context.WithTimeout(ctx, r.confirmTimeout)
	defer cancel()
	for _, tx := range txs {
		if err := tx.AwaitConfirm(cctx, id); err != nil {
			logger.Warn("confirmation not observed, keeping optimistic state",
				zap.String("action", name), zap.Int64("txid", id), zap.Error(err))
			for _, t := range txs {
				t.Detach()
			}
			return OutcomeDetached
		}
	}
	for _, tx := range txs {
		tx.Commit()
	}
	return OutcomeCommitted
}

func (r *Runner) settle(a Action, err error, outcome string) {
	r.metrics.Actions.WithLabelValues(a.Name(), outcome).Inc()
	r.mu.Lock()
	fns := make([]func(Action, error), len(r.settled))
	copy(fns, r.settled)
	r.mu.Unlock()
	for _, fn := range fns {
		fn(a, err)
	}
}
