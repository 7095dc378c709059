package service

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/d60-Lab/feedsync/internal/model"
	"github.com/d60-Lab/feedsync/internal/repository"
	"github.com/d60-Lab/feedsync/pkg/database"
	apperrors "github.com/d60-Lab/feedsync/pkg/errors"
	"github.com/d60-Lab/feedsync/pkg/logger"
)

// changeLogLock pg_advisory_xact_lock 的键：多实例下串行化变更日志写入
const changeLogLock int64 = 0x66656564

// ChangeSink 事务提交后接收新的变更水位
type ChangeSink interface {
	Notify(offset int64)
}

// Writer 串行执行写事务：每个事务分配一个 txid，触碰的行写入变更日志，提交后通知各 sink
type Writer struct {
	db    *gorm.DB
	sinks []ChangeSink
	// 变更 id 的可见顺序必须与分配顺序一致，读者才不会越过未提交的空洞
	mu sync.Mutex
}

func NewWriter(db *gorm.DB, sinks ...ChangeSink) *Writer {
	return &Writer{db: db, sinks: sinks}
}

// AddSink 启动阶段追加 sink（非并发安全）
func (w *Writer) AddSink(s ChangeSink) { w.sinks = append(w.sinks, s) }

// run 在一个数据库事务内执行 fn，返回 txid
func (w *Writer) run(ctx context.Context, typ, creatorID string, fn func(u *unit) error) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var u *unit
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if database.IsPostgres(tx) {
			if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", changeLogLock).Error; err != nil {
				return err
			}
		}
		u = newUnit(ctx, tx)
		if err := u.begin(typ, creatorID); err != nil {
			return err
		}
		if err := fn(u); err != nil {
			return err
		}
		return u.flush()
	})
	if err != nil {
		var ae *apperrors.AppError
		if !apperrors.As(err, &ae) {
			logger.Error("write transaction failed", zap.String("type", typ), zap.String("user", creatorID), zap.Error(err))
		}
		return 0, err
	}

	for _, sink := range w.sinks {
		sink.Notify(u.last)
	}
	return u.txn.ID, nil
}

// unit 一个事件的写事务：仓储都绑定在同一个 gorm 事务上，
// 触碰过的行按顺序记入变更日志，提交时与业务写一起落地。
type unit struct {
	ctx  context.Context
	txn  *model.Txn
	log  []*model.Change
	last int64

	users         repository.UserRepository
	posts         repository.PostRepository
	feedItems     repository.FeedItemRepository
	likes         repository.ReactionRepository[model.Like]
	reposts       repository.ReactionRepository[model.Repost]
	bookmarks     repository.ReactionRepository[model.Bookmark]
	follows       repository.FollowRepository
	notifications repository.NotificationRepository
	changes       repository.ChangeRepository
}

func newUnit(ctx context.Context, tx *gorm.DB) *unit {
	return &unit{
		ctx:           ctx,
		users:         repository.NewUserRepository(tx),
		posts:         repository.NewPostRepository(tx),
		feedItems:     repository.NewFeedItemRepository(tx),
		likes:         repository.NewLikeRepository(tx),
		reposts:       repository.NewRepostRepository(tx),
		bookmarks:     repository.NewBookmarkRepository(tx),
		follows:       repository.NewFollowRepository(tx),
		notifications: repository.NewNotificationRepository(tx),
		changes:       repository.NewChangeRepository(tx),
	}
}

func (u *unit) begin(typ, creatorID string) error {
	txn, err := u.changes.BeginTxn(u.ctx, typ, creatorID)
	if err != nil {
		return err
	}
	u.txn = txn
	return nil
}

func (u *unit) record(entity, op, scope string, v model.Entity) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	u.log = append(u.log, &model.Change{
		TxID: u.txn.ID, Entity: entity, Op: op, Key: v.Key(), Scope: scope,
		Value: string(raw), CreatedAt: u.txn.CreatedAt,
	})
	return nil
}

func (u *unit) recordDelete(entity, scope, key string) {
	u.log = append(u.log, &model.Change{
		TxID: u.txn.ID, Entity: entity, Op: model.OpDelete, Key: key, Scope: scope,
		CreatedAt: u.txn.CreatedAt,
	})
}

// touchPost 计数器更新后重读整行记为 update
func (u *unit) touchPost(id string) error {
	p, err := u.posts.Get(u.ctx, id)
	if err != nil || p == nil {
		return err
	}
	return u.record(model.EntityPosts, model.OpUpdate, "", p)
}

func (u *unit) touchUser(id string) error {
	usr, err := u.users.Get(u.ctx, id)
	if err != nil || usr == nil {
		return err
	}
	return u.record(model.EntityUsers, model.OpUpdate, "", usr)
}

// notify 自己对自己的动作不产生通知；重复动作不产生新通知
func (u *unit) notify(creatorID, recipientID, reason string, subjectID *string) error {
	if recipientID == "" || creatorID == recipientID {
		return nil
	}
	n, created, err := u.notifications.Create(u.ctx, creatorID, recipientID, reason, subjectID)
	if err != nil || !created {
		return err
	}
	return u.record(model.EntityNotifications, model.OpInsert, recipientID, n)
}

func (u *unit) flush() error {
	if err := u.changes.Append(u.ctx, u.log); err != nil {
		return err
	}
	for _, c := range u.log {
		if c.ID > u.last {
			u.last = c.ID
		}
	}
	return nil
}
