package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/d60-Lab/feedsync/internal/model"
)

// ChangeRepository 变更日志与事务号
type ChangeRepository interface {
	BeginTxn(ctx context.Context, typ, creatorID string) (*model.Txn, error)
	Append(ctx context.Context, changes []*model.Change) error
	// After 返回 (offset, upTo] 区间内对 scope 可见的变更（公共变更 + 该用户私有变更）；upTo<=0 不设上界
	After(ctx context.Context, entity, scope string, offset, upTo int64, limit int) ([]*model.Change, error)
	// Latest 当前最大 change id，无数据时为 0
	Latest(ctx context.Context) (int64, error)
}

type changeRepository struct{ db *gorm.DB }

func NewChangeRepository(db *gorm.DB) ChangeRepository { return &changeRepository{db: db} }

func (r *changeRepository) BeginTxn(ctx context.Context, typ, creatorID string) (*model.Txn, error) {
	t := &model.Txn{Type: typ, CreatorID: creatorID, CreatedAt: time.Now().UTC()}
	if err := r.db.WithContext(ctx).Create(t).Error; err != nil {
		return nil, err
	}
	return t, nil
}

func (r *changeRepository) Append(ctx context.Context, changes []*model.Change) error {
	if len(changes) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&changes).Error
}

func (r *changeRepository) After(ctx context.Context, entity, scope string, offset, upTo int64, limit int) ([]*model.Change, error) {
	var res []*model.Change
	scopes := []string{""}
	if scope != "" {
		scopes = append(scopes, scope)
	}
	q := r.db.WithContext(ctx).
		Where("id > ? AND entity = ? AND scope IN ?", offset, entity, scopes).
		Order("id")
	if upTo > 0 {
		q = q.Where("id <= ?", upTo)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&res).Error
	return res, err
}

func (r *changeRepository) Latest(ctx context.Context) (int64, error) {
	var id int64
	err := r.db.WithContext(ctx).Model(&model.Change{}).Select("COALESCE(MAX(id), 0)").Scan(&id).Error
	return id, err
}
