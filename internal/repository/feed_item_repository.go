package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/feedsync/internal/model"
)

type FeedItemRepository interface {
	Create(ctx context.Context, creatorID, typ, postID string, at time.Time) (*model.FeedItem, bool, error)
	Delete(ctx context.Context, creatorID, typ, postID string) (bool, error)
	// ListByCreators 时间线查询：按 created_at 倒序
	ListByCreators(ctx context.Context, creatorIDs []string, before time.Time, limit int) ([]*model.FeedItem, error)
}

type feedItemRepository struct{ db *gorm.DB }

func NewFeedItemRepository(db *gorm.DB) FeedItemRepository { return &feedItemRepository{db: db} }

func (r *feedItemRepository) Create(ctx context.Context, creatorID, typ, postID string, at time.Time) (*model.FeedItem, bool, error) {
	it := &model.FeedItem{CreatorID: creatorID, Type: typ, PostID: postID, CreatedAt: at}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(it)
	if res.Error != nil {
		return nil, false, res.Error
	}
	return it, res.RowsAffected > 0, nil
}

func (r *feedItemRepository) Delete(ctx context.Context, creatorID, typ, postID string) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("creator_id = ? AND type = ? AND post_id = ?", creatorID, typ, postID).
		Delete(&model.FeedItem{})
	return res.RowsAffected > 0, res.Error
}

func (r *feedItemRepository) ListByCreators(ctx context.Context, creatorIDs []string, before time.Time, limit int) ([]*model.FeedItem, error) {
	var res []*model.FeedItem
	q := r.db.WithContext(ctx).Where("creator_id IN ?", creatorIDs)
	if !before.IsZero() {
		q = q.Where("created_at < ?", before)
	}
	err := q.Order("created_at DESC").Limit(limit).Find(&res).Error
	return res, err
}
