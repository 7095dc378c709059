package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/feedsync/internal/model"
)

type FollowRepository interface {
	// Create 已存在时返回 created=false
	Create(ctx context.Context, creatorID, subjectID string) (*model.Follow, bool, error)
	Delete(ctx context.Context, creatorID, subjectID string) (bool, error)
	Exists(ctx context.Context, creatorID, subjectID string) (bool, error)
	ListFollowings(ctx context.Context, creatorID string, offset, limit int) ([]*model.Follow, error)
	ListFollowers(ctx context.Context, subjectID string, offset, limit int) ([]*model.Follow, error)
}

type followRepository struct {
	db *gorm.DB
}

func NewFollowRepository(db *gorm.DB) FollowRepository { return &followRepository{db: db} }

func (r *followRepository) Create(ctx context.Context, creatorID, subjectID string) (*model.Follow, bool, error) {
	f := &model.Follow{CreatorID: creatorID, SubjectID: subjectID, CreatedAt: time.Now().UTC()}
	// 幂等：重复关注不报错，由 RowsAffected 判断
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(f)
	if res.Error != nil {
		return nil, false, res.Error
	}
	return f, res.RowsAffected > 0, nil
}

func (r *followRepository) Delete(ctx context.Context, creatorID, subjectID string) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("creator_id = ? AND subject_id = ?", creatorID, subjectID).
		Delete(&model.Follow{})
	return res.RowsAffected > 0, res.Error
}

func (r *followRepository) Exists(ctx context.Context, creatorID, subjectID string) (bool, error) {
	var cnt int64
	if err := r.db.WithContext(ctx).
		Model(&model.Follow{}).
		Where("creator_id = ? AND subject_id = ?", creatorID, subjectID).
		Count(&cnt).Error; err != nil {
		return false, err
	}
	return cnt > 0, nil
}

func (r *followRepository) ListFollowings(ctx context.Context, creatorID string, offset, limit int) ([]*model.Follow, error) {
	var res []*model.Follow
	err := r.db.WithContext(ctx).Where("creator_id = ?", creatorID).
		Order("created_at DESC").Offset(offset).Limit(limit).Find(&res).Error
	return res, err
}

func (r *followRepository) ListFollowers(ctx context.Context, subjectID string, offset, limit int) ([]*model.Follow, error) {
	var res []*model.Follow
	err := r.db.WithContext(ctx).Where("subject_id = ?", subjectID).
		Order("created_at DESC").Offset(offset).Limit(limit).Find(&res).Error
	return res, err
}
