package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/d60-Lab/feedsync/internal/model"
)

type PostRepository interface {
	Create(ctx context.Context, p *model.Post) error
	Get(ctx context.Context, id string) (*model.Post, error)
	AddCounter(ctx context.Context, id, column string, delta int) error
	ListByCreator(ctx context.Context, creatorID string, offset, limit int) ([]*model.Post, error)
}

type postRepository struct{ db *gorm.DB }

func NewPostRepository(db *gorm.DB) PostRepository { return &postRepository{db: db} }

// Create 主键冲突会被 TranslateError 转成 gorm.ErrDuplicatedKey
func (r *postRepository) Create(ctx context.Context, p *model.Post) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *postRepository) Get(ctx context.Context, id string) (*model.Post, error) {
	var p model.Post
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *postRepository) AddCounter(ctx context.Context, id, column string, delta int) error {
	return r.db.WithContext(ctx).Model(&model.Post{}).Where("id = ?", id).
		UpdateColumn(column, counterExpr(column, delta)).Error
}

func (r *postRepository) ListByCreator(ctx context.Context, creatorID string, offset, limit int) ([]*model.Post, error) {
	var res []*model.Post
	err := r.db.WithContext(ctx).Where("creator_id = ?", creatorID).
		Order("created_at DESC").Offset(offset).Limit(limit).Find(&res).Error
	return res, err
}
