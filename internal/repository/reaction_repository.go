package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/feedsync/internal/model"
)

// Reaction like / repost / bookmark 三张结构相同的表
type Reaction interface {
	model.Like | model.Repost | model.Bookmark
}

type ReactionRepository[T Reaction] interface {
	Create(ctx context.Context, creatorID, subjectID string) (*T, bool, error)
	Delete(ctx context.Context, creatorID, subjectID string) (bool, error)
	CountBySubject(ctx context.Context, subjectID string) (int64, error)
	ListByCreator(ctx context.Context, creatorID string, offset, limit int) ([]*T, error)
}

type reactionRepository[T Reaction] struct{ db *gorm.DB }

func NewReactionRepository[T Reaction](db *gorm.DB) ReactionRepository[T] {
	return &reactionRepository[T]{db: db}
}

func NewLikeRepository(db *gorm.DB) ReactionRepository[model.Like] {
	return NewReactionRepository[model.Like](db)
}

func NewRepostRepository(db *gorm.DB) ReactionRepository[model.Repost] {
	return NewReactionRepository[model.Repost](db)
}

func NewBookmarkRepository(db *gorm.DB) ReactionRepository[model.Bookmark] {
	return NewReactionRepository[model.Bookmark](db)
}

func newReaction[T Reaction](creatorID, subjectID string, at time.Time) *T {
	var v T
	switch p := any(&v).(type) {
	case *model.Like:
		*p = model.Like{CreatorID: creatorID, SubjectID: subjectID, CreatedAt: at}
	case *model.Repost:
		*p = model.Repost{CreatorID: creatorID, SubjectID: subjectID, CreatedAt: at}
	case *model.Bookmark:
		*p = model.Bookmark{CreatorID: creatorID, SubjectID: subjectID, CreatedAt: at}
	}
	return &v
}

func (r *reactionRepository[T]) Create(ctx context.Context, creatorID, subjectID string) (*T, bool, error) {
	row := newReaction[T](creatorID, subjectID, time.Now().UTC())
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if res.Error != nil {
		return nil, false, res.Error
	}
	return row, res.RowsAffected > 0, nil
}

func (r *reactionRepository[T]) Delete(ctx context.Context, creatorID, subjectID string) (bool, error) {
	var zero T
	res := r.db.WithContext(ctx).Where("creator_id = ? AND subject_id = ?", creatorID, subjectID).Delete(&zero)
	return res.RowsAffected > 0, res.Error
}

func (r *reactionRepository[T]) CountBySubject(ctx context.Context, subjectID string) (int64, error) {
	var cnt int64
	var zero T
	err := r.db.WithContext(ctx).Model(&zero).Where("subject_id = ?", subjectID).Count(&cnt).Error
	return cnt, err
}

func (r *reactionRepository[T]) ListByCreator(ctx context.Context, creatorID string, offset, limit int) ([]*T, error) {
	var res []*T
	err := r.db.WithContext(ctx).Where("creator_id = ?", creatorID).
		Order("created_at DESC").Offset(offset).Limit(limit).Find(&res).Error
	return res, err
}
