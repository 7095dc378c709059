package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/d60-Lab/feedsync/internal/model"
)

type UserRepository interface {
	Create(ctx context.Context, u *model.User) error
	Get(ctx context.Context, id string) (*model.User, error)
	// AddCounter 计数器增减，减到 0 为止
	AddCounter(ctx context.Context, id, column string, delta int) error
	// RaiseLastSeen 只前进不回退，返回是否有变化
	RaiseLastSeen(ctx context.Context, id string, notificationID int64) (bool, error)
	List(ctx context.Context, offset, limit int) ([]*model.User, error)
}

type userRepository struct{ db *gorm.DB }

func NewUserRepository(db *gorm.DB) UserRepository { return &userRepository{db: db} }

func (r *userRepository) Create(ctx context.Context, u *model.User) error {
	return r.db.WithContext(ctx).Create(u).Error
}

// Get 不存在返回 (nil, nil)
func (r *userRepository) Get(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepository) AddCounter(ctx context.Context, id, column string, delta int) error {
	return r.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).
		UpdateColumn(column, counterExpr(column, delta)).Error
}

func (r *userRepository) RaiseLastSeen(ctx context.Context, id string, notificationID int64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ? AND last_seen_notification_id < ?", id, notificationID).
		UpdateColumn("last_seen_notification_id", notificationID)
	return res.RowsAffected > 0, res.Error
}

func (r *userRepository) List(ctx context.Context, offset, limit int) ([]*model.User, error) {
	var res []*model.User
	err := r.db.WithContext(ctx).Order("created_at").Offset(offset).Limit(limit).Find(&res).Error
	return res, err
}

// counterExpr 生成 col + delta 的表达式，负数时不低于 0
func counterExpr(column string, delta int) any {
	if delta >= 0 {
		return gorm.Expr(column+" + ?", delta)
	}
	return gorm.Expr("CASE WHEN "+column+" > ? THEN "+column+" - ? ELSE 0 END", -delta, -delta)
}
