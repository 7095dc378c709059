package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/d60-Lab/feedsync/internal/model"
)

type NotificationRepository interface {
	// Create (creator, recipient, reason, subject) 已存在时返回 created=false
	Create(ctx context.Context, creatorID, recipientID, reason string, subjectID *string) (*model.Notification, bool, error)
	ListByRecipient(ctx context.Context, recipientID string, limit int) ([]*model.Notification, error)
}

type notificationRepository struct{ db *gorm.DB }

func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

// Create 先查后插：subject 为 NULL 时唯一索引不生效（follow 通知），
// 插入失败的唯一冲突同样视为已存在
func (r *notificationRepository) Create(ctx context.Context, creatorID, recipientID, reason string, subjectID *string) (*model.Notification, bool, error) {
	q := r.db.WithContext(ctx).Model(&model.Notification{}).
		Where("creator_id = ? AND recipient_id = ? AND reason = ?", creatorID, recipientID, reason)
	if subjectID == nil {
		q = q.Where("reason_subject_id IS NULL")
	} else {
		q = q.Where("reason_subject_id = ?", *subjectID)
	}
	var cnt int64
	if err := q.Count(&cnt).Error; err != nil {
		return nil, false, err
	}
	if cnt > 0 {
		return nil, false, nil
	}

	n := &model.Notification{
		CreatorID:       creatorID,
		RecipientID:     recipientID,
		Reason:          reason,
		ReasonSubjectID: subjectID,
		CreatedAt:       time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(n).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return n, true, nil
}

func (r *notificationRepository) ListByRecipient(ctx context.Context, recipientID string, limit int) ([]*model.Notification, error) {
	var res []*model.Notification
	err := r.db.WithContext(ctx).Where("recipient_id = ?", recipientID).
		Order("id DESC").Limit(limit).Find(&res).Error
	return res, err
}
