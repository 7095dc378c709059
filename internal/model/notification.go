package model

import (
	"strconv"
	"time"
)

const (
	ReasonLike   = "like"
	ReasonReply  = "reply"
	ReasonRepost = "repost"
	ReasonFollow = "follow"
)

// Notification 通知；ID 单调递增，同时作为已读水位
// (creator, recipient, reason, subject) 唯一，重复动作不产生新通知
type Notification struct {
	ID              int64     `gorm:"primaryKey;autoIncrement" json:"id" validate:"required"`
	CreatorID       string    `gorm:"type:varchar(36);not null;uniqueIndex:ux_notification,priority:1" json:"creator_id" validate:"required"`
	RecipientID     string    `gorm:"type:varchar(36);not null;index:idx_notification_recipient;uniqueIndex:ux_notification,priority:2" json:"recipient_id" validate:"required"`
	Reason          string    `gorm:"type:varchar(16);not null;uniqueIndex:ux_notification,priority:3" json:"reason" validate:"required,oneof=like reply repost follow"`
	ReasonSubjectID *string   `gorm:"type:varchar(36);uniqueIndex:ux_notification,priority:4" json:"reason_subject_id"`
	CreatedAt       time.Time `json:"created_at"`
}

func (Notification) TableName() string { return "notifications" }

func (n Notification) Key() string { return strconv.FormatInt(n.ID, 10) }

// SubjectID 返回关联帖子 ID，无则空串
func (n Notification) SubjectID() string {
	if n.ReasonSubjectID == nil {
		return ""
	}
	return *n.ReasonSubjectID
}
