package model

import "time"

// User 用户；计数器只由事件流修改，资料编辑不触碰
type User struct {
	ID                     string    `gorm:"primaryKey;type:varchar(36)" json:"id" validate:"required"`
	Username               string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"username" validate:"required,max=64"`
	Name                   string    `gorm:"type:varchar(128)" json:"name"`
	Bio                    string    `gorm:"type:text" json:"bio"`
	Image                  string    `gorm:"type:text" json:"image"`
	PostsCount             int64     `gorm:"not null;default:0" json:"posts_count" validate:"gte=0"`
	FollowersCount         int64     `gorm:"not null;default:0" json:"followers_count" validate:"gte=0"`
	FollowsCount           int64     `gorm:"not null;default:0" json:"follows_count" validate:"gte=0"`
	LastSeenNotificationID int64     `gorm:"not null;default:0" json:"last_seen_notification_id"`
	CreatedAt              time.Time `json:"created_at"`
}

func (User) TableName() string { return "users" }

func (u User) Key() string { return u.ID }
