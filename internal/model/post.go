package model

import (
	"time"

	"gorm.io/datatypes"
)

const (
	MaxPostLength  = 280
	MaxPostMedia   = 4
	MediaTypeImage = "image"
)

// Media 附件描述（由上传服务返回）
type Media struct {
	URL  string `json:"url" validate:"required"`
	Type string `json:"type" validate:"required"`
}

// Post 内容主体；ID 由客户端生成，便于乐观创建
// 根帖的 reply_root_id 指向自身
type Post struct {
	ID            string                     `gorm:"primaryKey;type:varchar(36)" json:"id" validate:"required"`
	CreatorID     *string                    `gorm:"type:varchar(36);index:idx_post_creator" json:"creator_id"`
	Content       string                     `gorm:"type:text;not null" json:"content" validate:"required,max=280"`
	Media         datatypes.JSONSlice[Media] `gorm:"type:text" json:"media" validate:"max=4,dive"`
	MediaLength   int                        `gorm:"not null;default:0" json:"media_length"`
	ReplyParentID *string                    `gorm:"type:varchar(36);index:idx_post_parent" json:"reply_parent_id"`
	ReplyRootID   *string                    `gorm:"type:varchar(36);index:idx_post_root" json:"reply_root_id"`
	LikeCount     int64                      `gorm:"not null;default:0" json:"like_count"`
	RepostCount   int64                      `gorm:"not null;default:0" json:"repost_count"`
	ReplyCount    int64                      `gorm:"not null;default:0" json:"reply_count"`
	BookmarkCount int64                      `gorm:"not null;default:0" json:"bookmark_count"`
	CreatedAt     time.Time                  `json:"created_at"`
}

func (Post) TableName() string { return "posts" }

func (p Post) Key() string { return p.ID }

// IsReply 是否为回复
func (p Post) IsReply() bool { return p.ReplyParentID != nil && *p.ReplyParentID != "" }

// RootID 返回线程根；根帖返回自身 ID
func (p Post) RootID() string {
	if p.ReplyRootID != nil && *p.ReplyRootID != "" {
		return *p.ReplyRootID
	}
	return p.ID
}

// ParentID 返回直接父帖，非回复返回空串
func (p Post) ParentID() string {
	if p.ReplyParentID == nil {
		return ""
	}
	return *p.ReplyParentID
}

// Ptr 便捷取地址
func Ptr[T any](v T) *T { return &v }
