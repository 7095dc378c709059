package model

import "time"

const (
	FeedItemPost   = "post"
	FeedItemRepost = "repost"
)

// FeedItem 帖子在某创建者时间线上的一次出现（作者发帖或转发）
type FeedItem struct {
	CreatorID string    `gorm:"primaryKey;type:varchar(36)" json:"creator_id" validate:"required"`
	Type      string    `gorm:"primaryKey;type:varchar(8)" json:"type" validate:"required,oneof=post repost"`
	PostID    string    `gorm:"primaryKey;type:varchar(36);index:idx_feed_item_post" json:"post_id" validate:"required"`
	CreatedAt time.Time `gorm:"index:idx_feed_item_created" json:"created_at"`
}

func (FeedItem) TableName() string { return "feed_items" }

func (f FeedItem) Key() string { return FeedItemKey(f.CreatorID, f.Type, f.PostID) }

func FeedItemKey(creatorID, typ, postID string) string {
	return CompositeKey(creatorID, typ, postID)
}
