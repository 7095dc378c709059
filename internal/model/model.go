// Package model 实体定义：gorm 表结构 + 同步线上格式（snake_case JSON）
package model

import "strings"

// Entity 所有可同步的实体都有稳定的 key
type Entity interface {
	Key() string
}

// 同步 shape 名称（也是 /api/:entity 的路径段）
const (
	EntityUsers         = "users"
	EntityPosts         = "posts"
	EntityFeedItems     = "feed-items"
	EntityLikes         = "likes"
	EntityReposts       = "reposts"
	EntityBookmarks     = "bookmarks"
	EntityFollows       = "follows"
	EntityNotifications = "notifications"
)

// Entities 返回全部 shape 名称
func Entities() []string {
	return []string{
		EntityUsers, EntityPosts, EntityFeedItems, EntityLikes,
		EntityReposts, EntityBookmarks, EntityFollows, EntityNotifications,
	}
}

// CompositeKey 拼接复合主键
func CompositeKey(parts ...string) string { return strings.Join(parts, "/") }

// All 返回需要 AutoMigrate 的全部模型
func All() []any {
	return []any{
		&User{}, &Post{}, &FeedItem{}, &Like{}, &Repost{}, &Bookmark{},
		&Follow{}, &Notification{}, &Txn{}, &Change{},
	}
}
