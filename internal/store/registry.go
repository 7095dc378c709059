package store

import (
	"context"

	"github.com/d60-Lab/feedsync/internal/model"
	"github.com/d60-Lab/feedsync/internal/shape"
)

// Syncable 同步订阅者驱动集合所需的最小接口
type Syncable interface {
	Name() string
	Status() Status
	BeginSync()
	ApplySync(msgs []shape.Message) error
	MarkReady()
	Reset()
	Fail(err error)
	Preload(ctx context.Context) error
}

// Registry 会话级的集合注册表，显式传给查询、动作与同步订阅者
type Registry struct {
	Loop *Loop

	Users         *Collection[model.User]
	Posts         *Collection[model.Post]
	FeedItems     *Collection[model.FeedItem]
	Likes         *Collection[model.Like]
	Reposts       *Collection[model.Repost]
	Bookmarks     *Collection[model.Bookmark]
	Follows       *Collection[model.Follow]
	Notifications *Collection[model.Notification]
}

func NewRegistry() *Registry {
	loop := NewLoop()
	return &Registry{
		Loop:          loop,
		Users:         NewCollection[model.User](model.EntityUsers, loop),
		Posts:         NewCollection[model.Post](model.EntityPosts, loop),
		FeedItems:     NewCollection[model.FeedItem](model.EntityFeedItems, loop),
		Likes:         NewCollection[model.Like](model.EntityLikes, loop),
		Reposts:       NewCollection[model.Repost](model.EntityReposts, loop),
		Bookmarks:     NewCollection[model.Bookmark](model.EntityBookmarks, loop),
		Follows:       NewCollection[model.Follow](model.EntityFollows, loop),
		Notifications: NewCollection[model.Notification](model.EntityNotifications, loop),
	}
}

// Syncables 按 shape 名称顺序返回全部集合
func (r *Registry) Syncables() []Syncable {
	return []Syncable{
		r.Users, r.Posts, r.FeedItems, r.Likes,
		r.Reposts, r.Bookmarks, r.Follows, r.Notifications,
	}
}

// Lookup 按名称查找集合
func (r *Registry) Lookup(name string) (Syncable, bool) {
	for _, s := range r.Syncables() {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

// Begin 新建绑定到本注册表的乐观事务
func (r *Registry) Begin() *Tx { return NewTx(r.Loop) }

// PreloadAll 等待全部集合就绪
func (r *Registry) PreloadAll(ctx context.Context) error {
	for _, s := range r.Syncables() {
		if err := s.Preload(ctx); err != nil {
			return err
		}
	}
	return nil
}
