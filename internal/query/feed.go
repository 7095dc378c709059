package query

import (
	"sort"
	"time"

	"github.com/d60-Lab/feedsync/internal/feed"
	"github.com/d60-Lab/feedsync/internal/model"
	"github.com/d60-Lab/feedsync/internal/store"
)

type FeedKind int

const (
	// FeedHome 本人与其关注者的时间线
	FeedHome FeedKind = iota
	// FeedProfile 单个用户的时间线
	FeedProfile
)

// FeedFilter 时间线过滤条件
type FeedFilter struct {
	Kind      FeedKind
	Viewer    string
	CreatorID string
	// IncludeReplies 为 false 时隐藏作者自己发的回复（转发不受影响）
	IncludeReplies bool
}

// FeedDeps 时间线查询依赖的集合
var FeedDeps = []string{model.EntityFeedItems, model.EntityPosts, model.EntityUsers, model.EntityFollows}

// FeedRows 连接 feed item → post → user → reply parent → reply root，
// 按 feed_item.created_at 降序、key 降序。必须在读 tick 内调用。
func FeedRows(reg *store.Registry, f FeedFilter) []feed.Row {
	include := creatorFilter(reg, f)
	items := reg.FeedItems.QueryLocked(func(fi model.FeedItem) bool { return include(fi.CreatorID) })

	rows := make([]feed.Row, 0, len(items))
	for _, fi := range items {
		post, ok := reg.Posts.GetLocked(fi.PostID)
		if !ok {
			continue
		}
		if !f.IncludeReplies && fi.Type == model.FeedItemPost && post.IsReply() {
			continue
		}
		row := feed.Row{FeedItem: fi, Post: post, User: userOf(reg, post.CreatorID)}
		if post.IsReply() {
			if parent, ok := reg.Posts.GetLocked(post.ParentID()); ok {
				row.ReplyParent = &parent
				row.ReplyParentUser = userOf(reg, parent.CreatorID)
			}
		}
		if root, ok := reg.Posts.GetLocked(post.RootID()); ok {
			row.ReplyRoot = &root
			row.ReplyRootUser = userOf(reg, root.CreatorID)
		}
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool { return after(cursorOf(rows[j]), cursorOf(rows[i])) })
	return rows
}

func creatorFilter(reg *store.Registry, f FeedFilter) func(string) bool {
	if f.Kind == FeedProfile {
		return func(id string) bool { return id == f.CreatorID }
	}
	following := map[string]struct{}{f.Viewer: {}}
	for _, fl := range reg.Follows.QueryLocked(func(fl model.Follow) bool { return fl.CreatorID == f.Viewer }) {
		following[fl.SubjectID] = struct{}{}
	}
	return func(id string) bool {
		_, ok := following[id]
		return ok
	}
}

func userOf(reg *store.Registry, id *string) *model.User {
	if id == nil {
		return nil
	}
	u, ok := reg.Users.GetLocked(*id)
	if !ok {
		return nil
	}
	return &u
}

// Cursor 排序键；分页边界在取页时确定
type Cursor struct {
	At  time.Time
	Key string
}

func cursorOf(r feed.Row) Cursor { return Cursor{At: r.FeedItem.CreatedAt, Key: r.FeedItem.Key()} }

// after a 是否排在 b 之后（更旧）
func after(a, b Cursor) bool {
	if !a.At.Equal(b.At) {
		return a.At.Before(b.At)
	}
	return a.Key < b.Key
}

// Engagement 查看者对帖子的状态
type Engagement struct {
	Liked      bool
	Reposted   bool
	Bookmarked bool
}

// EngagementOf 读取查看者的 like / repost / bookmark 状态
func EngagementOf(reg *store.Registry, viewer, postID string) Engagement {
	key := model.ReactionKey(viewer, postID)
	return Engagement{
		Liked:      reg.Likes.Has(key),
		Reposted:   reg.Reposts.Has(key),
		Bookmarked: reg.Bookmarks.Has(key),
	}
}

// LiveFeed 时间线的实时组装结果（不分页）
func LiveFeed(reg *store.Registry, f FeedFilter) *Live[[]feed.Group] {
	return NewLive(reg, func(reg *store.Registry) []feed.Group {
		return feed.Assemble(FeedRows(reg, f))
	}, FeedDeps...)
}
