package action

import (
	"time"

	"github.com/d60-Lab/feedsync/internal/event"
	"github.com/d60-Lab/feedsync/internal/model"
	"github.com/d60-Lab/feedsync/internal/store"
	apperrors "github.com/d60-Lab/feedsync/pkg/errors"
)

var now = func() time.Time { return time.Now().UTC() }

// bump 行在本地可见时暂存计数器修改；不可见时由同步数据带回服务端计数
func bump[T model.Entity](c *store.Collection[T], tx *store.Tx, key string, fn func(T) T) error {
	if !c.Has(key) {
		return nil
	}
	return c.Update(tx, key, fn)
}

func dec(n int64) int64 { return max(0, n-1) }

// conflictAs 把集合层的通用冲突换成具体的领域错误
func conflictAs(err, domain error) error {
	if err != nil && apperrors.Is(err, apperrors.ErrConflict) {
		return domain
	}
	return err
}

func requireViewer(viewer string) error {
	if viewer == "" {
		return apperrors.Unauthorized("no session user")
	}
	return nil
}

// ---- post.create ----

type CreatePost struct {
	Viewer        string
	ID            string
	Content       string
	Media         []model.Media
	ReplyParentID string
}

func (a CreatePost) Name() string { return event.PostCreate }

func (a CreatePost) payload() event.CreatePost {
	p := event.CreatePost{ID: a.ID, Content: a.Content, Media: a.Media}
	if a.ReplyParentID != "" {
		p.ReplyParentID = model.Ptr(a.ReplyParentID)
	}
	return p
}

func (a CreatePost) Validate() error {
	if err := requireViewer(a.Viewer); err != nil {
		return err
	}
	return event.Validate(a.payload())
}

// OnMutate 插入帖子与作者的 feed item，回复时父帖 reply_count +1，作者 posts_count +1
func (a CreatePost) OnMutate(reg *store.Registry, tx *store.Tx) error {
	if !reg.Posts.IsAvailable() {
		return apperrors.NotReady("posts store unavailable")
	}
	ts := now()
	post := model.Post{
		ID:          a.ID,
		CreatorID:   model.Ptr(a.Viewer),
		Content:     a.Content,
		Media:       a.Media,
		MediaLength: len(a.Media),
		ReplyRootID: model.Ptr(a.ID),
		CreatedAt:   ts,
	}
	if post.Media == nil {
		post.Media = []model.Media{}
	}
	if a.ReplyParentID != "" {
		parent, ok := reg.Posts.Get(a.ReplyParentID)
		if !ok {
			return apperrors.ErrPostNotFound
		}
		post.ReplyParentID = model.Ptr(parent.ID)
		post.ReplyRootID = model.Ptr(parent.RootID())
	}

	if err := reg.Posts.Insert(tx, post); err != nil {
		return conflictAs(err, apperrors.ErrPostExists)
	}
	if post.IsReply() {
		if err := reg.Posts.Update(tx, post.ParentID(), func(p model.Post) model.Post {
			p.ReplyCount++
			return p
		}); err != nil {
			return err
		}
	}
	if err := reg.FeedItems.Insert(tx, model.FeedItem{
		CreatorID: a.Viewer, Type: model.FeedItemPost, PostID: a.ID, CreatedAt: ts,
	}); err != nil {
		return err
	}
	return bump(reg.Users, tx, a.Viewer, func(u model.User) model.User {
		u.PostsCount++
		return u
	})
}

func (a CreatePost) Event() (event.Event, error) { return event.New(event.PostCreate, a.payload()) }

// ---- post.delete ----

// DeletePost 服务端尚未实现（501），本地删除会被回滚
type DeletePost struct {
	Viewer string
	PostID string
}

func (a DeletePost) Name() string { return event.PostDelete }

func (a DeletePost) Validate() error {
	if err := requireViewer(a.Viewer); err != nil {
		return err
	}
	return event.Validate(event.Subject{SubjectID: a.PostID})
}

func (a DeletePost) OnMutate(reg *store.Registry, tx *store.Tx) error {
	post, ok := reg.Posts.Get(a.PostID)
	if !ok {
		if !reg.Posts.IsAvailable() {
			return apperrors.NotReady("posts store unavailable")
		}
		return apperrors.ErrPostNotFound
	}
	if post.CreatorID == nil || *post.CreatorID != a.Viewer {
		return apperrors.Forbidden("only the creator can delete a post")
	}
	if err := reg.Posts.Delete(tx, a.PostID); err != nil {
		return err
	}
	key := model.FeedItemKey(a.Viewer, model.FeedItemPost, a.PostID)
	if reg.FeedItems.Has(key) {
		return reg.FeedItems.Delete(tx, key)
	}
	return nil
}

func (a DeletePost) Event() (event.Event, error) {
	return event.New(event.PostDelete, event.Subject{SubjectID: a.PostID})
}

// ---- like / repost / bookmark ----

// reaction like、repost、bookmark 共用的字段与校验
type reaction struct {
	Viewer string
	PostID string
}

func (r reaction) Validate() error {
	if err := requireViewer(r.Viewer); err != nil {
		return err
	}
	return event.Validate(event.Subject{SubjectID: r.PostID})
}

func (r reaction) subject() event.Subject { return event.Subject{SubjectID: r.PostID} }
func (r reaction) key() string            { return model.ReactionKey(r.Viewer, r.PostID) }

type Like struct{ reaction }

func NewLike(viewer, postID string) Like { return Like{reaction{viewer, postID}} }

func (a Like) Name() string      { return event.PostLike }
func (a Like) ToggleKey() string { return "like:" + a.PostID }
func (a Like) Enabled() bool     { return true }

func (a Like) OnMutate(reg *store.Registry, tx *store.Tx) error {
	if err := reg.Likes.Insert(tx, model.Like{CreatorID: a.Viewer, SubjectID: a.PostID, CreatedAt: now()}); err != nil {
		return conflictAs(err, apperrors.ErrAlreadyLiked)
	}
	return bump(reg.Posts, tx, a.PostID, func(p model.Post) model.Post {
		p.LikeCount++
		return p
	})
}

func (a Like) Event() (event.Event, error) { return event.New(event.PostLike, a.subject()) }

type Unlike struct{ reaction }

func NewUnlike(viewer, postID string) Unlike { return Unlike{reaction{viewer, postID}} }

func (a Unlike) Name() string      { return event.PostUnlike }
func (a Unlike) ToggleKey() string { return "like:" + a.PostID }
func (a Unlike) Enabled() bool     { return false }

func (a Unlike) OnMutate(reg *store.Registry, tx *store.Tx) error {
	if err := reg.Likes.Delete(tx, a.key()); err != nil {
		return conflictAs(err, apperrors.ErrLikeNotFound)
	}
	return bump(reg.Posts, tx, a.PostID, func(p model.Post) model.Post {
		p.LikeCount = dec(p.LikeCount)
		return p
	})
}

func (a Unlike) Event() (event.Event, error) { return event.New(event.PostUnlike, a.subject()) }

// LikeToggle 按目标状态返回 Like 或 Unlike
func LikeToggle(viewer, postID string, liked bool) ToggleAction {
	if liked {
		return NewLike(viewer, postID)
	}
	return NewUnlike(viewer, postID)
}

type Repost struct{ reaction }

func NewRepost(viewer, postID string) Repost { return Repost{reaction{viewer, postID}} }

func (a Repost) Name() string      { return event.PostRepost }
func (a Repost) ToggleKey() string { return "repost:" + a.PostID }
func (a Repost) Enabled() bool     { return true }

// OnMutate 转发同时在转发者时间线上出现一条 repost 类型的 feed item
func (a Repost) OnMutate(reg *store.Registry, tx *store.Tx) error {
	ts := now()
	if err := reg.Reposts.Insert(tx, model.Repost{CreatorID: a.Viewer, SubjectID: a.PostID, CreatedAt: ts}); err != nil {
		return conflictAs(err, apperrors.ErrAlreadyReposted)
	}
	if err := reg.FeedItems.Insert(tx, model.FeedItem{
		CreatorID: a.Viewer, Type: model.FeedItemRepost, PostID: a.PostID, CreatedAt: ts,
	}); err != nil {
		return conflictAs(err, apperrors.ErrAlreadyReposted)
	}
	return bump(reg.Posts, tx, a.PostID, func(p model.Post) model.Post {
		p.RepostCount++
		return p
	})
}

func (a Repost) Event() (event.Event, error) { return event.New(event.PostRepost, a.subject()) }

type Unrepost struct{ reaction }

func NewUnrepost(viewer, postID string) Unrepost { return Unrepost{reaction{viewer, postID}} }

func (a Unrepost) Name() string      { return event.PostUnrepost }
func (a Unrepost) ToggleKey() string { return "repost:" + a.PostID }
func (a Unrepost) Enabled() bool     { return false }

func (a Unrepost) OnMutate(reg *store.Registry, tx *store.Tx) error {
	if err := reg.Reposts.Delete(tx, a.key()); err != nil {
		return conflictAs(err, apperrors.ErrRepostNotFound)
	}
	fi := model.FeedItemKey(a.Viewer, model.FeedItemRepost, a.PostID)
	if reg.FeedItems.Has(fi) {
		if err := reg.FeedItems.Delete(tx, fi); err != nil {
			return err
		}
	}
	return bump(reg.Posts, tx, a.PostID, func(p model.Post) model.Post {
		p.RepostCount = dec(p.RepostCount)
		return p
	})
}

func (a Unrepost) Event() (event.Event, error) { return event.New(event.PostUnrepost, a.subject()) }

func RepostToggle(viewer, postID string, reposted bool) ToggleAction {
	if reposted {
		return NewRepost(viewer, postID)
	}
	return NewUnrepost(viewer, postID)
}

type Bookmark struct{ reaction }

func NewBookmark(viewer, postID string) Bookmark { return Bookmark{reaction{viewer, postID}} }

func (a Bookmark) Name() string      { return event.PostBookmark }
func (a Bookmark) ToggleKey() string { return "bookmark:" + a.PostID }
func (a Bookmark) Enabled() bool     { return true }

func (a Bookmark) OnMutate(reg *store.Registry, tx *store.Tx) error {
	if err := reg.Bookmarks.Insert(tx, model.Bookmark{CreatorID: a.Viewer, SubjectID: a.PostID, CreatedAt: now()}); err != nil {
		return conflictAs(err, apperrors.ErrAlreadyMarked)
	}
	return bump(reg.Posts, tx, a.PostID, func(p model.Post) model.Post {
		p.BookmarkCount++
		return p
	})
}

func (a Bookmark) Event() (event.Event, error) { return event.New(event.PostBookmark, a.subject()) }

type Unbookmark struct{ reaction }

func NewUnbookmark(viewer, postID string) Unbookmark { return Unbookmark{reaction{viewer, postID}} }

func (a Unbookmark) Name() string      { return event.PostUnmark }
func (a Unbookmark) ToggleKey() string { return "bookmark:" + a.PostID }
func (a Unbookmark) Enabled() bool     { return false }

func (a Unbookmark) OnMutate(reg *store.Registry, tx *store.Tx) error {
	if err := reg.Bookmarks.Delete(tx, a.key()); err != nil {
		return conflictAs(err, apperrors.ErrBookmarkMissing)
	}
	return bump(reg.Posts, tx, a.PostID, func(p model.Post) model.Post {
		p.BookmarkCount = dec(p.BookmarkCount)
		return p
	})
}

func (a Unbookmark) Event() (event.Event, error) { return event.New(event.PostUnmark, a.subject()) }

func BookmarkToggle(viewer, postID string, marked bool) ToggleAction {
	if marked {
		return NewBookmark(viewer, postID)
	}
	return NewUnbookmark(viewer, postID)
}

// ---- follow / unfollow ----

type relation struct {
	Viewer string
	UserID string
}

func (r relation) Validate() error {
	if err := requireViewer(r.Viewer); err != nil {
		return err
	}
	if err := event.Validate(event.Subject{SubjectID: r.UserID}); err != nil {
		return err
	}
	if r.Viewer == r.UserID {
		return apperrors.ErrFollowSelf
	}
	return nil
}

func (r relation) subject() event.Subject { return event.Subject{SubjectID: r.UserID} }

type Follow struct{ relation }

func NewFollow(viewer, userID string) Follow { return Follow{relation{viewer, userID}} }

func (a Follow) Name() string      { return event.UserFollow }
func (a Follow) ToggleKey() string { return "follow:" + a.UserID }
func (a Follow) Enabled() bool     { return true }

// OnMutate 关注者 follows_count +1，被关注者 followers_count +1
func (a Follow) OnMutate(reg *store.Registry, tx *store.Tx) error {
	if err := reg.Follows.Insert(tx, model.Follow{CreatorID: a.Viewer, SubjectID: a.UserID, CreatedAt: now()}); err != nil {
		return conflictAs(err, apperrors.ErrAlreadyFollowed)
	}
	if err := bump(reg.Users, tx, a.UserID, func(u model.User) model.User {
		u.FollowersCount++
		return u
	}); err != nil {
		return err
	}
	return bump(reg.Users, tx, a.Viewer, func(u model.User) model.User {
		u.FollowsCount++
		return u
	})
}

func (a Follow) Event() (event.Event, error) { return event.New(event.UserFollow, a.subject()) }

type Unfollow struct{ relation }

func NewUnfollow(viewer, userID string) Unfollow { return Unfollow{relation{viewer, userID}} }

func (a Unfollow) Name() string      { return event.UserUnfollow }
func (a Unfollow) ToggleKey() string { return "follow:" + a.UserID }
func (a Unfollow) Enabled() bool     { return false }

func (a Unfollow) OnMutate(reg *store.Registry, tx *store.Tx) error {
	if err := reg.Follows.Delete(tx, model.ReactionKey(a.Viewer, a.UserID)); err != nil {
		return conflictAs(err, apperrors.ErrFollowNotFound)
	}
	if err := bump(reg.Users, tx, a.UserID, func(u model.User) model.User {
		u.FollowersCount = dec(u.FollowersCount)
		return u
	}); err != nil {
		return err
	}
	return bump(reg.Users, tx, a.Viewer, func(u model.User) model.User {
		u.FollowsCount = dec(u.FollowsCount)
		return u
	})
}

func (a Unfollow) Event() (event.Event, error) { return event.New(event.UserUnfollow, a.subject()) }

func FollowToggle(viewer, userID string, following bool) ToggleAction {
	if following {
		return NewFollow(viewer, userID)
	}
	return NewUnfollow(viewer, userID)
}

// ---- user.mark_notifications_seen ----

// MarkNotificationsSeen 推进已读水位，只前进不后退
type MarkNotificationsSeen struct {
	Viewer         string
	NotificationID int64
}

func (a MarkNotificationsSeen) Name() string { return event.UserMarkSeen }

func (a MarkNotificationsSeen) Validate() error {
	if err := requireViewer(a.Viewer); err != nil {
		return err
	}
	return event.Validate(event.MarkSeen{NotificationID: a.NotificationID})
}

func (a MarkNotificationsSeen) OnMutate(reg *store.Registry, tx *store.Tx) error {
	if !reg.Users.IsAvailable() {
		return apperrors.NotReady("users store unavailable")
	}
	return bump(reg.Users, tx, a.Viewer, func(u model.User) model.User {
		u.LastSeenNotificationID = max(u.LastSeenNotificationID, a.NotificationID)
		return u
	})
}

func (a MarkNotificationsSeen) Event() (event.Event, error) {
	return event.New(event.UserMarkSeen, event.MarkSeen{NotificationID: a.NotificationID})
}

var (
	_ ToggleAction = Like{}
	_ ToggleAction = Unlike{}
	_ ToggleAction = Repost{}
	_ ToggleAction = Unrepost{}
	_ ToggleAction = Bookmark{}
	_ ToggleAction = Unbookmark{}
	_ ToggleAction = Follow{}
	_ ToggleAction = Unfollow{}
	_ Action       = CreatePost{}
	_ Action       = DeletePost{}
	_ Action       = MarkNotificationsSeen{}
)
