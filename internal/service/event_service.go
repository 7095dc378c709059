package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/d60-Lab/feedsync/internal/event"
	"github.com/d60-Lab/feedsync/internal/model"
	apperrors "github.com/d60-Lab/feedsync/pkg/errors"
	"github.com/d60-Lab/feedsync/pkg/metrics"
	"github.com/d60-Lab/feedsync/pkg/tracing"
)

// EventService 处理 POST /api/events：一个事件一个数据库事务，返回 txid
type EventService interface {
	Handle(ctx context.Context, userID string, e event.Event) (int64, error)
}

type handlerFunc func(u *unit, userID string, e event.Event) error

type eventService struct {
	w        *Writer
	metrics  *metrics.Metrics
	handlers map[string]handlerFunc
}

func NewEventService(w *Writer, m *metrics.Metrics) EventService {
	if m == nil {
		m = metrics.Nop()
	}
	s := &eventService{w: w, metrics: m}
	s.handlers = map[string]handlerFunc{
		event.PostCreate:   createPost,
		event.PostDelete:   deletePost,
		event.PostLike:     likePost,
		event.PostUnlike:   unlikePost,
		event.PostRepost:   repostPost,
		event.PostUnrepost: unrepostPost,
		event.PostBookmark: bookmarkPost,
		event.PostUnmark:   unbookmarkPost,
		event.UserFollow:   followUser,
		event.UserUnfollow: unfollowUser,
		event.UserMarkSeen: markNotificationsSeen,
	}
	return s
}

func (s *eventService) Handle(ctx context.Context, userID string, e event.Event) (int64, error) {
	ctx, span := tracing.Start(ctx, "event."+e.Type, attribute.String("feedsync.user", userID))
	defer span.End()

	start := time.Now()
	txid, err := s.handle(ctx, userID, e)
	s.metrics.EventLatency.WithLabelValues(e.Type).Observe(time.Since(start).Seconds())
	s.metrics.Events.WithLabelValues(e.Type, statusLabel(err)).Inc()
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	span.SetAttributes(attribute.Int64("feedsync.txid", txid))
	return txid, nil
}

func (s *eventService) handle(ctx context.Context, userID string, e event.Event) (int64, error) {
	h, ok := s.handlers[e.Type]
	if !ok {
		return 0, apperrors.ErrUnknownEvent
	}
	if userID == "" {
		return 0, apperrors.Unauthorized("no session user")
	}

	return s.w.run(ctx, e.Type, userID, func(u *unit) error {
		usr, err := u.users.Get(u.ctx, userID)
		if err != nil {
			return err
		}
		if usr == nil {
			return apperrors.Unauthorized("unknown session user")
		}
		return h(u, userID, e)
	})
}

func statusLabel(err error) string {
	if err == nil {
		return "201"
	}
	switch apperrors.CodeOf(err) {
	case apperrors.CodeInvalidArgument:
		return "400"
	case apperrors.CodeUnauthenticated:
		return "401"
	case apperrors.CodePermissionDenied:
		return "403"
	case apperrors.CodeNotFound:
		return "404"
	case apperrors.CodeConflict:
		return "409"
	case apperrors.CodeUnimplemented:
		return "501"
	default:
		return "500"
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func requirePost(u *unit, id string) (*model.Post, error) {
	p, err := u.posts.Get(u.ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, apperrors.ErrPostNotFound
	}
	return p, nil
}

// ---- posts ----

func createPost(u *unit, userID string, e event.Event) error {
	p, err := event.Decode[event.CreatePost](e)
	if err != nil {
		return err
	}
	existing, err := u.posts.Get(u.ctx, p.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return apperrors.ErrPostExists
	}

	now := time.Now().UTC()
	post := &model.Post{
		ID:          p.ID,
		CreatorID:   model.Ptr(userID),
		Content:     p.Content,
		Media:       p.Media,
		MediaLength: len(p.Media),
		ReplyRootID: model.Ptr(p.ID),
		CreatedAt:   now,
	}
	if post.Media == nil {
		post.Media = []model.Media{}
	}
	var parent *model.Post
	if p.ReplyParentID != nil && *p.ReplyParentID != "" {
		if parent, err = requirePost(u, *p.ReplyParentID); err != nil {
			return err
		}
		post.ReplyParentID = model.Ptr(parent.ID)
		post.ReplyRootID = model.Ptr(parent.RootID())
	}

	if err := u.posts.Create(u.ctx, post); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperrors.ErrPostExists
		}
		return err
	}
	if err := u.record(model.EntityPosts, model.OpInsert, "", post); err != nil {
		return err
	}

	if parent != nil {
		if err := u.bumpPost(parent.ID, "reply_count", 1); err != nil {
			return err
		}
		if err := u.notify(userID, deref(parent.CreatorID), model.ReasonReply, model.Ptr(post.ID)); err != nil {
			return err
		}
	}

	item, _, err := u.feedItems.Create(u.ctx, userID, model.FeedItemPost, post.ID, now)
	if err != nil {
		return err
	}
	if err := u.record(model.EntityFeedItems, model.OpInsert, "", item); err != nil {
		return err
	}
	return u.bumpUser(userID, "posts_count", 1)
}

func deletePost(*unit, string, event.Event) error {
	return apperrors.Unimplemented("post.delete is not implemented")
}

// ---- likes ----

func likePost(u *unit, userID string, e event.Event) error {
	p, err := event.Decode[event.Subject](e)
	if err != nil {
		return err
	}
	post, err := requirePost(u, p.SubjectID)
	if err != nil {
		return err
	}
	like, created, err := u.likes.Create(u.ctx, userID, post.ID)
	if err != nil {
		return err
	}
	if !created {
		return apperrors.ErrAlreadyLiked
	}
	if err := u.record(model.EntityLikes, model.OpInsert, "", like); err != nil {
		return err
	}
	if err := u.bumpPost(post.ID, "like_count", 1); err != nil {
		return err
	}
	return u.notify(userID, deref(post.CreatorID), model.ReasonLike, model.Ptr(post.ID))
}

func unlikePost(u *unit, userID string, e event.Event) error {
	p, err := event.Decode[event.Subject](e)
	if err != nil {
		return err
	}
	deleted, err := u.likes.Delete(u.ctx, userID, p.SubjectID)
	if err != nil {
		return err
	}
	if !deleted {
		return apperrors.ErrLikeNotFound
	}
	u.recordDelete(model.EntityLikes, "", model.ReactionKey(userID, p.SubjectID))
	return u.bumpPost(p.SubjectID, "like_count", -1)
}

// ---- reposts ----

func repostPost(u *unit, userID string, e event.Event) error {
	p, err := event.Decode[event.Subject](e)
	if err != nil {
		return err
	}
	post, err := requirePost(u, p.SubjectID)
	if err != nil {
		return err
	}
	repost, created, err := u.reposts.Create(u.ctx, userID, post.ID)
	if err != nil {
		return err
	}
	if !created {
		return apperrors.ErrAlreadyReposted
	}
	if err := u.record(model.EntityReposts, model.OpInsert, "", repost); err != nil {
		return err
	}
	item, _, err := u.feedItems.Create(u.ctx, userID, model.FeedItemRepost, post.ID, repost.CreatedAt)
	if err != nil {
		return err
	}
	if err := u.record(model.EntityFeedItems, model.OpInsert, "", item); err != nil {
		return err
	}
	if err := u.bumpPost(post.ID, "repost_count", 1); err != nil {
		return err
	}
	return u.notify(userID, deref(post.CreatorID), model.ReasonRepost, model.Ptr(post.ID))
}

func unrepostPost(u *unit, userID string, e event.Event) error {
	p, err := event.Decode[event.Subject](e)
	if err != nil {
		return err
	}
	deleted, err := u.reposts.Delete(u.ctx, userID, p.SubjectID)
	if err != nil {
		return err
	}
	if !deleted {
		return apperrors.ErrRepostNotFound
	}
	u.recordDelete(model.EntityReposts, "", model.ReactionKey(userID, p.SubjectID))
	if removed, err := u.feedItems.Delete(u.ctx, userID, model.FeedItemRepost, p.SubjectID); err != nil {
		return err
	} else if removed {
		u.recordDelete(model.EntityFeedItems, "", model.FeedItemKey(userID, model.FeedItemRepost, p.SubjectID))
	}
	return u.bumpPost(p.SubjectID, "repost_count", -1)
}

// ---- bookmarks（仅创建者可见）----

func bookmarkPost(u *unit, userID string, e event.Event) error {
	p, err := event.Decode[event.Subject](e)
	if err != nil {
		return err
	}
	post, err := requirePost(u, p.SubjectID)
	if err != nil {
		return err
	}
	mark, created, err := u.bookmarks.Create(u.ctx, userID, post.ID)
	if err != nil {
		return err
	}
	if !created {
		return apperrors.ErrAlreadyMarked
	}
	if err := u.record(model.EntityBookmarks, model.OpInsert, userID, mark); err != nil {
		return err
	}
	return u.bumpPost(post.ID, "bookmark_count", 1)
}

func unbookmarkPost(u *unit, userID string, e event.Event) error {
	p, err := event.Decode[event.Subject](e)
	if err != nil {
		return err
	}
	deleted, err := u.bookmarks.Delete(u.ctx, userID, p.SubjectID)
	if err != nil {
		return err
	}
	if !deleted {
		return apperrors.ErrBookmarkMissing
	}
	u.recordDelete(model.EntityBookmarks, userID, model.ReactionKey(userID, p.SubjectID))
	return u.bumpPost(p.SubjectID, "bookmark_count", -1)
}

// ---- follows ----

func followUser(u *unit, userID string, e event.Event) error {
	p, err := event.Decode[event.Subject](e)
	if err != nil {
		return err
	}
	if p.SubjectID == userID {
		return apperrors.ErrFollowSelf
	}
	target, err := u.users.Get(u.ctx, p.SubjectID)
	if err != nil {
		return err
	}
	if target == nil {
		return apperrors.ErrUserNotFound
	}
	f, created, err := u.follows.Create(u.ctx, userID, target.ID)
	if err != nil {
		return err
	}
	if !created {
		return apperrors.ErrAlreadyFollowed
	}
	if err := u.record(model.EntityFollows, model.OpInsert, "", f); err != nil {
		return err
	}
	if err := u.bumpUser(userID, "follows_count", 1); err != nil {
		return err
	}
	if err := u.bumpUser(target.ID, "followers_count", 1); err != nil {
		return err
	}
	return u.notify(userID, target.ID, model.ReasonFollow, nil)
}

func unfollowUser(u *unit, userID string, e event.Event) error {
	p, err := event.Decode[event.Subject](e)
	if err != nil {
		return err
	}
	deleted, err := u.follows.Delete(u.ctx, userID, p.SubjectID)
	if err != nil {
		return err
	}
	if !deleted {
		return apperrors.ErrFollowNotFound
	}
	u.recordDelete(model.EntityFollows, "", model.ReactionKey(userID, p.SubjectID))
	if err := u.bumpUser(userID, "follows_count", -1); err != nil {
		return err
	}
	return u.bumpUser(p.SubjectID, "followers_count", -1)
}

// markNotificationsSeen 水位只前进；未前进时也记录用户行，客户端才能等到这个 txid
func markNotificationsSeen(u *unit, userID string, e event.Event) error {
	p, err := event.Decode[event.MarkSeen](e)
	if err != nil {
		return err
	}
	if _, err := u.users.RaiseLastSeen(u.ctx, userID, p.NotificationID); err != nil {
		return err
	}
	return u.touchUser(userID)
}

func (u *unit) bumpPost(id, column string, delta int) error {
	if err := u.posts.AddCounter(u.ctx, id, column, delta); err != nil {
		return err
	}
	return u.touchPost(id)
}

func (u *unit) bumpUser(id, column string, delta int) error {
	if err := u.users.AddCounter(u.ctx, id, column, delta); err != nil {
		return err
	}
	return u.touchUser(id)
}
