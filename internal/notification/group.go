// Package notification 通知分组与已读水位
package notification

import (
	"strconv"
	"time"

	"github.com/d60-Lab/feedsync/internal/model"
)

const (
	// Window 同一分组内相邻通知的最大时间差
	Window = 48 * time.Hour
	// MaxAvatars 分组最多展示的头像数，超出部分显示 +N
	MaxAvatars = 4
)

// Row 通知连接结果：通知 + 发起者 + 关联帖子；回复通知带被回复的父帖
type Row struct {
	Notification model.Notification
	Actor        *model.User
	Post         *model.Post
	ReplyParent  *model.Post
}

// Group 一组合并后的通知
type Group struct {
	// Notification 组内最新的一条
	Notification    model.Notification
	Actor           *model.User
	AdditionalUsers []*model.User
	Members         []model.Notification
	Post            *model.Post
	ReplyParent     *model.Post
	Unread          bool
}

func (g Group) Reason() string { return g.Notification.Reason }

// Key 以最新通知 ID 作为行身份
func (g Group) Key() string { return strconv.FormatInt(g.Notification.ID, 10) }

// RendersAsPost 回复通知直接按帖子渲染
func (g Group) RendersAsPost() bool { return g.Notification.Reason == model.ReasonReply }

// Users 全部发起者，最新的在前
func (g Group) Users() []*model.User {
	out := make([]*model.User, 0, 1+len(g.AdditionalUsers))
	if g.Actor != nil {
		out = append(out, g.Actor)
	}
	return append(out, g.AdditionalUsers...)
}

// Avatars 最多 MaxAvatars 个头像
func (g Group) Avatars() []*model.User {
	users := g.Users()
	if len(users) > MaxAvatars {
		return users[:MaxAvatars]
	}
	return users
}

// Overflow 超出头像上限的人数（+N）
func (g Group) Overflow() int {
	if n := len(g.Users()) - MaxAvatars; n > 0 {
		return n
	}
	return 0
}

func groupable(reason string) bool {
	return reason == model.ReasonLike || reason == model.ReasonRepost
}

// Build 按 id 降序的通知合并成分组：like / repost 且 reason 与 subject 相同、
// 与组内最新一条相差不超过 48 小时的通知并入已有分组；回复与关注各自成组。
func Build(rows []Row, lastSeenID int64) []Group {
	var groups []Group
	for _, row := range rows {
		n := row.Notification
		if groupable(n.Reason) {
			if i := match(groups, n); i >= 0 {
				g := &groups[i]
				g.Members = append(g.Members, n)
				if row.Actor != nil {
					g.AdditionalUsers = append(g.AdditionalUsers, row.Actor)
				}
				continue
			}
		}
		groups = append(groups, Group{
			Notification: n,
			Actor:        row.Actor,
			Members:      []model.Notification{n},
			Post:         row.Post,
			ReplyParent:  row.ReplyParent,
			Unread:       n.ID > lastSeenID,
		})
	}
	return groups
}

func match(groups []Group, n model.Notification) int {
	for i, g := range groups {
		head := g.Notification
		if !groupable(head.Reason) || head.Reason != n.Reason || head.SubjectID() != n.SubjectID() {
			continue
		}
		if within(head.CreatedAt, n.CreatedAt) {
			return i
		}
	}
	return -1
}

func within(a, b time.Time) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= Window
}

// NewestID 最新通知 ID，无通知为 0
func NewestID(rows []Row) int64 {
	var newest int64
	for _, r := range rows {
		newest = max(newest, r.Notification.ID)
	}
	return newest
}
