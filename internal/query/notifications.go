package query

import (
	"sort"

	"github.com/d60-Lab/feedsync/internal/model"
	"github.com/d60-Lab/feedsync/internal/notification"
	"github.com/d60-Lab/feedsync/internal/store"
)

// NotificationDeps 通知查询依赖的集合
var NotificationDeps = []string{model.EntityNotifications, model.EntityUsers, model.EntityPosts}

// NotificationRows 接收者的通知按 id 降序，连接发起者、关联帖子；回复再连接父帖。
// 必须在读 tick 内调用。
func NotificationRows(reg *store.Registry, recipient string) []notification.Row {
	ns := reg.Notifications.QueryLocked(func(n model.Notification) bool { return n.RecipientID == recipient })
	sort.Slice(ns, func(i, j int) bool { return ns[i].ID > ns[j].ID })

	rows := make([]notification.Row, 0, len(ns))
	for _, n := range ns {
		row := notification.Row{Notification: n}
		if u, ok := reg.Users.GetLocked(n.CreatorID); ok {
			row.Actor = &u
		}
		if id := n.SubjectID(); id != "" {
			if p, ok := reg.Posts.GetLocked(id); ok {
				row.Post = &p
				if n.Reason == model.ReasonReply && p.IsReply() {
					if parent, ok := reg.Posts.GetLocked(p.ParentID()); ok {
						row.ReplyParent = &parent
					}
				}
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// Notifications 通知页：分组结果与最新 ID
type Notifications struct {
	Groups   []notification.Group
	NewestID int64
	LastSeen int64
}

// LiveNotifications 接收者通知的实时分组
func LiveNotifications(reg *store.Registry, recipient string) *Live[Notifications] {
	return NewLive(reg, func(reg *store.Registry) Notifications {
		var lastSeen int64
		if u, ok := reg.Users.GetLocked(recipient); ok {
			lastSeen = u.LastSeenNotificationID
		}
		rows := NotificationRows(reg, recipient)
		return Notifications{
			Groups:   notification.Build(rows, lastSeen),
			NewestID: notification.NewestID(rows),
			LastSeen: lastSeen,
		}
	}, NotificationDeps...)
}
