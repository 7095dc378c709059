// feedtail 无界面客户端：同步全部集合，实时打印首页时间线与分组后的通知。
// 没有配置令牌时先匿名注册。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/feedsync/config"
	"github.com/d60-Lab/feedsync/internal/action"
	"github.com/d60-Lab/feedsync/internal/feed"
	"github.com/d60-Lab/feedsync/internal/model"
	"github.com/d60-Lab/feedsync/internal/notification"
	"github.com/d60-Lab/feedsync/internal/query"
	"github.com/d60-Lab/feedsync/internal/store"
	"github.com/d60-Lab/feedsync/internal/syncclient"
	"github.com/d60-Lab/feedsync/pkg/auth"
	"github.com/d60-Lab/feedsync/pkg/logger"
	"github.com/d60-Lab/feedsync/pkg/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Development); err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cc := cfg.Client
	viewer := ""
	if cc.Token == "" {
		u, token, err := syncclient.SignUp(ctx, cc.BaseURL, nil)
		if err != nil {
			logger.L().Fatal("anonymous sign up", zap.Error(err))
		}
		cc.Token, viewer = token, u.ID
		fmt.Printf("signed up as @%s (%s)\n", u.Username, u.Name)
	} else {
		// 令牌签名由服务端校验，这里只取出用户 ID
		viewer, err = auth.NewManager(cfg.JWT).Parse(cc.Token)
		if err != nil {
			logger.L().Fatal("parse client token", zap.Error(err))
		}
	}

	reg := store.NewRegistry()
	stopSync := syncclient.Start(ctx, reg, syncclient.NewSubscriber(syncclient.NewSource(cc)), true)
	defer stopSync()

	pctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = reg.PreloadAll(pctx)
	cancel()
	if err != nil {
		logger.L().Fatal("preload", zap.Error(err))
	}

	runner := action.NewRunner(reg, action.NewHTTPSender(cc.BaseURL, cc.Token, nil),
		action.WithConfirmTimeout(cc.ConfirmTimeout),
		action.WithToggleDebounce(cc.ToggleDebounce),
		action.WithMetrics(metrics.Nop()))
	runner.OnSettled(func(a action.Action, err error) {
		if err != nil {
			fmt.Printf("! %s failed: %v\n", a.Name(), err)
		}
	})
	watermark := notification.NewWatermark(runner, viewer)

	timeline := query.NewInfinite(reg, query.FeedFilter{Kind: query.FeedHome, Viewer: viewer}, cc.PageSize)
	defer timeline.Close()
	inbox := query.LiveNotifications(reg, viewer)
	defer inbox.Close()

	redraw := make(chan struct{}, 1)
	poke := func() {
		select {
		case redraw <- struct{}{}:
		default:
		}
	}
	defer timeline.Subscribe(poke)()
	defer inbox.Subscribe(func(query.Notifications) { poke() })()
	poke()

	for {
		select {
		case <-ctx.Done():
			return
		case <-redraw:
			printFeed(reg, viewer, timeline.Groups())
			n := inbox.Result()
			printNotifications(n)
			// 打印即视为已读
			go watermark.Advance(ctx, n.LastSeen, n.NewestID)
		}
	}
}

func printFeed(reg *store.Registry, viewer string, groups []feed.Group) {
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("home (%d)\n", len(groups))
	for _, g := range groups {
		if g.IsRepost() {
			fmt.Printf("  ↻ reposted by %s\n", g.RepostedBy())
		}
		for _, it := range g.Items {
			if it.ThreadGap {
				fmt.Println("    ⋮ view full thread")
			}
			e := query.EngagementOf(reg, viewer, it.Post.ID)
			fmt.Printf("  %s%s: %s  [♥%d%s ↻%d%s ↩%d]\n",
				indent(it.Role), handle(it.User), it.Post.Content,
				it.Post.LikeCount, mark(e.Liked), it.Post.RepostCount, mark(e.Reposted), it.Post.ReplyCount)
		}
	}
}

func printNotifications(n query.Notifications) {
	fmt.Printf("notifications (%d groups, last seen %d)\n", len(n.Groups), n.LastSeen)
	for _, g := range n.Groups {
		dot := " "
		if g.Unread {
			dot = "•"
		}
		who := handle(g.Actor)
		if extra := len(g.AdditionalUsers); extra > 0 {
			who = fmt.Sprintf("%s and %d others", who, extra)
		}
		fmt.Printf("  %s %s %s\n", dot, who, g.Reason())
	}
}

func indent(r feed.Role) string {
	switch r {
	case feed.RoleParent:
		return "  "
	case feed.RoleChild:
		return "    "
	}
	return ""
}

func handle(u *model.User) string {
	if u == nil {
		return "@?"
	}
	return "@" + u.Username
}

func mark(on bool) string {
	if on {
		return "*"
	}
	return ""
}
