// feedbench 写入压测：N 个粉丝关注作者，作者发 POSTS 条帖子、粉丝点赞，
// 统计事件事务延迟、redis 广播延迟，最后在进程内同步全部 shape 并测量时间线组装耗时。
package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/d60-Lab/feedsync/config"
	"github.com/d60-Lab/feedsync/internal/event"
	"github.com/d60-Lab/feedsync/internal/model"
	"github.com/d60-Lab/feedsync/internal/query"
	"github.com/d60-Lab/feedsync/internal/service"
	"github.com/d60-Lab/feedsync/internal/shape"
	"github.com/d60-Lab/feedsync/internal/store"
	"github.com/d60-Lab/feedsync/pkg/database"
	"github.com/d60-Lab/feedsync/pkg/logger"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func mustDo(err error) {
	if err != nil {
		panic(err)
	}
}

func pct(vs []time.Duration, p float64) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	xs := append([]time.Duration(nil), vs...)
	sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
	k := int(math.Ceil(p*float64(len(xs)))) - 1
	if k < 0 {
		k = 0
	}
	if k >= len(xs) {
		k = len(xs) - 1
	}
	return xs[k]
}

func avg(vs []time.Duration) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range vs {
		sum += d
	}
	return sum / time.Duration(len(vs))
}

func envInt(name string, def int) int {
	if s := os.Getenv(name); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			return v
		}
	}
	return def
}

func main() {
	cfg := must(config.Load())
	_ = logger.Init("warn", false)
	db := must(database.InitDB(cfg.Database))
	ctx := context.Background()

	// params
	N := envInt("N", 2000)        // 粉丝数
	POSTS := envInt("POSTS", 100) // 作者发帖数
	LIKES := envInt("LIKES", 5)   // 每条帖子的点赞数

	// 本地压测，清表保证可复现
	if database.IsPostgres(db) {
		_ = db.Exec("TRUNCATE TABLE changes, txns, notifications, feed_items, likes, reposts, bookmarks, follows, posts, users RESTART IDENTITY CASCADE").Error
	}

	hub := service.NewHub()
	writer := service.NewWriter(db, hub)
	events := service.NewEventService(writer, nil)

	var pub *service.ChangePublisher
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		pub = service.NewChangePublisher(rdb, cfg.Redis.Channel, cfg.Sync.PublishQueue, nil)
		writer.AddSink(pub)
		stop := pub.Start(cfg.Sync.PublishWorkers)
		defer stop(ctx)
	}

	// seed one author and N fans
	author := model.User{ID: uuid.NewString(), Username: "author0", CreatedAt: time.Now().UTC()}
	mustDo(db.Create(&author).Error)
	fans := make([]model.User, N)
	for i := range fans {
		id := uuid.NewString()
		fans[i] = model.User{ID: id, Username: "u" + id[:8], CreatedAt: time.Now().UTC()}
	}
	mustDo(db.CreateInBatches(&fans, 1000).Error)

	send := func(user, typ string, payload any) time.Duration {
		e := must(event.New(typ, payload))
		st := time.Now()
		if _, err := events.Handle(ctx, user, e); err != nil {
			panic(err)
		}
		return time.Since(st)
	}

	followDurations := make([]time.Duration, 0, N)
	for _, f := range fans {
		followDurations = append(followDurations, send(f.ID, event.UserFollow, event.Subject{SubjectID: author.ID}))
	}

	postDurations := make([]time.Duration, 0, POSTS)
	likeDurations := make([]time.Duration, 0, POSTS*LIKES)
	for i := 0; i < POSTS; i++ {
		id := uuid.NewString()
		postDurations = append(postDurations, send(author.ID, event.PostCreate, event.CreatePost{ID: id, Content: fmt.Sprintf("hello %d", i)}))
		for j := 0; j < LIKES && j < N; j++ {
			likeDurations = append(likeDurations, send(fans[(i+j)%N].ID, event.PostLike, event.Subject{SubjectID: id}))
		}
	}

	// output
	fmt.Printf("N=%d POSTS=%d LIKES=%d db=%s\n", N, POSTS, LIKES, cfg.Database.Driver)
	fmt.Printf("Follow tx latency: avg=%v p95=%v p99=%v\n", avg(followDurations), pct(followDurations, 0.95), pct(followDurations, 0.99))
	fmt.Printf("Post tx latency:   avg=%v p95=%v p99=%v\n", avg(postDurations), pct(postDurations, 0.95), pct(postDurations, 0.99))
	fmt.Printf("Like tx latency:   avg=%v p95=%v p99=%v\n", avg(likeDurations), pct(likeDurations, 0.95), pct(likeDurations, 0.99))

	if pub != nil {
		// 广播是合并的，样本数小于事件数
		var land []time.Duration
		timeout := time.After(2 * time.Second)
	COLLECT:
		for {
			select {
			case d := <-pub.Metrics():
				land = append(land, d)
			case <-timeout:
				break COLLECT
			}
		}
		fmt.Printf("Redis publish (commit->publish): samples=%d avg=%v p95=%v p99=%v queue=%d\n",
			len(land), avg(land), pct(land, 0.95), pct(land, 0.99), pub.QueueLen())
	}

	// 进程内同步一个粉丝视角的全部 shape，测量快照与组装
	shapes := service.NewShapeService(db, hub, cfg.Sync, nil, nil)
	reg := store.NewRegistry()
	viewer := fans[0].ID
	st := time.Now()
	rows := 0
	for _, c := range reg.Syncables() {
		c.BeginSync()
		msgs := must(shapes.Fetch(ctx, service.ShapeRequest{Entity: c.Name(), Viewer: viewer, Offset: shape.OffsetBeforeAll}))
		if err := c.ApplySync(msgs); err != nil {
			panic(err)
		}
		c.MarkReady()
		rows += len(msgs) - 1
	}
	fmt.Printf("Snapshot sync (viewer=fan0): %v, rows=%d\n", time.Since(st), rows)

	st = time.Now()
	timeline := query.NewInfinite(reg, query.FeedFilter{Kind: query.FeedHome, Viewer: viewer}, 50)
	groups := timeline.Groups()
	fmt.Printf("Timeline assemble (first page, limit=50): %v, groups=%d\n", time.Since(st), len(groups))
	timeline.Close()

	st = time.Now()
	inbox := query.LiveNotifications(reg, author.ID)
	n := inbox.Result()
	fmt.Printf("Notification grouping (author): %v, groups=%d newest=%d\n", time.Since(st), len(n.Groups), n.NewestID)
	inbox.Close()
}
