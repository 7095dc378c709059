// relbench 关注写入压测：CONC 个并发会话关注同一个用户，
// 对比事件路径（事务 + 变更日志 + 计数器 + 通知）与裸插入，再测关系列表与变更日志追赶。
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

	"github.com/d60-Lab/feedsync/config"
	"github.com/d60-Lab/feedsync/internal/event"
	"github.com/d60-Lab/feedsync/internal/model"
	"github.com/d60-Lab/feedsync/internal/repository"
	"github.com/d60-Lab/feedsync/internal/service"
	"github.com/d60-Lab/feedsync/pkg/database"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func envInt(name string, def int) int {
	if s := os.Getenv(name); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			return v
		}
	}
	return def
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

func main() {
	cfg := must(config.Load())
	db := must(database.InitDB(cfg.Database))
	ctx := context.Background()

	N := envInt("N", 5000)
	CONC := envInt("CONC", 8)
	PAGE := envInt("PAGE", 50)

	hub := service.NewHub()
	writer := service.NewWriter(db, hub)
	events := service.NewEventService(writer, nil)
	followRepo := repository.NewFollowRepository(db)
	changes := repository.NewChangeRepository(db)
	relSvc := service.NewRelationshipService(db)
	startOffset := must(changes.Latest(ctx))

	// seed users: celeb 被所有人关注
	celeb := model.User{ID: uuid.NewString(), Username: "celeb-" + uuid.NewString()[:8], CreatedAt: time.Now().UTC()}
	if err := db.Create(&celeb).Error; err != nil {
		panic(err)
	}
	users := make([]model.User, N)
	for i := range users {
		id := uuid.NewString()
		users[i] = model.User{ID: id, Username: "u" + id[:8], CreatedAt: time.Now().UTC()}
	}
	if err := db.CreateInBatches(&users, 1000).Error; err != nil {
		panic(err)
	}

	follow := must(event.New(event.UserFollow, event.Subject{SubjectID: celeb.ID}))

	// 事件路径：写入在 Writer 内串行，CONC 只增加排队
	workers := CONC
	if workers > N {
		workers = N
	}
	feed := make(chan int, N)
	for i := 0; i < N; i++ {
		feed <- i
	}
	close(feed)
	recCh := make(chan time.Duration, N)
	done := make(chan struct{}, workers)
	t0 := time.Now()
	for w := 0; w < workers; w++ {
		go func() {
			for i := range feed {
				st := time.Now()
				if _, err := events.Handle(ctx, users[i].ID, follow); err != nil {
					panic(err)
				}
				recCh <- time.Since(st)
			}
			done <- struct{}{}
		}()
	}
	for w := 0; w < workers; w++ {
		<-done
	}
	close(recCh)
	eventDur := time.Since(t0)
	recs := make([]time.Duration, 0, N)
	for d := range recCh {
		recs = append(recs, d)
	}

	// 裸插入：反方向关注，不记变更日志
	t1 := time.Now()
	for i := 0; i < N; i++ {
		if _, _, err := followRepo.Create(ctx, celeb.ID, users[i].ID); err != nil {
			panic(err)
		}
	}
	bareDur := time.Since(t1)

	// queries
	q0 := time.Now()
	followers := must(relSvc.ListFollowers(ctx, celeb.ID, 1, PAGE))
	fansDur := time.Since(q0)
	q1 := time.Now()
	following := must(relSvc.ListFollowing(ctx, celeb.ID, 1, PAGE))
	follDur := time.Since(q1)

	// 订阅者从压测前的水位追赶 follows shape
	q2 := time.Now()
	caught := 0
	for offset := startOffset; ; {
		batch := must(changes.After(ctx, model.EntityFollows, "", offset, 0, cfg.Sync.BatchSize))
		if len(batch) == 0 {
			break
		}
		caught += len(batch)
		offset = batch[len(batch)-1].ID
	}
	catchDur := time.Since(q2)

	fmt.Printf("N=%d, CONC=%d, PAGE=%d\n", N, CONC, PAGE)
	fmt.Printf("Event follow total: %v, per op: %v, p50: %v, p95: %v, p99: %v\n",
		eventDur, eventDur/time.Duration(N), pct(recs, 0.50), pct(recs, 0.95), pct(recs, 0.99))
	fmt.Printf("Bare insert total: %v, per op: %v\n", bareDur, bareDur/time.Duration(N))
	fmt.Printf("Query followers(%d) latency: %v rows=%d\n", PAGE, fansDur, len(followers))
	fmt.Printf("Query following(%d) latency: %v rows=%d\n", PAGE, follDur, len(following))
	fmt.Printf("Change log catch-up (follows): %v, changes=%d, hub latest=%d\n", catchDur, caught, hub.Latest())
}
