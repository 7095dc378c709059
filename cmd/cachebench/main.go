// cachebench 快照缓存压测：同一水位下 CLIENTS 个客户端请求 posts 快照，
// 对比直接查库与经 redis 快照缓存的延迟，以及写入推进水位后的首个未命中。
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
	"github.com/d60-Lab/feedsync/internal/service"
	"github.com/d60-Lab/feedsync/internal/shape"
	"github.com/d60-Lab/feedsync/internal/shapecache"
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

func main() {
	ctx := context.Background()
	cfg := must(config.Load())
	db := must(database.InitDB(cfg.Database))

	POSTS := envInt("POSTS", 5000)
	CLIENTS := envInt("CLIENTS", 200)

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = cfg.Redis.Addr
	}
	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		panic(fmt.Sprintf("redis %s: %v", redisAddr, err))
	}

	hub := service.NewHub()
	writer := service.NewWriter(db, hub)
	events := service.NewEventService(writer, nil)

	fmt.Println("Setting up test data...")
	author := model.User{ID: uuid.NewString(), Username: "cache-" + uuid.NewString()[:8], CreatedAt: time.Now().UTC()}
	if err := db.Create(&author).Error; err != nil {
		panic(err)
	}
	for i := 0; i < POSTS; i++ {
		e := must(event.New(event.PostCreate, event.CreatePost{ID: uuid.NewString(), Content: fmt.Sprintf("post %d", i)}))
		if _, err := events.Handle(ctx, author.ID, e); err != nil {
			panic(err)
		}
	}
	fmt.Printf("Test data ready: %d posts\n", POSTS)

	cache := shapecache.New(client, cfg.Redis.SnapshotTTL)
	scenarios := []struct {
		name  string
		cache service.SnapshotCache
	}{
		{"db", nil},
		{"redis-snapshot", cache},
	}

	req := service.ShapeRequest{Entity: model.EntityPosts, Offset: shape.OffsetBeforeAll}
	for _, sc := range scenarios {
		shapes := service.NewShapeService(db, hub, cfg.Sync, sc.cache, nil)
		cache.ResetStats()
		durs := make([]time.Duration, 0, CLIENTS)
		rows := 0
		for i := 0; i < CLIENTS; i++ {
			st := time.Now()
			msgs := must(shapes.Fetch(ctx, req))
			durs = append(durs, time.Since(st))
			rows = len(msgs) - 1
		}
		stats := cache.Stats()
		fmt.Printf("%-16s avg=%v p95=%v p99=%v rows=%d hits=%d misses=%d\n",
			sc.name, avg(durs), pct(durs, 0.95), pct(durs, 0.99), rows, stats.Hits, stats.Misses)
	}

	// 一次写入推进水位，下一个请求必然未命中
	shapes := service.NewShapeService(db, hub, cfg.Sync, cache, nil)
	e := must(event.New(event.PostCreate, event.CreatePost{ID: uuid.NewString(), Content: "bump"}))
	if _, err := events.Handle(ctx, author.ID, e); err != nil {
		panic(err)
	}
	cache.ResetStats()
	st := time.Now()
	must(shapes.Fetch(ctx, req))
	miss := time.Since(st)
	st = time.Now()
	must(shapes.Fetch(ctx, req))
	hit := time.Since(st)
	stats := cache.Stats()
	fmt.Printf("after write: first=%v second=%v hits=%d misses=%d\n", miss, hit, stats.Hits, stats.Misses)
}
