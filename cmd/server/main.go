// @title feedsync API
// @version 1.0
// @description 社交 feed 同步服务：事件写入 + shape 订阅
// @host localhost:8080
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/feedsync/config"
	"github.com/d60-Lab/feedsync/internal/api"
	"github.com/d60-Lab/feedsync/internal/api/handler"
	"github.com/d60-Lab/feedsync/internal/service"
	"github.com/d60-Lab/feedsync/internal/shapecache"
	"github.com/d60-Lab/feedsync/pkg/auth"
	"github.com/d60-Lab/feedsync/pkg/database"
	"github.com/d60-Lab/feedsync/pkg/logger"
	"github.com/d60-Lab/feedsync/pkg/metrics"
	"github.com/d60-Lab/feedsync/pkg/tracing"
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

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		logger.L().Fatal("init tracing", zap.Error(err))
	}
	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.Sentry.DSN, Environment: cfg.Sentry.Environment}); err != nil {
			logger.L().Fatal("init sentry", zap.Error(err))
		}
		defer sentry.Flush(2 * time.Second)
	}

	db, err := database.InitDB(cfg.Database)
	if err != nil {
		logger.L().Fatal("init database", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	hub := service.NewHub()
	writer := service.NewWriter(db, hub)

	var (
		rdb   *redis.Client
		cache service.SnapshotCache
	)
	stoppers := []func(context.Context) error{}
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.L().Fatal("connect redis", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		defer rdb.Close()

		pub := service.NewChangePublisher(rdb, cfg.Redis.Channel, cfg.Sync.PublishQueue, m)
		writer.AddSink(pub)
		stoppers = append(stoppers, pub.Start(cfg.Sync.PublishWorkers))
		go drainLatency(ctx, pub.Metrics())

		cache = shapecache.New(rdb, cfg.Redis.SnapshotTTL)
	}
	// 没有 redis 时只靠轮询发现其它实例的写入
	watcher := service.NewChangeWatcher(db, hub, rdb, cfg.Redis.Channel, cfg.Sync.PollInterval)
	stoppers = append(stoppers, watcher.Start())

	tokens := auth.NewManager(cfg.JWT)
	uploads, err := service.NewUploadService(cfg.Upload)
	if err != nil {
		logger.L().Fatal("init uploads", zap.Error(err))
	}
	h := handler.NewHandler(handler.Deps{
		Events:        service.NewEventService(writer, m),
		Shapes:        service.NewShapeService(db, hub, cfg.Sync, cache, m),
		Auth:          service.NewAuthService(db, writer, tokens),
		Uploads:       uploads,
		Relationships: service.NewRelationshipService(db),
		Metrics:       m,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           api.NewRouter(cfg, h, tokens, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("server started", zap.String("addr", srv.Addr), zap.String("db", cfg.Database.Driver), zap.Bool("redis", rdb != nil))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L().Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	for _, s := range stoppers {
		if err := s(shutdownCtx); err != nil {
			logger.Warn("stop worker", zap.Error(err))
		}
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
}

// drainLatency 发布延迟超过 1s 时告警
func drainLatency(ctx context.Context, ch <-chan time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-ch:
			if d > time.Second {
				logger.Warn("slow change publish", zap.Duration("latency", d))
			}
		}
	}
}
