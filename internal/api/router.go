// Package api 组装 gin 路由
package api

import (
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/d60-Lab/feedsync/config"
	_ "github.com/d60-Lab/feedsync/docs"
	"github.com/d60-Lab/feedsync/internal/api/handler"
	"github.com/d60-Lab/feedsync/internal/api/middleware"
	"github.com/d60-Lab/feedsync/pkg/auth"
)

// NewRouter reg 为 nil 时不挂 /metrics
func NewRouter(cfg *config.Config, h *handler.Handler, tokens *auth.Manager, reg *prometheus.Registry) *gin.Engine {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Logger())
	if cfg.Sentry.DSN != "" {
		r.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	}
	if cfg.Tracing.Enabled {
		r.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	}
	// websocket 升级不能被 gzip 包装
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPathsRegexs([]string{`.*/ws$`})))

	r.GET("/healthz", h.Healthz)
	if reg != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	if cfg.Upload.Dir != "" {
		r.Static(cfg.Upload.PublicURL, cfg.Upload.Dir)
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit.EventsPerSecond, cfg.RateLimit.Burst)

	api := r.Group("/api", middleware.Auth(tokens, false))
	{
		api.POST("/auth/anonymous", h.Anonymous)
		api.GET("/auth/session", h.Session)

		api.POST("/events", middleware.RequireUser(), limiter.Middleware(), h.CreateEvent)
		api.POST("/uploads", middleware.RequireUser(), h.Upload)

		api.GET("/users/:user_id/following", h.ListFollowing)
		api.GET("/users/:user_id/followers", h.ListFollowers)

		api.GET("/:entity", h.GetShape)
		api.GET("/:entity/ws", h.StreamShape)
	}
	return r
}
