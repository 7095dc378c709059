// Package handler HTTP 处理器
package handler

import (
	"time"

	"github.com/d60-Lab/feedsync/internal/service"
	"github.com/d60-Lab/feedsync/pkg/metrics"
)

type Handler struct {
	eventService  service.EventService
	shapeService  service.ShapeService
	authService   service.AuthService
	uploadService service.UploadService
	relService    service.RelationshipService
	metrics       *metrics.Metrics

	pingInterval time.Duration
}

// Deps 处理器依赖；UploadService 可为 nil（关闭上传）
type Deps struct {
	Events        service.EventService
	Shapes        service.ShapeService
	Auth          service.AuthService
	Uploads       service.UploadService
	Relationships service.RelationshipService
	Metrics       *metrics.Metrics
}

func NewHandler(d Deps) *Handler {
	m := d.Metrics
	if m == nil {
		m = metrics.Nop()
	}
	return &Handler{
		eventService:  d.Events,
		shapeService:  d.Shapes,
		authService:   d.Auth,
		uploadService: d.Uploads,
		relService:    d.Relationships,
		metrics:       m,
		pingInterval:  30 * time.Second,
	}
}
