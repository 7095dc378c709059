package service

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/d60-Lab/feedsync/config"
	"github.com/d60-Lab/feedsync/internal/model"
	"github.com/d60-Lab/feedsync/internal/repository"
	"github.com/d60-Lab/feedsync/internal/shape"
	apperrors "github.com/d60-Lab/feedsync/pkg/errors"
	"github.com/d60-Lab/feedsync/pkg/metrics"
)

// 请求模式（指标标签）
const (
	ModeSnapshot    = "snapshot"
	ModeChanges     = "changes"
	ModeLive        = "live"
	ModeMustRefetch = "must_refetch"
)

// ShapeRequest GET /api/:entity 的参数；Viewer 用于服务端追加的可见性过滤
type ShapeRequest struct {
	Entity string
	Viewer string
	Offset int64
	Live   bool
}

// SnapshotCache 快照缓存：offset 即变更水位，任何写入都会产生新的 key
type SnapshotCache interface {
	Get(ctx context.Context, entity, scope string, offset int64) ([]shape.Message, bool)
	Set(ctx context.Context, entity, scope string, offset int64, msgs []shape.Message)
}

type ShapeService interface {
	Fetch(ctx context.Context, req ShapeRequest) ([]shape.Message, error)
}

type loader func(db *gorm.DB, scope string) ([]model.Entity, error)

// scopeColumn 为空表示公共 shape
func loadAll[T model.Entity](scopeColumn string) loader {
	return func(db *gorm.DB, scope string) ([]model.Entity, error) {
		var rows []T
		q := db
		if scopeColumn != "" {
			q = q.Where(scopeColumn+" = ?", scope)
		}
		if err := q.Find(&rows).Error; err != nil {
			return nil, err
		}
		out := make([]model.Entity, len(rows))
		for i := range rows {
			out[i] = rows[i]
		}
		return out, nil
	}
}

var loaders = map[string]loader{
	model.EntityUsers:         loadAll[model.User](""),
	model.EntityPosts:         loadAll[model.Post](""),
	model.EntityFeedItems:     loadAll[model.FeedItem](""),
	model.EntityLikes:         loadAll[model.Like](""),
	model.EntityReposts:       loadAll[model.Repost](""),
	model.EntityFollows:       loadAll[model.Follow](""),
	model.EntityBookmarks:     loadAll[model.Bookmark]("creator_id"),
	model.EntityNotifications: loadAll[model.Notification]("recipient_id"),
}

// scoped 只对会话用户可见的 shape
func scoped(entity string) bool {
	return entity == model.EntityBookmarks || entity == model.EntityNotifications
}

type shapeService struct {
	db          *gorm.DB
	changes     repository.ChangeRepository
	hub         *Hub
	cache       SnapshotCache
	metrics     *metrics.Metrics
	pollTimeout time.Duration
	batchSize   int
}

// NewShapeService cache 可以为 nil
func NewShapeService(db *gorm.DB, hub *Hub, cfg config.SyncConfig, cache SnapshotCache, m *metrics.Metrics) ShapeService {
	if m == nil {
		m = metrics.Nop()
	}
	if cfg.LongPollTimeout <= 0 {
		cfg.LongPollTimeout = 20 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &shapeService{
		db:          db,
		changes:     repository.NewChangeRepository(db),
		hub:         hub,
		cache:       cache,
		metrics:     m,
		pollTimeout: cfg.LongPollTimeout,
		batchSize:   cfg.BatchSize,
	}
}

func (s *shapeService) Fetch(ctx context.Context, req ShapeRequest) ([]shape.Message, error) {
	load, ok := loaders[req.Entity]
	if !ok {
		return nil, apperrors.NotFound("unknown shape " + req.Entity)
	}
	scope := ""
	if scoped(req.Entity) {
		if req.Viewer == "" {
			return nil, apperrors.Unauthorized("shape " + req.Entity + " requires a session")
		}
		scope = req.Viewer
	}

	latest, err := s.changes.Latest(ctx)
	if err != nil {
		return nil, err
	}
	s.hub.Notify(latest)

	switch {
	case req.Offset < 0:
		s.metrics.ShapeRequests.WithLabelValues(req.Entity, ModeSnapshot).Inc()
		return s.snapshot(ctx, req.Entity, scope, latest, load)
	case req.Offset > latest:
		// 客户端的 offset 不属于当前日志（库被重建），要求重新拉取
		s.metrics.ShapeRequests.WithLabelValues(req.Entity, ModeMustRefetch).Inc()
		return []shape.Message{{Headers: shape.Headers{Control: shape.ControlMustRefetch}, Offset: latest}}, nil
	}

	msgs, err := s.changesAfter(ctx, req.Entity, scope, req.Offset, latest)
	if err != nil || len(msgs) > 1 || !req.Live {
		s.metrics.ShapeRequests.WithLabelValues(req.Entity, ModeChanges).Inc()
		return msgs, err
	}

	// 只有 up-to-date：挂起等待新变更或超时
	s.metrics.ShapeRequests.WithLabelValues(req.Entity, ModeLive).Inc()
	waitCtx, cancel := context.WithTimeout(ctx, s.pollTimeout)
	defer cancel()
	if !s.hub.Wait(waitCtx, latest) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return msgs, nil
	}
	if latest, err = s.changes.Latest(ctx); err != nil {
		return nil, err
	}
	return s.changesAfter(ctx, req.Entity, scope, req.Offset, latest)
}

// snapshot 先读水位再读行：水位之后的变更会再次下发，客户端按 key 幂等应用
func (s *shapeService) snapshot(ctx context.Context, entity, scope string, latest int64, load loader) ([]shape.Message, error) {
	if s.cache != nil {
		if msgs, ok := s.cache.Get(ctx, entity, scope, latest); ok {
			return msgs, nil
		}
	}
	rows, err := load(s.db.WithContext(ctx), scope)
	if err != nil {
		return nil, err
	}
	msgs := make([]shape.Message, 0, len(rows)+1)
	for _, r := range rows {
		raw, err := json.Marshal(r)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, shape.Message{
			Headers: shape.Headers{Operation: model.OpInsert},
			Key:     r.Key(),
			Value:   raw,
			Offset:  latest,
		})
	}
	msgs = append(msgs, shape.UpToDate(latest))
	if s.cache != nil {
		s.cache.Set(ctx, entity, scope, latest, msgs)
	}
	return msgs, nil
}

// changesAfter 批次未满时以 up-to-date(latest) 结尾；满批时客户端从最后一条继续
func (s *shapeService) changesAfter(ctx context.Context, entity, scope string, offset, latest int64) ([]shape.Message, error) {
	rows, err := s.changes.After(ctx, entity, scope, offset, latest, s.batchSize)
	if err != nil {
		return nil, err
	}
	msgs := make([]shape.Message, 0, len(rows)+1)
	for _, c := range rows {
		m := shape.Message{
			Headers: shape.Headers{Operation: c.Op, TxIDs: []int64{c.TxID}},
			Key:     c.Key,
			Offset:  c.ID,
		}
		if c.Op != model.OpDelete {
			m.Value = json.RawMessage(c.Value)
		}
		msgs = append(msgs, m)
	}
	if len(rows) < s.batchSize {
		msgs = append(msgs, shape.UpToDate(latest))
	}
	return msgs, nil
}
