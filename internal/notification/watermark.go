package notification

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/d60-Lab/feedsync/internal/action"
	"github.com/d60-Lab/feedsync/pkg/logger"
)

// ActionRunner action.Runner 的最小接口
type ActionRunner interface {
	Run(ctx context.Context, a action.Action) (int64, error)
}

// Watermark 推进 last_seen_notification_id；同一时刻至多一次写
type Watermark struct {
	runner ActionRunner
	viewer string

	mu       sync.Mutex
	inFlight bool
	sent     int64
}

func NewWatermark(runner ActionRunner, viewer string) *Watermark {
	return &Watermark{runner: runner, viewer: viewer}
}

// Advance newestID 超过 lastSeen 时发出一次 mark_notifications_seen。
// 已有写在进行中或该 ID 已发送过则直接返回 false。
func (w *Watermark) Advance(ctx context.Context, lastSeen, newestID int64) (bool, error) {
	w.mu.Lock()
	if newestID <= lastSeen || newestID <= w.sent || w.inFlight {
		w.mu.Unlock()
		return false, nil
	}
	w.inFlight = true
	w.mu.Unlock()

	_, err := w.runner.Run(ctx, action.MarkNotificationsSeen{Viewer: w.viewer, NotificationID: newestID})

	w.mu.Lock()
	w.inFlight = false
	if err == nil {
		w.sent = max(w.sent, newestID)
	}
	w.mu.Unlock()

	if err != nil {
		logger.Warn("advance notification watermark failed",
			zap.String("viewer", w.viewer), zap.Int64("notification_id", newestID), zap.Error(err))
		return false, err
	}
	return true, nil
}
