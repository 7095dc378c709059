package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/d60-Lab/feedsync/internal/api/middleware"
	"github.com/d60-Lab/feedsync/internal/service"
	"github.com/d60-Lab/feedsync/internal/shape"
	"github.com/d60-Lab/feedsync/pkg/logger"
	"github.com/d60-Lab/feedsync/pkg/response"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// StreamShape 与 GetShape 相同的消息流，走 websocket：每个文本帧是一批消息（JSON 数组）
// @Summary shape 订阅（websocket）
// @Tags 同步
// @Param entity path string true "shape 名称"
// @Param offset query int false "起始 offset" default(-1)
// @Param token query string false "会话令牌（浏览器无法设置握手头时使用）"
// @Router /api/{entity}/ws [get]
func (h *Handler) StreamShape(c *gin.Context) {
	offset, err := shape.ParseOffset(c.Query("offset"))
	if err != nil {
		response.BadRequest(c, "invalid offset")
		return
	}
	req := service.ShapeRequest{Entity: c.Param("entity"), Viewer: middleware.UserID(c), Offset: offset}

	// 升级前取第一批，错误仍按 HTTP 状态返回
	msgs, err := h.shapeService.Fetch(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer ws.Close()
	h.metrics.ShapeRequests.WithLabelValues(req.Entity, "ws").Inc()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	readTimeout := 2 * h.pingInterval
	ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})
	// 客户端不发数据；读循环只为处理 pong 与关闭
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	lastPing := time.Now()
	for {
		if len(msgs) > 0 {
			ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := ws.WriteJSON(msgs); err != nil {
				return
			}
			req.Offset = shape.LastOffset(msgs, req.Offset)
			if msgs[len(msgs)-1].Headers.Control == shape.ControlMustRefetch {
				// 客户端重置后重新连接
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, shape.ControlMustRefetch),
					time.Now().Add(wsWriteTimeout))
				return
			}
		}
		if time.Since(lastPing) >= h.pingInterval {
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
			lastPing = time.Now()
		}

		req.Live = true
		next, err := h.shapeService.Fetch(ctx, req)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("shape stream failed", zap.String("entity", req.Entity), zap.Error(err))
			}
			return
		}
		msgs = dropIdle(next, req.Offset)
	}
}

// dropIdle 水位未前进的纯 up-to-date 批次不重复下发
func dropIdle(msgs []shape.Message, offset int64) []shape.Message {
	if len(msgs) == 1 && msgs[0].Headers.Control == shape.ControlUpToDate && msgs[0].Offset <= offset {
		return nil
	}
	return msgs
}
