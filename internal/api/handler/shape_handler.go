package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/feedsync/internal/api/middleware"
	"github.com/d60-Lab/feedsync/internal/service"
	"github.com/d60-Lab/feedsync/internal/shape"
	"github.com/d60-Lab/feedsync/pkg/response"
)

// GetShape shape 订阅（快照 / 增量 / 长轮询）
// @Summary shape 订阅
// @Description offset=-1 返回快照并以 up-to-date 结尾；live=true 时挂起直到有新变更或超时
// @Tags 同步
// @Produce json
// @Param entity path string true "users|posts|feed-items|likes|reposts|bookmarks|follows|notifications"
// @Param offset query int false "上次收到的 offset" default(-1)
// @Param live query bool false "长轮询"
// @Success 200 {array} shape.Message
// @Failure 400 {object} response.Response
// @Failure 401 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/{entity} [get]
func (h *Handler) GetShape(c *gin.Context) {
	offset, err := shape.ParseOffset(c.Query("offset"))
	if err != nil {
		response.BadRequest(c, "invalid offset")
		return
	}
	ctx := c.Request.Context()
	msgs, err := h.shapeService.Fetch(ctx, service.ShapeRequest{
		Entity: c.Param("entity"),
		Viewer: middleware.UserID(c),
		Offset: offset,
		Live:   c.Query("live") == "true",
	})
	if err != nil {
		if ctx.Err() != nil {
			// 客户端已断开
			c.Abort()
			return
		}
		response.Error(c, err)
		return
	}
	response.Success(c, msgs)
}
