package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/feedsync/internal/api/middleware"
	"github.com/d60-Lab/feedsync/internal/event"
	"github.com/d60-Lab/feedsync/pkg/response"
)

// CreateEvent 写入一个事件
// @Summary 提交事件
// @Description 一个事件一个事务；返回的 txid 会出现在对应变更的 headers.txids 中
// @Tags 事件
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body event.Event true "事件"
// @Success 201 {object} event.Result
// @Failure 400 {object} response.Response
// @Failure 401 {object} response.Response
// @Failure 409 {object} response.Response
// @Failure 429 {object} response.Response
// @Failure 501 {object} response.Response
// @Router /api/events [post]
func (h *Handler) CreateEvent(c *gin.Context) {
	var e event.Event
	if err := c.ShouldBindJSON(&e); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	txid, err := h.eventService.Handle(c.Request.Context(), middleware.UserID(c), e)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, event.Result{TxID: txid})
}
