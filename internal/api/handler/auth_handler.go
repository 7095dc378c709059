package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/feedsync/internal/api/middleware"
	"github.com/d60-Lab/feedsync/internal/model"
	"github.com/d60-Lab/feedsync/pkg/response"
)

type sessionResponse struct {
	User  *model.User `json:"user"`
	Token string      `json:"token,omitempty"`
}

// Anonymous 匿名注册
// @Summary 匿名注册
// @Description 创建占位名用户并返回会话令牌
// @Tags 会话
// @Produce json
// @Success 201 {object} sessionResponse
// @Failure 500 {object} response.Response
// @Router /api/auth/anonymous [post]
func (h *Handler) Anonymous(c *gin.Context) {
	u, token, err := h.authService.Anonymous(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, sessionResponse{User: u, Token: token})
}

// Session 当前会话
// @Summary 当前会话
// @Tags 会话
// @Produce json
// @Security BearerAuth
// @Success 200 {object} sessionResponse
// @Router /api/auth/session [get]
func (h *Handler) Session(c *gin.Context) {
	u, err := h.authService.Session(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, sessionResponse{User: u})
}
