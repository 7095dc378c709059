// Package middleware gin 中间件：会话、限流、请求日志
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/feedsync/pkg/auth"
	"github.com/d60-Lab/feedsync/pkg/response"
)

const userIDKey = "user_id"

// Auth 解析 Bearer 令牌（websocket 握手无法带头时使用 ?token=）。
// required=false 时缺少令牌放行，令牌无效仍返回 401。
func Auth(tokens *auth.Manager, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearer(c.GetHeader("Authorization"))
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			if required {
				response.Unauthorized(c, "authentication required")
				return
			}
			c.Next()
			return
		}
		uid, err := tokens.Parse(token)
		if err != nil {
			response.Error(c, err)
			return
		}
		c.Set(userIDKey, uid)
		c.Next()
	}
}

// RequireUser 在已解析会话的分组内要求登录
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if UserID(c) == "" {
			response.Unauthorized(c, "authentication required")
			return
		}
		c.Next()
	}
}

// UserID 当前会话用户，未登录为空串
func UserID(c *gin.Context) string { return c.GetString(userIDKey) }

func bearer(h string) string {
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}
