// Package response 统一 HTTP 响应；失败响应体为 {message, errors?}
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/d60-Lab/feedsync/pkg/errors"
	"github.com/d60-Lab/feedsync/pkg/logger"
)

// Response 错误响应体
type Response struct {
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// Success 200，直接返回 data
func Success(c *gin.Context, data any) {
	if data == nil {
		data = gin.H{}
	}
	c.JSON(http.StatusOK, data)
}

// Created 201
func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, data)
}

func BadRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, Response{Message: msg})
}

func Unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, Response{Message: msg})
}

func TooManyRequests(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, Response{Message: "too many requests"})
}

// InternalError 500；原始错误只进日志
func InternalError(c *gin.Context, err error) {
	logger.Error("internal error", zap.String("path", c.FullPath()), zap.Error(err))
	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, Response{Message: "internal server error"})
}

// Error 按错误码选择状态码
func Error(c *gin.Context, err error) {
	status := StatusOf(err)
	if status == http.StatusInternalServerError {
		InternalError(c, err)
		return
	}
	body := Response{Message: err.Error()}
	var ae *apperrors.AppError
	if apperrors.As(err, &ae) {
		body = Response{Message: ae.Message, Errors: ae.Fields}
	}
	c.AbortWithStatusJSON(status, body)
}

// StatusOf 错误码到 HTTP 状态码
func StatusOf(err error) int {
	switch apperrors.CodeOf(err) {
	case apperrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case apperrors.CodeUnauthenticated:
		return http.StatusUnauthorized
	case apperrors.CodePermissionDenied:
		return http.StatusForbidden
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodeConflict:
		return http.StatusConflict
	case apperrors.CodeUnimplemented:
		return http.StatusNotImplemented
	case apperrors.CodeNotReady, apperrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	case apperrors.CodeDeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
