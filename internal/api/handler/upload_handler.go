package handler

import (
	"github.com/gin-gonic/gin"

	apperrors "github.com/d60-Lab/feedsync/pkg/errors"
	"github.com/d60-Lab/feedsync/pkg/response"
)

// Upload 上传图片
// @Summary 上传媒体
// @Description 返回的 {url, type} 可直接放进 post.create 的 media
// @Tags 媒体
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param file formData file true "图片"
// @Success 201 {object} model.Media
// @Failure 400 {object} response.Response
// @Router /api/uploads [post]
func (h *Handler) Upload(c *gin.Context) {
	if h.uploadService == nil {
		response.Error(c, apperrors.Unimplemented("uploads are disabled"))
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "file is required")
		return
	}
	f, err := fh.Open()
	if err != nil {
		response.InternalError(c, err)
		return
	}
	defer f.Close()

	media, err := h.uploadService.Save(c.Request.Context(), f, fh.Size)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, media)
}
