package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/d60-Lab/feedsync/config"
	"github.com/d60-Lab/feedsync/internal/model"
	apperrors "github.com/d60-Lab/feedsync/pkg/errors"
)

var imageExt = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// UploadService 媒体上传：落地到本地目录，返回可放进 post.media 的描述
type UploadService interface {
	Save(ctx context.Context, r io.Reader, size int64) (*model.Media, error)
	Dir() string
}

type uploadService struct {
	dir       string
	publicURL string
	maxBytes  int64
}

func NewUploadService(cfg config.UploadConfig) (UploadService, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 10 << 20
	}
	return &uploadService{dir: cfg.Dir, publicURL: strings.TrimRight(cfg.PublicURL, "/"), maxBytes: cfg.MaxBytes}, nil
}

func (s *uploadService) Dir() string { return s.dir }

func (s *uploadService) Save(ctx context.Context, r io.Reader, size int64) (*model.Media, error) {
	if size > s.maxBytes {
		return nil, apperrors.InvalidFields("file too large", map[string]string{"file": "max"})
	}
	// 按内容嗅探类型，不信任客户端的文件名
	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, apperrors.Wrap(apperrors.CodeInvalidArgument, "read upload", err)
	}
	head = head[:n]
	ext, ok := imageExt[http.DetectContentType(head)]
	if !ok {
		return nil, apperrors.InvalidFields("unsupported media type", map[string]string{"file": "image"})
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name := uuid.NewString() + ext
	f, err := os.Create(filepath.Join(s.dir, name))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	written, err := io.Copy(f, io.LimitReader(io.MultiReader(bytes.NewReader(head), r), s.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if written > s.maxBytes {
		_ = os.Remove(f.Name())
		return nil, apperrors.InvalidFields("file too large", map[string]string{"file": "max"})
	}
	return &model.Media{URL: s.publicURL + "/" + name, Type: model.MediaTypeImage}, nil
}
