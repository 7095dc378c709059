// Package event 定义 POST /api/events 的请求体，客户端动作与服务端处理共用。
package event

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/d60-Lab/feedsync/internal/model"
	apperrors "github.com/d60-Lab/feedsync/pkg/errors"
)

const (
	PostCreate   = "post.create"
	PostDelete   = "post.delete"
	PostLike     = "post.like"
	PostUnlike   = "post.unlike"
	PostRepost   = "post.repost"
	PostUnrepost = "post.unrepost"
	PostBookmark = "post.bookmark"
	PostUnmark   = "post.unbookmark"
	UserFollow   = "user.follow"
	UserUnfollow = "user.unfollow"
	UserMarkSeen = "user.mark_notifications_seen"
)

// Types 全部已声明的事件类型
func Types() []string {
	return []string{
		PostCreate, PostDelete, PostLike, PostUnlike, PostRepost, PostUnrepost,
		PostBookmark, PostUnmark, UserFollow, UserUnfollow, UserMarkSeen,
	}
}

// Event 线上格式 {type, payload}
type Event struct {
	Type    string          `json:"type" binding:"required"`
	Payload json.RawMessage `json:"payload"`
}

// Result 201 响应体
type Result struct {
	TxID int64 `json:"txid"`
}

// CreatePost post.create 负载；id 由客户端生成
type CreatePost struct {
	ID            string        `json:"id" validate:"required,uuid"`
	Content       string        `json:"content" validate:"required,max=280"`
	Media         []model.Media `json:"media" validate:"max=4,dive"`
	ReplyParentID *string       `json:"reply_parent_id" validate:"omitempty,uuid"`
}

// Subject like/repost/bookmark/follow 及其反操作的负载
type Subject struct {
	SubjectID string `json:"subject_id" validate:"required"`
}

// MarkSeen 通知已读水位
type MarkSeen struct {
	NotificationID int64 `json:"notification_id" validate:"required,gt=0"`
}

var validate = newValidator()

// 字段错误使用 json 名称
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// New 编码负载
func New(typ string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, apperrors.Wrap(apperrors.CodeInvalidArgument, "encode payload", err)
	}
	return Event{Type: typ, Payload: raw}, nil
}

// Decode 解码并校验负载，失败返回带字段信息的 ValidationError
func Decode[P any](e Event) (P, error) {
	var p P
	if len(e.Payload) == 0 {
		return p, apperrors.InvalidArg("payload is required")
	}
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return p, apperrors.Wrap(apperrors.CodeInvalidArgument, "malformed payload", err)
	}
	if err := Validate(p); err != nil {
		return p, err
	}
	return p, nil
}

// Validate 校验负载结构体
func Validate(p any) error {
	err := validate.Struct(p)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !apperrors.As(err, &verrs) {
		return apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid payload", err)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	return apperrors.InvalidFields("invalid payload", fields)
}
