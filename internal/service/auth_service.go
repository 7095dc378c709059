package service

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/d60-Lab/feedsync/internal/model"
	"github.com/d60-Lab/feedsync/internal/repository"
	"github.com/d60-Lab/feedsync/pkg/auth"
)

const eventSignup = "user.signup"

var (
	adjectives = []string{"Quiet", "Brave", "Lucky", "Sunny", "Swift", "Clever", "Gentle", "Mellow"}
	animals    = []string{"Otter", "Falcon", "Panda", "Lynx", "Heron", "Badger", "Koala", "Fox"}
)

// AuthService 匿名注册与会话
type AuthService interface {
	// Anonymous 创建占位名用户并签发令牌
	Anonymous(ctx context.Context) (*model.User, string, error)
	// Session 用户不存在时返回 (nil, nil)
	Session(ctx context.Context, userID string) (*model.User, error)
}

type authService struct {
	w      *Writer
	users  repository.UserRepository
	tokens *auth.Manager
}

func NewAuthService(db *gorm.DB, w *Writer, tokens *auth.Manager) AuthService {
	return &authService{
		w:      w,
		users:  repository.NewUserRepository(db),
		tokens: tokens,
	}
}

func (s *authService) Anonymous(ctx context.Context) (*model.User, string, error) {
	id := uuid.NewString()
	u := &model.User{
		ID:        id,
		Username:  "anon-" + strings.ReplaceAll(id, "-", "")[:12],
		Name:      placeholderName(),
		CreatedAt: time.Now().UTC(),
	}
	// 新用户必须进入变更日志，其他客户端的 users shape 才能看到
	if _, err := s.w.run(ctx, eventSignup, id, func(un *unit) error {
		if err := un.users.Create(un.ctx, u); err != nil {
			return err
		}
		return un.record(model.EntityUsers, model.OpInsert, "", u)
	}); err != nil {
		return nil, "", err
	}

	token, err := s.tokens.Issue(id)
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}

func (s *authService) Session(ctx context.Context, userID string) (*model.User, error) {
	if userID == "" {
		return nil, nil
	}
	return s.users.Get(ctx, userID)
}

func placeholderName() string {
	return fmt.Sprintf("%s %s", adjectives[rand.Intn(len(adjectives))], animals[rand.Intn(len(animals))])
}
