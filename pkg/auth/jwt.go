// Package auth 会话令牌（JWT HS256）
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/d60-Lab/feedsync/config"
	apperrors "github.com/d60-Lab/feedsync/pkg/errors"
)

type Claims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

type Manager struct {
	secret []byte
	ttl    time.Duration
	issuer string
}

func NewManager(cfg config.JWTConfig) *Manager {
	ttl := cfg.ExpiresIn
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{secret: []byte(cfg.Secret), ttl: ttl, issuer: cfg.Issuer}
}

// Issue 为用户签发令牌
func (m *Manager) Issue(userID string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Parse 校验令牌并返回用户 ID
func (m *Manager) Parse(token string) (string, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(m.issuer))
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeUnauthenticated, "invalid session token", err)
	}
	if claims.UserID == "" {
		return "", apperrors.Unauthorized("session token has no user")
	}
	return claims.UserID, nil
}
