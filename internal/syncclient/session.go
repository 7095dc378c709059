package syncclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/d60-Lab/feedsync/internal/model"
	apperrors "github.com/d60-Lab/feedsync/pkg/errors"
)

// SignUp POST /api/auth/anonymous，返回新用户与会话令牌
func SignUp(ctx context.Context, baseURL string, client *http.Client) (*model.User, string, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/api/auth/anonymous", nil)
	if err != nil {
		return nil, "", apperrors.Transport("build request", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", apperrors.Transport("sign up", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", apperrors.Transport("read response", err)
	}
	if resp.StatusCode != http.StatusCreated {
		return nil, "", statusError("auth", resp.StatusCode, raw)
	}
	var body struct {
		User  *model.User `json:"user"`
		Token string      `json:"token"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, "", apperrors.Wrap(apperrors.CodeInvalidArgument, "decode session", err)
	}
	if body.User == nil || body.Token == "" {
		return nil, "", apperrors.Internal("sign up returned no session")
	}
	return body.User, body.Token, nil
}
