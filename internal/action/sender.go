package action

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/d60-Lab/feedsync/internal/event"
	apperrors "github.com/d60-Lab/feedsync/pkg/errors"
)

// HTTPSender 通过 POST /api/events 发送事件
type HTTPSender struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPSender(baseURL, token string, client *http.Client) *HTTPSender {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSender{baseURL: strings.TrimRight(baseURL, "/"), token: token, client: client}
}

// errorBody 服务端错误响应 {message, errors?}
type errorBody struct {
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors"`
}

// Send 201 返回 txid；400/401/409/501 映射为对应的不可重试错误，网络错误与 5xx 为 TransportError
func (s *HTTPSender) Send(ctx context.Context, e event.Event) (int64, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeInvalidArgument, "encode event", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/events", bytes.NewReader(body))
	if err != nil {
		return 0, apperrors.Transport("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, apperrors.Transport(fmt.Sprintf("send %s", e.Type), err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, apperrors.Transport("read response", err)
	}

	if resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK {
		var res event.Result
		if err := json.Unmarshal(raw, &res); err != nil {
			return 0, apperrors.Transport("decode txid", err)
		}
		return res.TxID, nil
	}

	var eb errorBody
	_ = json.Unmarshal(raw, &eb)
	if eb.Message == "" {
		eb.Message = http.StatusText(resp.StatusCode)
	}
	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return 0, apperrors.InvalidFields(eb.Message, eb.Errors)
	case resp.StatusCode == http.StatusUnauthorized:
		return 0, apperrors.Unauthorized(eb.Message)
	case resp.StatusCode == http.StatusForbidden:
		return 0, apperrors.Forbidden(eb.Message)
	case resp.StatusCode == http.StatusNotFound:
		return 0, apperrors.NotFound(eb.Message)
	case resp.StatusCode == http.StatusConflict:
		return 0, apperrors.Conflict(eb.Message)
	case resp.StatusCode == http.StatusNotImplemented:
		return 0, apperrors.Unimplemented(eb.Message)
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return 0, apperrors.Transport(fmt.Sprintf("%s: status %d", e.Type, resp.StatusCode), apperrors.New(apperrors.CodeUnavailable, eb.Message))
	default:
		return 0, apperrors.New(apperrors.CodeUnknown, eb.Message)
	}
}
