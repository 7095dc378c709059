// Package syncclient 把服务端 shape 流接到本地集合：快照 → 增量 → 长轮询/websocket。
package syncclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/d60-Lab/feedsync/internal/shape"
	apperrors "github.com/d60-Lab/feedsync/pkg/errors"
)

// Source 按 shape 名称打开消息流
type Source interface {
	Open(ctx context.Context, entity string, offset int64) (Feed, error)
}

// Feed 一条 shape 连接；Next 阻塞到下一批消息
type Feed interface {
	Next(ctx context.Context) ([]shape.Message, error)
	Close() error
}

// HTTPSource GET /api/:entity 长轮询
type HTTPSource struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPSource(baseURL, token string, client *http.Client) *HTTPSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSource{baseURL: strings.TrimRight(baseURL, "/"), token: token, client: client}
}

func (s *HTTPSource) Open(_ context.Context, entity string, offset int64) (Feed, error) {
	return &httpFeed{src: s, entity: entity, offset: offset}, nil
}

type httpFeed struct {
	src    *HTTPSource
	entity string
	offset int64
}

// Next 快照请求不挂起，之后的请求都带 live=true
func (f *httpFeed) Next(ctx context.Context) ([]shape.Message, error) {
	q := url.Values{}
	q.Set("offset", strconv.FormatInt(f.offset, 10))
	if f.offset >= 0 {
		q.Set("live", "true")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.src.baseURL+"/api/"+f.entity+"?"+q.Encode(), nil)
	if err != nil {
		return nil, apperrors.Transport("build request", err)
	}
	if f.src.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.src.token)
	}
	resp, err := f.src.client.Do(req)
	if err != nil {
		return nil, apperrors.Transport(fmt.Sprintf("fetch %s", f.entity), err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Transport("read response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(f.entity, resp.StatusCode, raw)
	}

	var msgs []shape.Message
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidArgument, fmt.Sprintf("decode %s batch", f.entity), err)
	}
	f.offset = shape.LastOffset(msgs, f.offset)
	return msgs, nil
}

func (f *httpFeed) Close() error { return nil }

// WSSource GET /api/:entity/ws；浏览器式握手无法带头，令牌放在查询串
type WSSource struct {
	baseURL string
	token   string
	dialer  *websocket.Dialer
}

func NewWSSource(baseURL, token string) *WSSource {
	u := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return &WSSource{baseURL: u, token: token, dialer: websocket.DefaultDialer}
}

func (s *WSSource) Open(ctx context.Context, entity string, offset int64) (Feed, error) {
	q := url.Values{}
	q.Set("offset", strconv.FormatInt(offset, 10))
	if s.token != "" {
		q.Set("token", s.token)
	}
	ws, resp, err := s.dialer.DialContext(ctx, s.baseURL+"/api/"+entity+"/ws?"+q.Encode(), nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			raw, _ := io.ReadAll(resp.Body)
			return nil, statusError(entity, resp.StatusCode, raw)
		}
		return nil, apperrors.Transport(fmt.Sprintf("dial %s", entity), err)
	}
	f := &wsFeed{ws: ws, entity: entity, readTimeout: 2 * time.Minute}
	// 服务端 ping 会刷新读超时
	ws.SetPingHandler(func(data string) error {
		ws.SetReadDeadline(time.Now().Add(f.readTimeout))
		return ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(10*time.Second))
	})
	return f, nil
}

type wsFeed struct {
	ws          *websocket.Conn
	entity      string
	readTimeout time.Duration
}

func (f *wsFeed) Next(ctx context.Context) ([]shape.Message, error) {
	// ReadJSON 不感知 ctx，取消时关闭连接打断读取
	stop := context.AfterFunc(ctx, func() { f.ws.Close() })
	defer stop()

	f.ws.SetReadDeadline(time.Now().Add(f.readTimeout))

	var msgs []shape.Message
	if err := f.ws.ReadJSON(&msgs); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var ce *websocket.CloseError
		if apperrors.As(err, &ce) && ce.Text == shape.ControlMustRefetch {
			return []shape.Message{{Headers: shape.Headers{Control: shape.ControlMustRefetch}}}, nil
		}
		return nil, apperrors.Transport(fmt.Sprintf("read %s", f.entity), err)
	}
	return msgs, nil
}

func (f *wsFeed) Close() error { return f.ws.Close() }

type errorBody struct {
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors"`
}

// statusError 4xx 为终态错误，其余按传输错误重试
func statusError(entity string, status int, raw []byte) error {
	var eb errorBody
	_ = json.Unmarshal(raw, &eb)
	if eb.Message == "" {
		eb.Message = http.StatusText(status)
	}
	msg := fmt.Sprintf("%s: %s", entity, eb.Message)
	switch status {
	case http.StatusBadRequest:
		return apperrors.InvalidFields(msg, eb.Errors)
	case http.StatusUnauthorized:
		return apperrors.Unauthorized(msg)
	case http.StatusForbidden:
		return apperrors.Forbidden(msg)
	case http.StatusNotFound:
		return apperrors.NotFound(msg)
	default:
		return apperrors.Transport(fmt.Sprintf("%s: status %d", entity, status), apperrors.New(apperrors.CodeUnavailable, eb.Message))
	}
}
