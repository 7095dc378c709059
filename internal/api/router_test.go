package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/d60-Lab/feedsync/config"
	"github.com/d60-Lab/feedsync/internal/api"
	"github.com/d60-Lab/feedsync/internal/api/handler"
	"github.com/d60-Lab/feedsync/internal/event"
	"github.com/d60-Lab/feedsync/internal/model"
	"github.com/d60-Lab/feedsync/internal/service"
	"github.com/d60-Lab/feedsync/internal/shape"
	"github.com/d60-Lab/feedsync/pkg/auth"
	"github.com/d60-Lab/feedsync/pkg/database"
	"github.com/d60-Lab/feedsync/pkg/metrics"
)

type server struct {
	db     *gorm.DB
	router *gin.Engine
	tokens *auth.Manager
}

func newServer(t *testing.T, tweak func(*config.Config)) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.Server.Mode = gin.TestMode
	cfg.Database = config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:", LogLevel: "silent"}
	cfg.Sync.LongPollTimeout = 300 * time.Millisecond
	cfg.Upload.Dir = t.TempDir()
	cfg.RateLimit.EventsPerSecond = 1000
	cfg.RateLimit.Burst = 1000
	if tweak != nil {
		tweak(cfg)
	}

	db, err := database.InitDB(cfg.Database)
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	tokens := auth.NewManager(cfg.JWT)
	hub := service.NewHub()
	w := service.NewWriter(db, hub)
	uploads, err := service.NewUploadService(cfg.Upload)
	require.NoError(t, err)

	h := handler.NewHandler(handler.Deps{
		Events:        service.NewEventService(w, m),
		Shapes:        service.NewShapeService(db, hub, cfg.Sync, nil, m),
		Auth:          service.NewAuthService(db, w, tokens),
		Uploads:       uploads,
		Relationships: service.NewRelationshipService(db),
		Metrics:       m,
	})
	return &server{db: db, router: api.NewRouter(cfg, h, tokens, reg), tokens: tokens}
}

func (s *server) seedUser(t *testing.T, id string) string {
	t.Helper()
	require.NoError(t, s.db.Create(&model.User{ID: id, Username: id, CreatedAt: time.Now().UTC()}).Error)
	token, err := s.tokens.Issue(id)
	require.NoError(t, err)
	return token
}

func (s *server) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *server) event(t *testing.T, token, typ string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	e, err := event.New(typ, payload)
	require.NoError(t, err)
	return s.do(t, http.MethodPost, "/api/events", token, e)
}

func decodeMessages(t *testing.T, rec *httptest.ResponseRecorder) []shape.Message {
	t.Helper()
	var msgs []shape.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	return msgs
}

func TestEvents_StatusCodes(t *testing.T) {
	s := newServer(t, nil)
	alice := s.seedUser(t, "alice")
	s.seedUser(t, "bob")

	tests := []struct {
		name    string
		token   string
		typ     string
		payload any
		status  int
	}{
		{"created", alice, event.UserFollow, event.Subject{SubjectID: "bob"}, http.StatusCreated},
		{"conflict", alice, event.UserFollow, event.Subject{SubjectID: "bob"}, http.StatusConflict},
		{"validation", alice, event.PostCreate, event.CreatePost{ID: "not-a-uuid"}, http.StatusBadRequest},
		{"anonymous", "", event.UserFollow, event.Subject{SubjectID: "bob"}, http.StatusUnauthorized},
		{"unimplemented", alice, event.PostDelete, event.Subject{SubjectID: uuid.NewString()}, http.StatusNotImplemented},
		{"unknown type", alice, "post.pin", event.Subject{SubjectID: "x"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.event(t, tt.token, tt.typ, tt.payload)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	rec := s.event(t, alice, event.UserUnfollow, event.Subject{SubjectID: "bob"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var res event.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Positive(t, res.TxID)
}

func TestEvents_ValidationBodyListsFields(t *testing.T) {
	s := newServer(t, nil)
	alice := s.seedUser(t, "alice")

	rec := s.event(t, alice, event.PostCreate, event.CreatePost{ID: "nope"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body struct {
		Message string            `json:"message"`
		Errors  map[string]string `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Errors, "id")
	assert.Contains(t, body.Errors, "content")
}

func TestEvents_InvalidTokenRejected(t *testing.T) {
	s := newServer(t, nil)
	rec := s.event(t, "garbage", event.UserFollow, event.Subject{SubjectID: "bob"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEvents_RateLimited(t *testing.T) {
	s := newServer(t, func(c *config.Config) {
		c.RateLimit.EventsPerSecond = 0.001
		c.RateLimit.Burst = 1
	})
	alice := s.seedUser(t, "alice")
	s.seedUser(t, "bob")

	assert.Equal(t, http.StatusCreated, s.event(t, alice, event.UserFollow, event.Subject{SubjectID: "bob"}).Code)
	assert.Equal(t, http.StatusTooManyRequests, s.event(t, alice, event.UserUnfollow, event.Subject{SubjectID: "bob"}).Code)
}

func TestShape_SnapshotAndChangesOverHTTP(t *testing.T) {
	s := newServer(t, nil)
	alice := s.seedUser(t, "alice")
	s.seedUser(t, "bob")

	rec := s.do(t, http.MethodGet, "/api/follows?offset=-1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decodeMessages(t, rec)
	require.Len(t, snap, 1)
	assert.Equal(t, shape.ControlUpToDate, snap[0].Headers.Control)

	ev := s.event(t, alice, event.UserFollow, event.Subject{SubjectID: "bob"})
	require.Equal(t, http.StatusCreated, ev.Code)
	var res event.Result
	require.NoError(t, json.Unmarshal(ev.Body.Bytes(), &res))

	rec = s.do(t, http.MethodGet, "/api/follows?offset=0&live=true", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	msgs := decodeMessages(t, rec)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.OpInsert, msgs[0].Headers.Operation)
	assert.Contains(t, msgs[0].Headers.TxIDs, res.TxID)
	assert.Equal(t, shape.ControlUpToDate, msgs[1].Headers.Control)
}

func TestShape_Errors(t *testing.T) {
	s := newServer(t, nil)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/orders", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/notifications", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/posts?offset=abc", "", nil).Code)
}

func TestAuth_AnonymousTokenWorks(t *testing.T) {
	s := newServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/auth/anonymous", "", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		User  model.User `json:"user"`
		Token string     `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.Token)
	assert.True(t, strings.HasPrefix(created.User.Username, "anon-"))

	rec = s.do(t, http.MethodGet, "/api/auth/session", created.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var session struct {
		User *model.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	require.NotNil(t, session.User)
	assert.Equal(t, created.User.ID, session.User.ID)

	rec = s.do(t, http.MethodGet, "/api/auth/session", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user":null}`, rec.Body.String())
}

func TestUpload_Multipart(t *testing.T) {
	s := newServer(t, nil)
	alice := s.seedUser(t, "alice")

	var img bytes.Buffer
	require.NoError(t, png.Encode(&img, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "dot.png")
	require.NoError(t, err)
	_, err = fw.Write(img.Bytes())
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+alice)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var media model.Media
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &media))
	assert.Equal(t, "image", media.Type)
	assert.True(t, strings.HasSuffix(media.URL, ".png"))

	// 上传后的文件由 /media 提供
	get := httptest.NewRecorder()
	s.router.ServeHTTP(get, httptest.NewRequest(http.MethodGet, media.URL, nil))
	assert.Equal(t, http.StatusOK, get.Code)
}

func TestRelations_Lists(t *testing.T) {
	s := newServer(t, nil)
	alice := s.seedUser(t, "alice")
	s.seedUser(t, "bob")
	require.Equal(t, http.StatusCreated, s.event(t, alice, event.UserFollow, event.Subject{SubjectID: "bob"}).Code)

	rec := s.do(t, http.MethodGet, "/api/users/bob/followers", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		List []string `json:"list"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, []string{"alice"}, page.List)
}

func TestOps_HealthzAndMetrics(t *testing.T) {
	s := newServer(t, nil)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/healthz", "", nil).Code)

	s.do(t, http.MethodGet, "/api/posts?offset=-1", "", nil)
	rec := s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "feedsync_shape_requests_total")
}

func TestShape_WebsocketStream(t *testing.T) {
	s := newServer(t, nil)
	alice := s.seedUser(t, "alice")
	s.seedUser(t, "bob")

	ts := httptest.NewServer(s.router)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/follows/ws?offset=-1"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	read := func() []shape.Message {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		var msgs []shape.Message
		require.NoError(t, conn.ReadJSON(&msgs))
		return msgs
	}

	snap := read()
	require.Len(t, snap, 1)
	assert.Equal(t, shape.ControlUpToDate, snap[0].Headers.Control)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	e, err := event.New(event.UserFollow, event.Subject{SubjectID: "bob"})
	require.NoError(t, err)
	body, err := json.Marshal(e)
	require.NoError(t, err)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.URL+"/api/events", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+alice)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusCreated, res.StatusCode)

	msgs := read()
	require.NotEmpty(t, msgs)
	assert.Equal(t, model.OpInsert, msgs[0].Headers.Operation)
	assert.Equal(t, model.ReactionKey("alice", "bob"), msgs[0].Key)
}

func TestShape_WebsocketRejectsBeforeUpgrade(t *testing.T) {
	s := newServer(t, nil)
	ts := httptest.NewServer(s.router)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/notifications/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
