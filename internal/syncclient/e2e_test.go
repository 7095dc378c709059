package syncclient_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/feedsync/config"
	"github.com/d60-Lab/feedsync/internal/action"
	"github.com/d60-Lab/feedsync/internal/api"
	"github.com/d60-Lab/feedsync/internal/api/handler"
	"github.com/d60-Lab/feedsync/internal/event"
	"github.com/d60-Lab/feedsync/internal/feed"
	"github.com/d60-Lab/feedsync/internal/model"
	"github.com/d60-Lab/feedsync/internal/query"
	"github.com/d60-Lab/feedsync/internal/service"
	"github.com/d60-Lab/feedsync/internal/store"
	"github.com/d60-Lab/feedsync/internal/syncclient"
	"github.com/d60-Lab/feedsync/pkg/auth"
	"github.com/d60-Lab/feedsync/pkg/database"
	"github.com/d60-Lab/feedsync/pkg/metrics"
)

// startServer 真实路由 + sqlite，返回服务地址与 alice 的令牌
func startServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.Default()
	cfg.Server.Mode = gin.TestMode
	cfg.Database = config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:", LogLevel: "silent"}
	cfg.Sync.LongPollTimeout = 200 * time.Millisecond
	cfg.Upload.Dir = ""

	db, err := database.InitDB(cfg.Database)
	require.NoError(t, err)
	for _, id := range []string{"alice", "bob"} {
		require.NoError(t, db.Create(&model.User{ID: id, Username: id, CreatedAt: time.Now().UTC()}).Error)
	}
	tokens := auth.NewManager(cfg.JWT)
	hub := service.NewHub()
	w := service.NewWriter(db, hub)
	h := handler.NewHandler(handler.Deps{
		Events:        service.NewEventService(w, nil),
		Shapes:        service.NewShapeService(db, hub, cfg.Sync, nil, nil),
		Auth:          service.NewAuthService(db, w, tokens),
		Relationships: service.NewRelationshipService(db),
	})
	ts := httptest.NewServer(api.NewRouter(cfg, h, tokens, nil))
	token, err := tokens.Issue("alice")
	require.NoError(t, err)
	return ts, token
}

func TestClient_OptimisticActionsConfirmedBySync(t *testing.T) {
	for _, transport := range []string{"http", "ws"} {
		t.Run(transport, func(t *testing.T) {
			ts, token := startServer(t)
			defer ts.Close()

			reg := store.NewRegistry()
			src := syncclient.NewSource(config.ClientConfig{BaseURL: ts.URL, Token: token, Transport: transport})
			stop := syncclient.Start(context.Background(), reg, syncclient.NewSubscriber(src), true)
			defer stop()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			require.NoError(t, reg.PreloadAll(ctx))

			m := metrics.New(prometheus.NewRegistry())
			runner := action.NewRunner(reg, action.NewHTTPSender(ts.URL, token, nil),
				action.WithConfirmTimeout(3*time.Second), action.WithMetrics(m))

			_, err := runner.Run(ctx, action.NewFollow("alice", "bob"))
			require.NoError(t, err)
			assert.Equal(t, 1.0, testutil.ToFloat64(m.Actions.WithLabelValues("user.follow", action.OutcomeCommitted)))

			bob, ok := reg.Users.Get("bob")
			require.True(t, ok)
			assert.EqualValues(t, 1, bob.FollowersCount, "confirmed row counted once")
			assert.True(t, reg.Follows.Has(model.ReactionKey("alice", "bob")))

			postID := uuid.NewString()
			_, err = runner.Run(ctx, action.CreatePost{Viewer: "alice", ID: postID, Content: "hello from the client"})
			require.NoError(t, err)
			assert.Equal(t, 1.0, testutil.ToFloat64(m.Actions.WithLabelValues("post.create", action.OutcomeCommitted)))

			var rows []feed.Row
			reg.Loop.Read(func() {
				rows = query.FeedRows(reg, query.FeedFilter{Kind: query.FeedHome, Viewer: "alice"})
			})
			require.NotEmpty(t, rows)
			assert.Equal(t, postID, rows[0].Post.ID)
		})
	}
}

func TestClient_AnonymousSkipsScopedShapes(t *testing.T) {
	ts, _ := startServer(t)
	defer ts.Close()

	reg := store.NewRegistry()
	src := syncclient.NewHTTPSource(ts.URL, "", nil)
	stop := syncclient.Start(context.Background(), reg, syncclient.NewSubscriber(src), false)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, reg.PreloadAll(ctx))
	assert.Equal(t, store.StatusReady, reg.Notifications.Status())
	assert.Len(t, reg.Users.Values(), 2)
}

func TestSignUp_ReturnsUsableToken(t *testing.T) {
	ts, _ := startServer(t)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	u, token, err := syncclient.SignUp(ctx, ts.URL, nil)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	sender := action.NewHTTPSender(ts.URL, token, nil)
	e, err := event.New(event.UserFollow, event.Subject{SubjectID: "bob"})
	require.NoError(t, err)
	txid, err := sender.Send(ctx, e)
	require.NoError(t, err)
	assert.Positive(t, txid)
	assert.NotEmpty(t, u.ID)
}
