package service

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/feedsync/config"
	"github.com/d60-Lab/feedsync/internal/event"
	"github.com/d60-Lab/feedsync/internal/model"
	"github.com/d60-Lab/feedsync/internal/shape"
	"github.com/d60-Lab/feedsync/pkg/auth"
	apperrors "github.com/d60-Lab/feedsync/pkg/errors"
)

func newShapes(e *env, timeout time.Duration) ShapeService {
	return NewShapeService(e.db, e.hub, config.SyncConfig{LongPollTimeout: timeout, BatchSize: 100}, nil, nil)
}

func dataKeys(msgs []shape.Message) []string {
	var keys []string
	for _, m := range msgs {
		if !m.IsControl() {
			keys = append(keys, m.Key)
		}
	}
	return keys
}

func TestShape_SnapshotThenChanges(t *testing.T) {
	e := newEnv(t)
	shapes := newShapes(e, time.Second)
	ctx := context.Background()
	pid := e.createPost(t, "bob", nil)

	snap, err := shapes.Fetch(ctx, ShapeRequest{Entity: model.EntityPosts, Offset: shape.OffsetBeforeAll})
	require.NoError(t, err)
	require.Len(t, snap, 2)
	assert.Equal(t, pid, snap[0].Key)
	assert.Equal(t, model.OpInsert, snap[0].Headers.Operation)
	last := snap[len(snap)-1]
	assert.Equal(t, shape.ControlUpToDate, last.Headers.Control)

	var p model.Post
	require.NoError(t, json.Unmarshal(snap[0].Value, &p))
	assert.Equal(t, "hello", p.Content)

	txid, err := e.send(t, "alice", event.PostLike, event.Subject{SubjectID: pid})
	require.NoError(t, err)

	changes, err := shapes.Fetch(ctx, ShapeRequest{Entity: model.EntityPosts, Offset: last.Offset})
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, model.OpUpdate, changes[0].Headers.Operation)
	assert.Equal(t, []int64{txid}, changes[0].Headers.TxIDs)
	assert.Equal(t, shape.ControlUpToDate, changes[1].Headers.Control)
	assert.Greater(t, changes[1].Offset, last.Offset)
}

func TestShape_DeleteCarriesKeyOnly(t *testing.T) {
	e := newEnv(t)
	shapes := newShapes(e, time.Second)
	pid := e.createPost(t, "bob", nil)
	_, err := e.send(t, "alice", event.PostLike, event.Subject{SubjectID: pid})
	require.NoError(t, err)
	offset := e.hub.Latest()

	_, err = e.send(t, "alice", event.PostUnlike, event.Subject{SubjectID: pid})
	require.NoError(t, err)

	msgs, err := shapes.Fetch(context.Background(), ShapeRequest{Entity: model.EntityLikes, Offset: offset})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.OpDelete, msgs[0].Headers.Operation)
	assert.Equal(t, model.ReactionKey("alice", pid), msgs[0].Key)
	assert.Empty(t, msgs[0].Value)
}

func TestShape_ScopedEntities(t *testing.T) {
	e := newEnv(t)
	shapes := newShapes(e, time.Second)
	ctx := context.Background()
	pid := e.createPost(t, "bob", nil)
	_, err := e.send(t, "alice", event.PostBookmark, event.Subject{SubjectID: pid})
	require.NoError(t, err)
	_, err = e.send(t, "alice", event.PostLike, event.Subject{SubjectID: pid})
	require.NoError(t, err)

	_, err = shapes.Fetch(ctx, ShapeRequest{Entity: model.EntityBookmarks, Offset: -1})
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	mine, err := shapes.Fetch(ctx, ShapeRequest{Entity: model.EntityBookmarks, Viewer: "alice", Offset: -1})
	require.NoError(t, err)
	assert.Equal(t, []string{model.ReactionKey("alice", pid)}, dataKeys(mine))

	theirs, err := shapes.Fetch(ctx, ShapeRequest{Entity: model.EntityBookmarks, Viewer: "bob", Offset: -1})
	require.NoError(t, err)
	assert.Empty(t, dataKeys(theirs))

	// 通知只对 recipient 可见，增量同样过滤
	notes, err := shapes.Fetch(ctx, ShapeRequest{Entity: model.EntityNotifications, Viewer: "bob", Offset: 0})
	require.NoError(t, err)
	assert.Len(t, dataKeys(notes), 1)
	notes, err = shapes.Fetch(ctx, ShapeRequest{Entity: model.EntityNotifications, Viewer: "alice", Offset: 0})
	require.NoError(t, err)
	assert.Empty(t, dataKeys(notes))
}

func TestShape_UnknownAndRefetch(t *testing.T) {
	e := newEnv(t)
	shapes := newShapes(e, time.Second)
	ctx := context.Background()

	_, err := shapes.Fetch(ctx, ShapeRequest{Entity: "orders", Offset: -1})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	msgs, err := shapes.Fetch(ctx, ShapeRequest{Entity: model.EntityPosts, Offset: 999})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, shape.ControlMustRefetch, msgs[0].Headers.Control)
}

func TestShape_LiveWaitsForChange(t *testing.T) {
	e := newEnv(t)
	shapes := newShapes(e, 5*time.Second)
	pid := e.createPost(t, "bob", nil)
	offset := e.hub.Latest()

	type result struct {
		msgs []shape.Message
		err  error
	}
	done := make(chan result, 1)
	go func() {
		msgs, err := shapes.Fetch(context.Background(), ShapeRequest{Entity: model.EntityLikes, Offset: offset, Live: true})
		done <- result{msgs, err}
	}()

	time.Sleep(50 * time.Millisecond)
	_, err := e.send(t, "alice", event.PostLike, event.Subject{SubjectID: pid})
	require.NoError(t, err)

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, []string{model.ReactionKey("alice", pid)}, dataKeys(r.msgs))
	case <-time.After(2 * time.Second):
		t.Fatal("live request not woken")
	}
}

func TestShape_LiveTimesOutWithUpToDate(t *testing.T) {
	e := newEnv(t)
	shapes := newShapes(e, 30*time.Millisecond)

	msgs, err := shapes.Fetch(context.Background(), ShapeRequest{Entity: model.EntityPosts, Offset: 0, Live: true})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, shape.ControlUpToDate, msgs[0].Headers.Control)
}

type memCache struct {
	data map[string][]shape.Message
	hits int
}

func (c *memCache) key(entity, scope string, offset int64) string {
	return strings.Join([]string{entity, scope, strconv.FormatInt(offset, 10)}, "|")
}

func (c *memCache) Get(_ context.Context, entity, scope string, offset int64) ([]shape.Message, bool) {
	m, ok := c.data[c.key(entity, scope, offset)]
	if ok {
		c.hits++
	}
	return m, ok
}

func (c *memCache) Set(_ context.Context, entity, scope string, offset int64, msgs []shape.Message) {
	c.data[c.key(entity, scope, offset)] = msgs
}

func TestShape_SnapshotCacheKeyedByOffset(t *testing.T) {
	e := newEnv(t)
	cache := &memCache{data: map[string][]shape.Message{}}
	shapes := NewShapeService(e.db, e.hub, config.SyncConfig{}, cache, nil)
	ctx := context.Background()
	pid := e.createPost(t, "bob", nil)

	_, err := shapes.Fetch(ctx, ShapeRequest{Entity: model.EntityPosts, Offset: -1})
	require.NoError(t, err)
	_, err = shapes.Fetch(ctx, ShapeRequest{Entity: model.EntityPosts, Offset: -1})
	require.NoError(t, err)
	assert.Equal(t, 1, cache.hits)

	_, err = e.send(t, "alice", event.PostLike, event.Subject{SubjectID: pid})
	require.NoError(t, err)
	msgs, err := shapes.Fetch(ctx, ShapeRequest{Entity: model.EntityPosts, Offset: -1})
	require.NoError(t, err)
	assert.Equal(t, 1, cache.hits)
	var p model.Post
	require.NoError(t, json.Unmarshal(msgs[0].Value, &p))
	assert.EqualValues(t, 1, p.LikeCount)
}

func TestPublisherAndWatcher_ThroughRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	e := newEnv(t)
	remote := NewHub()
	watcher := NewChangeWatcher(e.db, remote, rdb, "changes", time.Hour)
	stopWatcher := watcher.Start()
	defer func() { _ = stopWatcher(context.Background()) }()

	pub := NewChangePublisher(rdb, "changes", 16, nil)
	stopPub := pub.Start(1)
	defer func() { _ = stopPub(context.Background()) }()

	// 等订阅建立
	require.Eventually(t, func() bool {
		n, _ := rdb.PubSubNumSub(context.Background(), "changes").Result()
		return n["changes"] > 0
	}, time.Second, 10*time.Millisecond)

	pub.Notify(42)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.True(t, remote.Wait(ctx, 41))
	assert.EqualValues(t, 42, remote.Latest())
}

func TestWatcher_PollsChangeLog(t *testing.T) {
	e := newEnv(t)
	e.createPost(t, "bob", nil)
	latest := e.hub.Latest()

	remote := NewHub()
	stop := NewChangeWatcher(e.db, remote, nil, "", 10*time.Millisecond).Start()
	defer func() { _ = stop(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.True(t, remote.Wait(ctx, latest-1))
}

func TestAuthService_Anonymous(t *testing.T) {
	e := newEnv(t)
	tokens := auth.NewManager(config.JWTConfig{Secret: "s", Issuer: "feedsync"})
	svc := NewAuthService(e.db, e.writer, tokens)
	ctx := context.Background()

	u, token, err := svc.Anonymous(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, u.Name)
	assert.True(t, strings.HasPrefix(u.Username, "anon-"))

	uid, err := tokens.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, uid)

	got, err := svc.Session(ctx, uid)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u.Name, got.Name)

	none, err := svc.Session(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, none)

	// 新用户进入 users shape 的增量
	var c model.Change
	require.NoError(t, e.db.Where(&model.Change{Entity: model.EntityUsers, Key: u.ID}).Take(&c).Error)
	assert.Equal(t, model.OpInsert, c.Op)

	// 可以直接发事件
	_, err = e.send(t, u.ID, event.UserFollow, event.Subject{SubjectID: "bob"})
	require.NoError(t, err)
}

func TestUploadService(t *testing.T) {
	dir := t.TempDir()
	svc, err := NewUploadService(config.UploadConfig{Dir: dir, PublicURL: "/media/", MaxBytes: 1024})
	require.NoError(t, err)
	ctx := context.Background()

	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)
	m, err := svc.Save(ctx, bytes.NewReader(png), int64(len(png)))
	require.NoError(t, err)
	assert.Equal(t, model.MediaTypeImage, m.Type)
	assert.True(t, strings.HasPrefix(m.URL, "/media/"))
	assert.True(t, strings.HasSuffix(m.URL, ".png"))

	_, err = svc.Save(ctx, strings.NewReader("plain text"), 10)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = svc.Save(ctx, bytes.NewReader(png), 4096)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}
