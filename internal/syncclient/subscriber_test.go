package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/feedsync/internal/model"
	"github.com/d60-Lab/feedsync/internal/shape"
	"github.com/d60-Lab/feedsync/internal/store"
	apperrors "github.com/d60-Lab/feedsync/pkg/errors"
)

// scriptSource 每次 Open 记录 offset，Next 依次返回脚本中的批次
type scriptSource struct {
	mu      sync.Mutex
	opens   []int64
	batches []step
}

type step struct {
	msgs []shape.Message
	err  error
}

func (s *scriptSource) Open(_ context.Context, _ string, offset int64) (Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens = append(s.opens, offset)
	return s, nil
}

func (s *scriptSource) Next(ctx context.Context) ([]shape.Message, error) {
	s.mu.Lock()
	if len(s.batches) == 0 {
		s.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	st := s.batches[0]
	s.batches = s.batches[1:]
	s.mu.Unlock()
	return st.msgs, st.err
}

func (s *scriptSource) Close() error { return nil }

func (s *scriptSource) openOffsets() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.opens...)
}

func userMsg(t *testing.T, id string, offset int64) shape.Message {
	t.Helper()
	raw, err := json.Marshal(model.User{ID: id, Username: id})
	require.NoError(t, err)
	return shape.Message{Headers: shape.Headers{Operation: model.OpInsert, TxIDs: []int64{offset}}, Key: id, Value: raw, Offset: offset}
}

func TestSubscriber_SnapshotMarksReady(t *testing.T) {
	src := &scriptSource{batches: []step{
		{msgs: []shape.Message{userMsg(t, "alice", 3), shape.UpToDate(3)}},
		{msgs: []shape.Message{userMsg(t, "bob", 4), shape.UpToDate(4)}},
	}}
	reg := store.NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewSubscriber(src).Run(ctx, reg.Users) }()

	pctx, pcancel := context.WithTimeout(context.Background(), time.Second)
	defer pcancel()
	require.NoError(t, reg.Users.Preload(pctx))
	require.NoError(t, reg.Users.AwaitTxID(pctx, 4))
	assert.True(t, reg.Users.Has("alice"))
	assert.True(t, reg.Users.Has("bob"))
	assert.Equal(t, store.StatusReady, reg.Users.Status())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestSubscriber_MustRefetchResets(t *testing.T) {
	src := &scriptSource{batches: []step{
		{msgs: []shape.Message{userMsg(t, "alice", 3), shape.UpToDate(3)}},
		{msgs: []shape.Message{{Headers: shape.Headers{Control: shape.ControlMustRefetch}, Offset: 1}}},
		{msgs: []shape.Message{userMsg(t, "bob", 1), shape.UpToDate(1)}},
	}}
	reg := store.NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go NewSubscriber(src).Run(ctx, reg.Users)

	require.Eventually(t, func() bool { return reg.Users.Has("bob") }, time.Second, 5*time.Millisecond)
	assert.False(t, reg.Users.Has("alice"), "refetch drops rows from the old log")
	assert.Equal(t, []int64{shape.OffsetBeforeAll, shape.OffsetBeforeAll}, src.openOffsets())
}

func TestSubscriber_RetriesThenFails(t *testing.T) {
	boom := apperrors.Transport("fetch users", errors.New("connection refused"))
	src := &scriptSource{batches: []step{{err: boom}, {err: boom}, {err: boom}}}
	reg := store.NewRegistry()

	err := NewSubscriber(src, WithRetries(2, time.Millisecond)).Run(context.Background(), reg.Users)
	require.Error(t, err)
	assert.Equal(t, store.StatusError, reg.Users.Status())
	assert.Len(t, src.openOffsets(), 3)

	pctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.ErrorIs(t, reg.Users.Preload(pctx), apperrors.ErrNotReady)
}

func TestSubscriber_TerminalErrorFailsImmediately(t *testing.T) {
	src := &scriptSource{batches: []step{{err: apperrors.Unauthorized("notifications: requires a session")}}}
	reg := store.NewRegistry()

	err := NewSubscriber(src).Run(context.Background(), reg.Notifications)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	assert.Len(t, src.openOffsets(), 1)
	assert.Equal(t, store.StatusError, reg.Notifications.Status())
}

func TestSubscriber_ResumesFromLastOffset(t *testing.T) {
	src := &scriptSource{batches: []step{
		{msgs: []shape.Message{userMsg(t, "alice", 3), shape.UpToDate(5)}},
		{err: apperrors.Transport("fetch users", errors.New("reset by peer"))},
	}}
	reg := store.NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go NewSubscriber(src, WithRetries(3, time.Millisecond)).Run(ctx, reg.Users)

	require.Eventually(t, func() bool { return len(src.openOffsets()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{shape.OffsetBeforeAll, 5}, src.openOffsets())
}

func TestSubscriber_BadRowFailsCollection(t *testing.T) {
	src := &scriptSource{batches: []step{
		{msgs: []shape.Message{{Headers: shape.Headers{Operation: model.OpInsert}, Key: "x", Value: json.RawMessage(`{"id":""}`), Offset: 1}}},
	}}
	reg := store.NewRegistry()
	err := NewSubscriber(src).Run(context.Background(), reg.Users)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Equal(t, store.StatusError, reg.Users.Status())
}
