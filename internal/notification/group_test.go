package notification

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/feedsync/internal/action"
	"github.com/d60-Lab/feedsync/internal/model"
	apperrors "github.com/d60-Lab/feedsync/pkg/errors"
)

var base = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func row(id int64, actor, reason, subject string, hoursAgo int) Row {
	n := model.Notification{
		ID: id, CreatorID: actor, RecipientID: "me", Reason: reason,
		CreatedAt: base.Add(-time.Duration(hoursAgo) * time.Hour),
	}
	if subject != "" {
		n.ReasonSubjectID = model.Ptr(subject)
	}
	return Row{Notification: n, Actor: &model.User{ID: actor, Username: actor}}
}

func TestBuild_LikesWithin48hMerge(t *testing.T) {
	groups := Build([]Row{
		row(2, "bob", model.ReasonLike, "p1", 0),
		row(1, "carol", model.ReasonLike, "p1", 47),
	}, 0)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0].AdditionalUsers, 1)
	assert.Equal(t, "bob", groups[0].Actor.ID)
	assert.Equal(t, "carol", groups[0].AdditionalUsers[0].ID)
	assert.Equal(t, int64(2), groups[0].Notification.ID)
	assert.Len(t, groups[0].Members, 2)
}

func TestBuild_LikesBeyond48hStaySeparate(t *testing.T) {
	groups := Build([]Row{
		row(2, "bob", model.ReasonLike, "p1", 0),
		row(1, "carol", model.ReasonLike, "p1", 49),
	}, 0)
	require.Len(t, groups, 2)
	assert.Empty(t, groups[0].AdditionalUsers)
	assert.Empty(t, groups[1].AdditionalUsers)
}

func TestBuild_DifferentSubjectOrReasonDoNotMerge(t *testing.T) {
	groups := Build([]Row{
		row(4, "bob", model.ReasonLike, "p1", 0),
		row(3, "carol", model.ReasonLike, "p2", 1),
		row(2, "dave", model.ReasonRepost, "p1", 2),
		row(1, "erin", model.ReasonRepost, "p1", 3),
	}, 0)
	require.Len(t, groups, 3)
	assert.Equal(t, model.ReasonRepost, groups[2].Reason())
	assert.Len(t, groups[2].AdditionalUsers, 1)
}

func TestBuild_RepliesAndFollowsNeverGrouped(t *testing.T) {
	groups := Build([]Row{
		row(4, "bob", model.ReasonReply, "r1", 0),
		row(3, "carol", model.ReasonReply, "r1", 0),
		row(2, "bob", model.ReasonFollow, "", 1),
		row(1, "carol", model.ReasonFollow, "", 1),
	}, 0)
	require.Len(t, groups, 4)
	assert.True(t, groups[0].RendersAsPost())
	assert.False(t, groups[2].RendersAsPost())
}

func TestBuild_InterleavedRowsJoinEarlierGroup(t *testing.T) {
	groups := Build([]Row{
		row(3, "bob", model.ReasonLike, "p1", 0),
		row(2, "carol", model.ReasonFollow, "", 1),
		row(1, "dave", model.ReasonLike, "p1", 2),
	}, 0)
	require.Len(t, groups, 2)
	assert.Equal(t, "dave", groups[0].AdditionalUsers[0].ID)
}

func TestGroup_AvatarsCapAndOverflow(t *testing.T) {
	var rows []Row
	for i := 6; i >= 1; i-- {
		rows = append(rows, row(int64(i), fmt.Sprintf("u%d", i), model.ReasonLike, "p1", 6-i))
	}
	groups := Build(rows, 0)
	require.Len(t, groups, 1)
	g := groups[0]
	assert.Len(t, g.Users(), 6)
	assert.Len(t, g.Avatars(), MaxAvatars)
	assert.Equal(t, 2, g.Overflow())
	assert.Equal(t, "6", g.Key())
}

func TestBuild_Unread(t *testing.T) {
	groups := Build([]Row{
		row(5, "bob", model.ReasonFollow, "", 0),
		row(3, "carol", model.ReasonFollow, "", 1),
	}, 4)
	require.Len(t, groups, 2)
	assert.True(t, groups[0].Unread)
	assert.False(t, groups[1].Unread)
	assert.Equal(t, int64(5), NewestID([]Row{row(3, "a", model.ReasonFollow, "", 0), row(5, "b", model.ReasonFollow, "", 0)}))
}

type blockingRunner struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
	got     []int64
	mu      sync.Mutex
}

func (b *blockingRunner) Run(_ context.Context, a action.Action) (int64, error) {
	b.calls.Add(1)
	b.mu.Lock()
	b.got = append(b.got, a.(action.MarkNotificationsSeen).NotificationID)
	b.mu.Unlock()
	if b.release != nil {
		<-b.release
	}
	return 1, b.err
}

func TestWatermark_SingleWriteWhileInFlight(t *testing.T) {
	r := &blockingRunner{release: make(chan struct{})}
	w := NewWatermark(r, "me")

	var wg sync.WaitGroup
	results := make(chan bool, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := w.Advance(context.Background(), 1, 9)
			assert.NoError(t, err)
			results <- ok
		}()
	}
	require.Eventually(t, func() bool { return r.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(r.release)
	wg.Wait()
	close(results)

	issued := 0
	for ok := range results {
		if ok {
			issued++
		}
	}
	assert.Equal(t, 1, issued)
	assert.Equal(t, int32(1), r.calls.Load())

	// 同一 ID 不会重复发送
	ok, err := w.Advance(context.Background(), 1, 9)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWatermark_NoWriteWhenAlreadySeen(t *testing.T) {
	r := &blockingRunner{}
	w := NewWatermark(r, "me")
	ok, err := w.Advance(context.Background(), 9, 9)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, r.calls.Load())
}

func TestWatermark_FailureAllowsRetry(t *testing.T) {
	r := &blockingRunner{err: apperrors.Transport("offline", nil)}
	w := NewWatermark(r, "me")
	_, err := w.Advance(context.Background(), 0, 3)
	assert.ErrorIs(t, err, apperrors.ErrTransport)

	r.err = nil
	ok, err := w.Advance(context.Background(), 0, 3)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []int64{3, 3}, r.got)
}
