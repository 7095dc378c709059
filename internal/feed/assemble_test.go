package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/feedsync/internal/model"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func root(id string) model.Post {
	return model.Post{ID: id, CreatorID: model.Ptr("u-" + id), Content: id, ReplyRootID: model.Ptr(id)}
}

func reply(id, parent, rootID string) model.Post {
	return model.Post{ID: id, CreatorID: model.Ptr("u-" + id), Content: id, ReplyParentID: model.Ptr(parent), ReplyRootID: model.Ptr(rootID)}
}

func user(id string) *model.User { return &model.User{ID: id, Username: id} }

func ptr(p model.Post) *model.Post { return &p }

func postRow(p model.Post, minutesAgo int) Row {
	r := Row{
		FeedItem: model.FeedItem{CreatorID: *p.CreatorID, Type: model.FeedItemPost, PostID: p.ID, CreatedAt: t0.Add(-time.Duration(minutesAgo) * time.Minute)},
		Post:     p,
		User:     user(*p.CreatorID),
	}
	return r
}

func withThread(r Row, parent, rootPost *model.Post) Row {
	r.ReplyParent = parent
	r.ReplyRoot = rootPost
	if parent != nil {
		r.ReplyParentUser = user(*parent.CreatorID)
	}
	if rootPost != nil {
		r.ReplyRootUser = user(*rootPost.CreatorID)
	}
	return r
}

func repostRow(p model.Post, by string, minutesAgo int) Row {
	return Row{
		FeedItem: model.FeedItem{CreatorID: by, Type: model.FeedItemRepost, PostID: p.ID, CreatedAt: t0.Add(-time.Duration(minutesAgo) * time.Minute)},
		Post:     p,
		User:     user(*p.CreatorID),
	}
}

func ids(g Group) []string {
	out := make([]string, len(g.Items))
	for i, it := range g.Items {
		out[i] = it.Post.ID
	}
	return out
}

func roles(g Group) []Role {
	out := make([]Role, len(g.Items))
	for i, it := range g.Items {
		out[i] = it.Role
	}
	return out
}

func TestAssemble_SingleRootPost(t *testing.T) {
	a := root("a")
	groups := Assemble([]Row{withThread(postRow(a, 0), nil, ptr(a))})
	require.Len(t, groups, 1)
	assert.Equal(t, []string{"a"}, ids(groups[0]))
	assert.Equal(t, []Role{RoleSingle}, roles(groups[0]))
	assert.False(t, groups[0].Items[0].ThreadGap)
}

func TestAssemble_ThreadChain(t *testing.T) {
	a := root("a")
	b := reply("b", "a", "a")
	c := reply("c", "b", "a")

	groups := Assemble([]Row{withThread(postRow(c, 0), ptr(b), ptr(a))})
	require.Len(t, groups, 1)
	g := groups[0]
	assert.Equal(t, []string{"a", "b", "c"}, ids(g))
	assert.Equal(t, []Role{RoleRoot, RoleParent, RoleChild}, roles(g))
	assert.False(t, g.Items[1].ThreadGap)
	assert.False(t, g.Items[2].ThreadGap)
}

func TestAssemble_ParentEqualToRootIsNotRepeated(t *testing.T) {
	a := root("a")
	b := reply("b", "a", "a")
	groups := Assemble([]Row{withThread(postRow(b, 0), ptr(a), ptr(a))})
	require.Len(t, groups, 1)
	assert.Equal(t, []string{"a", "b"}, ids(groups[0]))
	assert.Equal(t, []Role{RoleRoot, RoleChild}, roles(groups[0]))
}

func TestAssemble_ThreadGapWhenAncestorsMissing(t *testing.T) {
	a := root("a")
	c := reply("c", "b", "a")
	d := reply("d", "c", "a")
	// d 的父帖 c 不直接回复根帖 a：a 与 c 之间缺少 b
	groups := Assemble([]Row{withThread(postRow(d, 0), ptr(c), ptr(a))})
	require.Len(t, groups, 1)
	g := groups[0]
	assert.Equal(t, []string{"a", "c", "d"}, ids(g))
	assert.True(t, g.Items[1].ThreadGap)
	assert.False(t, g.Items[2].ThreadGap)
}

func TestAssemble_ThreadGapWhenRootShownEarlier(t *testing.T) {
	r := root("r")
	p := reply("p", "r", "r")
	l := reply("l", "p", "r")
	groups := Assemble([]Row{
		withThread(postRow(r, 0), nil, ptr(r)),
		withThread(postRow(l, 1), ptr(p), ptr(r)),
	})
	require.Len(t, groups, 2)
	g := groups[1]
	assert.Equal(t, []string{"p", "l"}, ids(g))
	assert.Equal(t, []Role{RoleRoot, RoleChild}, roles(g))
	assert.True(t, g.Items[0].ThreadGap, "root r is hidden above p")
	assert.False(t, g.Items[1].ThreadGap)
}

func TestAssemble_DropsPostAlreadyShownAsAncestor(t *testing.T) {
	a := root("a")
	b := reply("b", "a", "a")
	rows := []Row{
		withThread(postRow(b, 0), ptr(a), ptr(a)),
		withThread(postRow(a, 5), nil, ptr(a)),
	}
	groups := Assemble(rows)
	require.Len(t, groups, 1)
	assert.Equal(t, []string{"a", "b"}, ids(groups[0]))
}

func TestAssemble_SharedRootOnlyOnce(t *testing.T) {
	a := root("a")
	b := reply("b", "a", "a")
	c := reply("c", "a", "a")
	groups := Assemble([]Row{
		withThread(postRow(c, 0), ptr(a), ptr(a)),
		withThread(postRow(b, 1), ptr(a), ptr(a)),
	})
	require.Len(t, groups, 2)
	assert.Equal(t, []string{"a", "c"}, ids(groups[0]))
	assert.Equal(t, []string{"b"}, ids(groups[1]))
	assert.Equal(t, RoleSingle, groups[1].Items[0].Role)
	assert.True(t, groups[1].Items[0].ThreadGap, "root already shown above")
	assert.True(t, groups[1].Items[0].Post.IsReply())
}

func TestAssemble_RepostsAreNeverDeduplicated(t *testing.T) {
	a := root("a")
	groups := Assemble([]Row{
		repostRow(a, "carol", 0),
		withThread(postRow(a, 3), nil, ptr(a)),
		repostRow(a, "dave", 4),
	})
	require.Len(t, groups, 3)
	assert.True(t, groups[0].IsRepost())
	assert.Equal(t, "carol", groups[0].RepostedBy())
	assert.False(t, groups[1].IsRepost())
	assert.Equal(t, "", groups[1].RepostedBy())
	assert.Equal(t, "dave", groups[2].RepostedBy())
	for _, g := range groups {
		assert.Equal(t, []string{"a"}, ids(g))
	}
}

func TestAssemble_SeenSetSpansPages(t *testing.T) {
	a := root("a")
	b := reply("b", "a", "a")
	page1 := []Row{withThread(postRow(b, 0), ptr(a), ptr(a))}
	page2 := []Row{withThread(postRow(a, 60), nil, ptr(a))}

	groups := Assemble(page1, page2)
	require.Len(t, groups, 1)

	asm := NewAssembler()
	assert.Len(t, asm.Append(page1), 1)
	assert.Empty(t, asm.Append(page2))
	assert.True(t, asm.Seen("a"))
}

func TestAssemble_NoPostTwiceAcrossNonRepostGroups(t *testing.T) {
	a := root("a")
	b := reply("b", "a", "a")
	c := reply("c", "b", "a")
	x := root("x")
	y := reply("y", "x", "x")
	rows := []Row{
		withThread(postRow(c, 0), ptr(b), ptr(a)),
		withThread(postRow(y, 1), ptr(x), ptr(x)),
		withThread(postRow(b, 2), ptr(a), ptr(a)),
		repostRow(b, "carol", 3),
		withThread(postRow(x, 4), nil, ptr(x)),
		withThread(postRow(a, 5), nil, ptr(a)),
	}
	counts := map[string]int{}
	for _, g := range Assemble(rows[:3], rows[3:]) {
		if g.IsRepost() {
			continue
		}
		for _, it := range g.Items {
			counts[it.Post.ID]++
		}
	}
	for id, n := range counts {
		assert.Equal(t, 1, n, "post %s", id)
	}
	assert.Len(t, counts, 5)
}

func TestGroup_KeyUsesLeafAndFeedItem(t *testing.T) {
	a := root("a")
	b := reply("b", "a", "a")
	g := Assemble([]Row{withThread(postRow(b, 0), ptr(a), ptr(a))})[0]
	assert.Equal(t, "b/u-b/post/b", g.Key())
	assert.Equal(t, "b", g.Leaf().Post.ID)

	r := Assemble([]Row{repostRow(a, "carol", 0)})[0]
	assert.Equal(t, "a/carol/repost/a", r.Key())
}
