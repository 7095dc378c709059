// Package feed 把 feed item 连接结果组装成去重后的线程分组。
package feed

import "github.com/d60-Lab/feedsync/internal/model"

// Row 查询引擎输出的一行：feed item + 帖子 + 作者 + 可选的父帖 / 根帖
type Row struct {
	FeedItem        model.FeedItem
	Post            model.Post
	User            *model.User
	ReplyParent     *model.Post
	ReplyParentUser *model.User
	ReplyRoot       *model.Post
	ReplyRootUser   *model.User
}

type Role string

const (
	RoleSingle Role = "single"
	RoleRoot   Role = "root"
	RoleParent Role = "parent"
	RoleChild  Role = "child"
)

// Item 线程链中的一个帖子
type Item struct {
	Post model.Post
	User *model.User
	Role Role
	// ThreadGap 与上一个元素之间还有未取到的祖先（首元素为回复时也算），需渲染“查看完整线程”
	ThreadGap bool
}

// Group 一个渲染单元：单帖、转发，或 root → parent → leaf 链
type Group struct {
	FeedItem model.FeedItem
	Items    []Item
}

// Key 由最后一个帖子与 feed item 三元组组成，重算后行身份不变
func (g Group) Key() string {
	last := ""
	if n := len(g.Items); n > 0 {
		last = g.Items[n-1].Post.ID
	}
	return model.CompositeKey(last, g.FeedItem.CreatorID, g.FeedItem.Type, g.FeedItem.PostID)
}

// IsRepost 该分组是否来自转发
func (g Group) IsRepost() bool { return g.FeedItem.Type == model.FeedItemRepost }

// RepostedBy 转发者 ID，非转发为空串
func (g Group) RepostedBy() string {
	if !g.IsRepost() {
		return ""
	}
	return g.FeedItem.CreatorID
}

// Leaf 分组的最后一个帖子
func (g Group) Leaf() Item { return g.Items[len(g.Items)-1] }

// Assembler 在同一个 feed 实例的多页之间保持 seen 集合
type Assembler struct {
	seen map[string]struct{}
}

func NewAssembler() *Assembler {
	return &Assembler{seen: make(map[string]struct{})}
}

// Assemble 对全部页从头组装；每次查询结果变化后重跑
func Assemble(pages ...[]Row) []Group {
	a := NewAssembler()
	var out []Group
	for _, page := range pages {
		out = append(out, a.Append(page)...)
	}
	return out
}

// Append 组装追加的一页，返回其中非空的分组
func (a *Assembler) Append(rows []Row) []Group {
	out := make([]Group, 0, len(rows))
	for _, row := range rows {
		if g, ok := a.group(row); ok {
			out = append(out, g)
		}
	}
	return out
}

// Seen 帖子是否已经出现在非转发分组中
func (a *Assembler) Seen(postID string) bool {
	_, ok := a.seen[postID]
	return ok
}

func (a *Assembler) mark(id string) { a.seen[id] = struct{}{} }

func (a *Assembler) group(row Row) (Group, bool) {
	g := Group{FeedItem: row.FeedItem}

	// 转发不参与去重
	if row.FeedItem.Type == model.FeedItemRepost {
		g.Items = []Item{{Post: row.Post, User: row.User}}
		return finish(g), true
	}

	// 先查 leaf 再补祖先：被丢弃的行不会把祖先标记为已出现
	if a.Seen(row.Post.ID) {
		// 已作为更早行的 root / parent 出现过：整行丢弃
		return Group{}, false
	}

	var rootID string
	if root := row.ReplyRoot; root != nil && root.ID != row.Post.ID && !a.Seen(root.ID) {
		g.Items = append(g.Items, Item{Post: *root, User: row.ReplyRootUser})
		a.mark(root.ID)
		rootID = root.ID
	} else if root != nil {
		rootID = root.ID
	}
	if parent := row.ReplyParent; parent != nil && parent.ID != rootID && parent.ID != row.Post.ID && !a.Seen(parent.ID) {
		g.Items = append(g.Items, Item{Post: *parent, User: row.ReplyParentUser})
		a.mark(parent.ID)
	}
	g.Items = append(g.Items, Item{Post: row.Post, User: row.User})
	a.mark(row.Post.ID)
	return finish(g), true
}

// finish 标注角色与线程缺口
func finish(g Group) Group {
	n := len(g.Items)
	for i := range g.Items {
		switch {
		case n == 1:
			g.Items[i].Role = RoleSingle
		case i == 0:
			g.Items[i].Role = RoleRoot
		case i == n-1:
			g.Items[i].Role = RoleChild
		default:
			g.Items[i].Role = RoleParent
		}
		if i > 0 {
			g.Items[i].ThreadGap = g.Items[i].Post.ParentID() != g.Items[i-1].Post.ID
		} else {
			// 首元素本身是回复：根帖已在别处出现或未取到
			g.Items[i].ThreadGap = g.Items[i].Post.ParentID() != ""
		}
	}
	return g
}
