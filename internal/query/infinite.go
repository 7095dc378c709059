package query

import (
	"sync"

	"github.com/d60-Lab/feedsync/internal/feed"
	"github.com/d60-Lab/feedsync/internal/store"
)

const DefaultPageSize = 20

// Infinite 游标分页的时间线。
// 已取到的页由取页时记录的排序键封口，重算后行不会在页间移动；
// 第一页没有上界，新行总是进入第一页；最后一页是开放页，最多 pageSize 行。
type Infinite struct {
	live     *Live[[]feed.Row]
	pageSize int

	mu     sync.Mutex
	bounds []Cursor // bounds[i] 为第 i 页最后一行（含）
}

func NewInfinite(reg *store.Registry, f FeedFilter, pageSize int) *Infinite {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Infinite{
		live:     NewLive(reg, func(reg *store.Registry) []feed.Row { return FeedRows(reg, f) }, FeedDeps...),
		pageSize: pageSize,
	}
}

// Pages 按当前数据切分的已取页
func (q *Infinite) Pages() [][]feed.Row {
	q.mu.Lock()
	bounds := append([]Cursor(nil), q.bounds...)
	q.mu.Unlock()
	return q.split(q.live.Result(), bounds)
}

func (q *Infinite) split(rows []feed.Row, bounds []Cursor) [][]feed.Row {
	pages := make([][]feed.Row, 0, len(bounds)+1)
	i := 0
	for _, b := range bounds {
		start := i
		for i < len(rows) && !after(cursorOf(rows[i]), b) {
			i++
		}
		pages = append(pages, rows[start:i])
	}
	end := min(i+q.pageSize, len(rows))
	return append(pages, rows[i:end])
}

// HasNextPage 开放页之后还有行
func (q *Infinite) HasNextPage() bool {
	q.mu.Lock()
	bounds := append([]Cursor(nil), q.bounds...)
	q.mu.Unlock()
	rows := q.live.Result()
	n := 0
	for _, p := range q.split(rows, bounds) {
		n += len(p)
	}
	return n < len(rows)
}

// FetchNextPage 封口当前开放页并开启下一页；开放页不满时返回 false
func (q *Infinite) FetchNextPage() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	pages := q.split(q.live.Result(), q.bounds)
	open := pages[len(pages)-1]
	if len(open) < q.pageSize {
		return false
	}
	q.bounds = append(q.bounds, cursorOf(open[len(open)-1]))
	return true
}

// Groups 对全部已取页做线程组装与去重
func (q *Infinite) Groups() []feed.Group { return feed.Assemble(q.Pages()...) }

// Subscribe 数据变化后回调
func (q *Infinite) Subscribe(fn func()) func() {
	return q.live.Subscribe(func([]feed.Row) { fn() })
}

func (q *Infinite) Close() { q.live.Close() }
