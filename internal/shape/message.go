// Package shape 定义 shape 订阅的线上消息格式，服务端与客户端共用。
package shape

import (
	"encoding/json"
	"strconv"
)

const (
	ControlUpToDate    = "up-to-date"
	ControlMustRefetch = "must-refetch"

	// OffsetBeforeAll 请求完整快照
	OffsetBeforeAll int64 = -1
)

// Headers 消息头；数据消息带 operation 与 txids，控制消息只带 control
type Headers struct {
	Operation string  `json:"operation,omitempty"`
	Control   string  `json:"control,omitempty"`
	TxIDs     []int64 `json:"txids,omitempty"`
}

// Message 一条 upsert/delete 或控制消息
type Message struct {
	Headers Headers         `json:"headers"`
	Key     string          `json:"key,omitempty"`
	Value   json.RawMessage `json:"value,omitempty"`
	Offset  int64           `json:"offset"`
}

// IsControl 是否控制消息
func (m Message) IsControl() bool { return m.Headers.Control != "" }

// UpToDate 构造 up-to-date 控制消息
func UpToDate(offset int64) Message {
	return Message{Headers: Headers{Control: ControlUpToDate}, Offset: offset}
}

// LastOffset 返回批次中最大的 offset，空批次返回 fallback
func LastOffset(msgs []Message, fallback int64) int64 {
	last := fallback
	for _, m := range msgs {
		if m.Offset > last {
			last = m.Offset
		}
	}
	return last
}

// ParseOffset 解析 offset 查询参数，空串视为快照请求
func ParseOffset(raw string) (int64, error) {
	if raw == "" {
		return OffsetBeforeAll, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
