// Package metrics prometheus 指标
package metrics

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	// 客户端：乐观动作结果（committed / detached / rolled_back / rejected / coalesced）
	Actions *prometheus.CounterVec
	// 服务端：事件写入结果，按 HTTP 状态
	Events       *prometheus.CounterVec
	EventLatency *prometheus.HistogramVec
	// 服务端：shape 请求（snapshot / changes / live / ws）
	ShapeRequests *prometheus.CounterVec
	// 变更日志广播（本地 hub 与 redis）
	ChangesPublished *prometheus.CounterVec
}

// New 创建指标并注册到 reg；reg 为 nil 时不注册（测试）
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedsync_actions_total",
				Help: "Optimistic actions by name and outcome",
			},
			[]string{"action", "outcome"},
		),
		Events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedsync_events_total",
				Help: "Events accepted by the mutation endpoint, by type and status code",
			},
			[]string{"type", "status"},
		),
		EventLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "feedsync_event_duration_seconds",
				Help:    "Time spent applying an event transaction",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"type"},
		),
		ShapeRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedsync_shape_requests_total",
				Help: "Shape subscription requests by entity and mode",
			},
			[]string{"entity", "mode"},
		),
		ChangesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedsync_changes_published_total",
				Help: "Change notifications fanned out, by sink",
			},
			[]string{"sink"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.Actions)
		reg.MustRegister(m.Events)
		reg.MustRegister(m.EventLatency)
		reg.MustRegister(m.ShapeRequests)
		reg.MustRegister(m.ChangesPublished)
	}
	return m
}

// Nop 不注册的指标集合
func Nop() *Metrics { return New(nil) }
