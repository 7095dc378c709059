package service

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/feedsync/pkg/logger"
	"github.com/d60-Lab/feedsync/pkg/metrics"
)

const sinkRedis = "redis"

type publishJob struct {
	offset int64
	enqAt  time.Time
}

// ChangePublisher 把本实例提交的变更水位异步发布到 redis 频道，其他实例的 ChangeWatcher 订阅后唤醒长轮询。
// 队列满时丢弃：watcher 的轮询兜底。
type ChangePublisher struct {
	rdb       *redis.Client
	channel   string
	ch        chan publishJob
	metrics   *metrics.Metrics
	metricsCh chan time.Duration
}

func NewChangePublisher(rdb *redis.Client, channel string, queueSize int, m *metrics.Metrics) *ChangePublisher {
	if queueSize <= 0 {
		queueSize = 10000
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &ChangePublisher{
		rdb:       rdb,
		channel:   channel,
		ch:        make(chan publishJob, queueSize),
		metrics:   m,
		metricsCh: make(chan time.Duration, 4096),
	}
}

func (p *ChangePublisher) Start(workers int) func(context.Context) error {
	if workers <= 0 {
		workers = 2
	}
	stopCh := make(chan struct{})
	for i := 0; i < workers; i++ {
		go func() {
			for {
				select {
				case job := <-p.ch:
					p.publish(job)
				case <-stopCh:
					return
				}
			}
		}()
	}
	return func(ctx context.Context) error {
		close(stopCh)
		// 排空剩余水位，只需要最大的那个
		var last publishJob
		for {
			select {
			case job := <-p.ch:
				if job.offset > last.offset {
					last = job
				}
			default:
				if last.offset > 0 {
					p.publish(last)
				}
				return nil
			}
		}
	}
}

func (p *ChangePublisher) publish(job publishJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.rdb.Publish(ctx, p.channel, strconv.FormatInt(job.offset, 10)).Err(); err != nil {
		logger.Warn("publish change offset failed", zap.Int64("offset", job.offset), zap.Error(err))
		return
	}
	p.metrics.ChangesPublished.WithLabelValues(sinkRedis).Inc()
	select {
	case p.metricsCh <- time.Since(job.enqAt):
	default:
	}
}

// Notify 实现 ChangeSink
func (p *ChangePublisher) Notify(offset int64) {
	if offset <= 0 {
		return
	}
	select {
	case p.ch <- publishJob{offset: offset, enqAt: time.Now()}:
	default:
		logger.Warn("publish queue full, drop offset", zap.Int64("offset", offset))
	}
}

// Metrics 返回 入队->发布 耗时的只读通道
func (p *ChangePublisher) Metrics() <-chan time.Duration { return p.metricsCh }

// QueueLen 当前队列长度（采样值）
func (p *ChangePublisher) QueueLen() int { return len(p.ch) }
