package syncclient

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/feedsync/internal/shape"
	"github.com/d60-Lab/feedsync/internal/store"
	apperrors "github.com/d60-Lab/feedsync/pkg/errors"
	"github.com/d60-Lab/feedsync/pkg/logger"
)

// Subscriber 驱动一个集合：BeginSync → 快照 → MarkReady → 增量。
// 传输错误按退避重试，连续失败 maxRetries 次或遇到终态错误后集合进入 error。
type Subscriber struct {
	source     Source
	maxRetries int
	backoff    time.Duration
}

type SubscriberOption func(*Subscriber)

func WithRetries(n int, backoff time.Duration) SubscriberOption {
	return func(s *Subscriber) {
		s.maxRetries = n
		s.backoff = backoff
	}
}

func NewSubscriber(source Source, opts ...SubscriberOption) *Subscriber {
	s := &Subscriber{source: source, maxRetries: 5, backoff: 500 * time.Millisecond}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run 阻塞直到 ctx 取消或集合失败
func (s *Subscriber) Run(ctx context.Context, c store.Syncable) error {
	c.BeginSync()
	offset := shape.OffsetBeforeAll
	ready := false
	failures := 0

	var feed Feed
	defer func() {
		if feed != nil {
			feed.Close()
		}
	}()

	for {
		if feed == nil {
			f, err := s.source.Open(ctx, c.Name(), offset)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if failures, err = s.retry(ctx, c, failures, err); err != nil {
					return err
				}
				continue
			}
			feed = f
		}

		msgs, err := feed.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			feed.Close()
			feed = nil
			if failures, err = s.retry(ctx, c, failures, err); err != nil {
				return err
			}
			continue
		}
		failures = 0

		if mustRefetch(msgs) {
			logger.Info("shape must be refetched", zap.String("entity", c.Name()), zap.Int64("offset", offset))
			c.Reset()
			offset = shape.OffsetBeforeAll
			feed.Close()
			feed = nil
			continue
		}
		if err := c.ApplySync(msgs); err != nil {
			c.Fail(err)
			return err
		}
		offset = shape.LastOffset(msgs, offset)
		if !ready && upToDate(msgs) {
			c.MarkReady()
			ready = true
		}
	}
}

// retry 终态错误或超过重试次数时让集合失败
func (s *Subscriber) retry(ctx context.Context, c store.Syncable, failures int, err error) (int, error) {
	failures++
	if !retryable(err) || failures > s.maxRetries {
		logger.Error("shape sync failed", zap.String("entity", c.Name()), zap.Int("attempts", failures), zap.Error(err))
		c.Fail(err)
		return failures, err
	}
	logger.Warn("shape sync retry", zap.String("entity", c.Name()), zap.Int("attempt", failures), zap.Error(err))
	select {
	case <-ctx.Done():
		return failures, ctx.Err()
	case <-time.After(s.backoff * time.Duration(failures)):
		return failures, nil
	}
}

func retryable(err error) bool {
	switch apperrors.CodeOf(err) {
	case apperrors.CodeUnavailable, apperrors.CodeDeadlineExceeded:
		return true
	}
	return false
}

func mustRefetch(msgs []shape.Message) bool {
	for _, m := range msgs {
		if m.Headers.Control == shape.ControlMustRefetch {
			return true
		}
	}
	return false
}

func upToDate(msgs []shape.Message) bool {
	return len(msgs) > 0 && msgs[len(msgs)-1].Headers.Control == shape.ControlUpToDate
}
