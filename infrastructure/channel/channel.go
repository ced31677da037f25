package channel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/SIRI-bit-tech/bidforge-sub000/infrastructure/logger"
)

var ErrUnavailable = errors.New("channel service unavailable")

const historyTTL = 7 * 24 * time.Hour

// Service is a pub/sub channel with bounded replay. Publishes go to a Redis
// live channel and into a sorted-set history trimmed to the retention bound.
type Service struct {
	client    *redis.Client
	retention int64
	log       *logger.Logger
}

func NewService(client *redis.Client, retention int64, log *logger.Logger) *Service {
	if retention <= 0 {
		retention = 100
	}
	return &Service{
		client:    client,
		retention: retention,
		log:       log,
	}
}

func liveKey(name string) string {
	return fmt.Sprintf("channel:%s:live", name)
}

func historyKey(name string) string {
	return fmt.Sprintf("channel:%s:history", name)
}

// Publish delivers payload to live subscribers and appends it to the
// channel's retained history.
func (s *Service) Publish(ctx context.Context, name string, payload []byte) error {
	now := time.Now()

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, historyKey(name), redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: string(payload),
	})
	pipe.ZRemRangeByRank(ctx, historyKey(name), 0, -(s.retention + 1))
	pipe.Expire(ctx, historyKey(name), historyTTL)
	pipe.Publish(ctx, liveKey(name), payload)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: publish to %s: %v", ErrUnavailable, name, err)
	}
	return nil
}

// History returns up to limit retained events, most recent first.
func (s *Service) History(ctx context.Context, name string, limit int64) ([][]byte, error) {
	if limit <= 0 || limit > s.retention {
		limit = s.retention
	}

	raw, err := s.client.ZRevRange(ctx, historyKey(name), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: history of %s: %v", ErrUnavailable, name, err)
	}

	events := make([][]byte, 0, len(raw))
	for _, r := range raw {
		events = append(events, []byte(r))
	}
	return events, nil
}

// Subscribe routes live events for the channel to handler until the returned
// unsubscribe function is called. The handler runs on a dedicated goroutine,
// one event at a time.
func (s *Service) Subscribe(ctx context.Context, name string, handler func([]byte)) (func(), error) {
	ps := s.client.Subscribe(ctx, liveKey(name))

	// Force the subscription handshake so failures surface here instead of
	// silently dropping events later.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%w: subscribe to %s: %v", ErrUnavailable, name, err)
	}

	go func() {
		for msg := range ps.Channel() {
			handler([]byte(msg.Payload))
		}
	}()

	unsubscribe := func() {
		if err := ps.Close(); err != nil {
			s.log.Warn("channel unsubscribe failed",
				zap.String("channel", name),
				zap.Error(err),
			)
		}
	}
	return unsubscribe, nil
}
