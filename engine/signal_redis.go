package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vantris/erpagent/types"
)

const (
	redisSignalKeyPrefix  = "erpagent:interrupt:"
	redisSignalChanPrefix = "erpagent:interrupt:events:"

	// Published interrupts expire defensively so an abandoned thread
	// does not hold its key forever. The checkpoint keeps the truth.
	redisSignalTTL = 24 * time.Hour
)

// RedisSignal publishes pending-approval notifications through Redis so
// multiple API nodes can observe interrupts raised on any of them. Keys
// carry the payload for polling; pub/sub carries the change events for
// streaming subscribers.
type RedisSignal struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisSignal creates a Redis-backed signal channel over an existing
// client. The caller owns the client lifecycle.
func NewRedisSignal(client *redis.Client, logger *zap.Logger) *RedisSignal {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSignal{
		client: client,
		logger: logger.With(zap.String("component", "redis_signal")),
	}
}

var _ Signal = (*RedisSignal)(nil)

func (s *RedisSignal) Set(ctx context.Context, threadID string, pending types.PendingToolCall) error {
	data, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("marshal interrupt: %w", err)
	}
	if err := s.client.Set(ctx, redisSignalKeyPrefix+threadID, data, redisSignalTTL).Err(); err != nil {
		return fmt.Errorf("set interrupt key: %w", err)
	}
	if err := s.client.Publish(ctx, redisSignalChanPrefix+threadID, data).Err(); err != nil {
		return fmt.Errorf("publish interrupt event: %w", err)
	}
	return nil
}

func (s *RedisSignal) Clear(ctx context.Context, threadID string) error {
	if err := s.client.Del(ctx, redisSignalKeyPrefix+threadID).Err(); err != nil {
		return fmt.Errorf("delete interrupt key: %w", err)
	}
	if err := s.client.Publish(ctx, redisSignalChanPrefix+threadID, "").Err(); err != nil {
		return fmt.Errorf("publish clear event: %w", err)
	}
	return nil
}

func (s *RedisSignal) Get(ctx context.Context, threadID string) (types.PendingToolCall, bool, error) {
	data, err := s.client.Get(ctx, redisSignalKeyPrefix+threadID).Bytes()
	if err == redis.Nil {
		return types.PendingToolCall{}, false, nil
	}
	if err != nil {
		return types.PendingToolCall{}, false, fmt.Errorf("get interrupt key: %w", err)
	}
	var pending types.PendingToolCall
	if err := json.Unmarshal(data, &pending); err != nil {
		return types.PendingToolCall{}, false, fmt.Errorf("decode interrupt payload: %w", err)
	}
	return pending, true, nil
}

func (s *RedisSignal) Subscribe(ctx context.Context, threadID string) (<-chan *types.PendingToolCall, error) {
	sub := s.client.Subscribe(ctx, redisSignalChanPrefix+threadID)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe interrupt channel: %w", err)
	}

	out := make(chan *types.PendingToolCall, 4)
	go func() {
		defer close(out)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				var event *types.PendingToolCall
				if msg.Payload != "" {
					var pending types.PendingToolCall
					if err := json.Unmarshal([]byte(msg.Payload), &pending); err != nil {
						s.logger.Warn("malformed interrupt event", zap.Error(err))
						continue
					}
					event = &pending
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
