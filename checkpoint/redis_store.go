package checkpoint

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vantris/erpagent/types"
)

// RedisStore is a Redis-based Store. Suitable for distributed
// deployments. Each thread maps to one key; SET gives last-writer-wins
// atomicity for free.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	logger    *zap.Logger
}

// NewRedisStore creates a new Redis-based checkpoint store.
func NewRedisStore(cfg Config, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	keyPrefix := cfg.Redis.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "erpagent:"
	}

	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix + "checkpoint:",
		logger:    logger.With(zap.String("component", "redis_checkpoint_store")),
	}, nil
}

// NewRedisStoreFromClient wraps an existing client. Used by tests and by
// deployments sharing one connection pool with the interrupt signal.
func NewRedisStoreFromClient(client *redis.Client, keyPrefix string, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if keyPrefix == "" {
		keyPrefix = "erpagent:"
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix + "checkpoint:",
		logger:    logger.With(zap.String("component", "redis_checkpoint_store")),
	}
}

func (s *RedisStore) key(threadID string) string {
	return s.keyPrefix + threadID
}

func (s *RedisStore) Get(ctx context.Context, threadID string) (*types.ExecutionState, error) {
	if threadID == "" {
		return nil, ErrInvalidThread
	}

	data, err := s.client.Get(ctx, s.key(threadID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}

	state, uerr := types.UnmarshalExecutionState(data)
	if uerr != nil {
		s.logger.Warn("corrupt checkpoint, treating as new thread",
			zap.String("thread_id", threadID),
			zap.Error(uerr),
		)
		return nil, ErrNotFound
	}
	return state, nil
}

func (s *RedisStore) Put(ctx context.Context, state *types.ExecutionState) error {
	if state == nil || state.ThreadID == "" {
		return ErrInvalidThread
	}

	data, err := state.Marshal()
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(state.ThreadID), data, 0).Err()
}

func (s *RedisStore) Delete(ctx context.Context, threadID string) error {
	n, err := s.client.Del(ctx, s.key(threadID)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
