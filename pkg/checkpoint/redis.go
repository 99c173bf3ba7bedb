package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"postpulse/pkg/logger"
)

// RedisStore keeps a checkpoint under a single Redis key so that a walk can be resumed from
// another machine.
type RedisStore struct {
	client *redis.Client
	key    string
	logger logger.Logger
}

// NewRedisStore creates a store for the named walk. Keys are <prefix>checkpoint:<name>.
func NewRedisStore(client *redis.Client, prefix, name string, log logger.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		key:    fmt.Sprintf("%scheckpoint:%s", prefix, name),
		logger: logger.OrNop(log),
	}
}

// Key returns the Redis key holding the checkpoint.
func (s *RedisStore) Key() string {
	return s.key
}

func (s *RedisStore) Load(ctx context.Context) (*CrawlState, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint %s: %w", s.key, err)
	}

	state, err := Deserialize(data)
	if err != nil {
		return nil, err
	}
	s.logger.InfoWithFields("Checkpoint loaded", state.Progress().Fields())
	return state, nil
}

func (s *RedisStore) Save(ctx context.Context, state *CrawlState) error {
	state.UpdatedAt = time.Now().UTC()

	data, err := state.Serialize()
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write checkpoint %s: %w", s.key, err)
	}

	s.logger.DebugWithFields("Checkpoint saved", state.Progress().Fields())
	return nil
}

func (s *RedisStore) Delete(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to delete checkpoint %s: %w", s.key, err)
	}
	s.logger.InfoWithFields("Checkpoint deleted", map[string]interface{}{"key": s.key})
	return nil
}

func (s *RedisStore) Exists(ctx context.Context) (bool, error) {
	n, err := s.client.Exists(ctx, s.key).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
