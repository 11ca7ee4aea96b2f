package devserver

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const consumedKeyPrefix = "refresh:used:"

// ConsumedTokens records refresh token ids that were already exchanged.
type ConsumedTokens interface {
	// Consume marks id as used and reports whether this call was the first.
	Consume(ctx context.Context, id string, ttl time.Duration) (bool, error)
}

type redisConsumed struct {
	cache *redis.Client
}

// NewRedisConsumedTokens uses SETNX so that concurrent exchanges of the same
// token race on a single key.
func NewRedisConsumedTokens(cache *redis.Client) ConsumedTokens {
	return &redisConsumed{cache: cache}
}

func (r *redisConsumed) Consume(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	return r.cache.SetNX(ctx, consumedKeyPrefix+id, 1, ttl).Result()
}

type memoryConsumed struct {
	mu   sync.Mutex
	used map[string]struct{}
}

func NewMemoryConsumedTokens() ConsumedTokens {
	return &memoryConsumed{used: make(map[string]struct{})}
}

func (m *memoryConsumed) Consume(_ context.Context, id string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.used[id]; ok {
		return false, nil
	}
	m.used[id] = struct{}{}
	return true, nil
}
