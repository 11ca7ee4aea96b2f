package credstore

import (
	"context"

	"github.com/redis/go-redis/v9"
)

type redisBackend struct {
	client    *redis.Client
	namespace string
}

// NewRedis builds a store keeping each key under "<namespace>:session:<key>".
// Multi-key writes run in a MULTI/EXEC transaction.
func NewRedis(client *redis.Client, namespace string) *KVStore {
	if namespace == "" {
		namespace = "glaucare"
	}
	return &KVStore{b: &redisBackend{client: client, namespace: namespace}}
}

func (r *redisBackend) key(k string) string {
	return r.namespace + ":session:" + k
}

func (r *redisBackend) get(ctx context.Context, keys ...string) (map[string]string, error) {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}
	vals, err := r.client.MGet(ctx, full...).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(keys))
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[keys[i]] = s
		}
	}
	return out, nil
}

func (r *redisBackend) set(ctx context.Context, values map[string]string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, v := range values {
			pipe.Set(ctx, r.key(k), v, 0)
		}
		return nil
	})
	return err
}

func (r *redisBackend) del(ctx context.Context, keys ...string) error {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}
	return r.client.Del(ctx, full...).Err()
}
