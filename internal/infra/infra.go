// Package infra connects to the optional external services: Redis for
// credential and OTP storage, Postgres for the simulated backend's users.
package infra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/glaucare/glaucare/internal/logging"
)

// Resources holds whichever connections were configured. Unset ones are nil.
type Resources struct {
	DB     *pgxpool.Pool
	Cache  *redis.Client
	logger *slog.Logger
}

// Open connects to Postgres and Redis when their URLs are set.
func Open(ctx context.Context, databaseURL, redisURL string, logger *slog.Logger) (*Resources, error) {
	r := &Resources{logger: logging.OrDiscard(logger)}
	if databaseURL != "" {
		db, err := NewPostgresPool(ctx, databaseURL)
		if err != nil {
			return nil, err
		}
		r.DB = db
	}
	if redisURL != "" {
		cache, err := NewRedisClient(ctx, redisURL)
		if err != nil {
			r.Close()
			return nil, err
		}
		r.Cache = cache
	}
	return r, nil
}

// Close releases every open connection.
func (r *Resources) Close() {
	if r.DB != nil {
		r.DB.Close()
	}
	if r.Cache != nil {
		if err := r.Cache.Close(); err != nil {
			r.logger.Warn("close redis", slog.Any("error", err))
		}
	}
}

// NewPostgresPool configures a PostgreSQL connection pool and pings it.
func NewPostgresPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	if url == "" {
		return nil, errors.New("database url is required")
	}
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// NewRedisClient configures a Redis client from a redis:// URL and pings it.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, errors.New("redis url is required")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
