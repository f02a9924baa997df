package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Store backed by a Redis server.
type Redis struct {
	client    *redis.Client
	opTimeout time.Duration
	logger    *slog.Logger
}

// NewRedis connects to the Redis server at rawURL and verifies the connection.
func NewRedis(ctx context.Context, rawURL string, opts ...Option) (*Redis, error) {
	o := newOptions(opts)

	ropts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	ropts.PoolSize = 10
	ropts.MinIdleConns = 2
	ropts.MaxRetries = 3
	ropts.DialTimeout = 5 * time.Second
	ropts.ReadTimeout = 3 * time.Second
	ropts.WriteTimeout = 3 * time.Second

	r := newRedis(redis.NewClient(ropts), o)

	pingCtx, cancel := context.WithTimeout(ctx, o.opTimeout)
	defer cancel()
	if err := r.client.Ping(pingCtx).Err(); err != nil {
		_ = r.client.Close()
		return nil, &TransportError{Op: "ping", Key: ropts.Addr, Err: err}
	}

	r.logger.Debug("redis connection established", "addr", ropts.Addr, "db", ropts.DB)
	return r, nil
}

func newRedis(client *redis.Client, o *options) *Redis {
	return &Redis{
		client:    client,
		opTimeout: o.opTimeout,
		logger:    o.logger.With("component", "store.redis"),
	}
}

// Get retrieves the value at key.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	val, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, &TransportError{Op: "get", Key: key, Err: err}
	}
	return val, nil
}

// Exists checks if a key exists.
func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, &TransportError{Op: "exists", Key: key, Err: err}
	}
	return n > 0, nil
}

// Set stores value at key. A zero ttl keeps the entry until evicted.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return &TransportError{Op: "set", Key: key, Err: err}
	}
	return nil
}

// Close closes the connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.opTimeout)
}

var _ Store = (*Redis)(nil)
