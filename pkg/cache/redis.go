package cache

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// DurableTier is the slower, longer-TTL tier shared across processes.
// Implementations must be multi-writer-safe; keyed writes only.
type DurableTier interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration)
}

// RedisTier stores cache entries in Redis with server-side expiry. The
// tier is advisory: any Redis failure degrades to a cache miss so the
// upstream fetch still happens.
type RedisTier struct {
	client *redis.Client
	prefix string
	logger *zap.SugaredLogger
}

// NewRedisTier connects to Redis and verifies the connection.
func NewRedisTier(ctx context.Context, addr, password string, db int, logger *zap.SugaredLogger) (*RedisTier, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisTier{client: client, prefix: "governor:cache:", logger: logger}, nil
}

// Get returns the payload for key, or a miss on absence or error.
func (t *RedisTier) Get(ctx context.Context, key string) ([]byte, bool) {
	payload, err := t.client.Get(ctx, t.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		t.logger.Warnw("durable cache read failed", "key", key, "error", err)
		return nil, false
	}
	return payload, true
}

// Set writes the payload with the given TTL. Failures are logged and
// dropped; the durable tier is an optimization, not a source of truth.
func (t *RedisTier) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if err := t.client.Set(ctx, t.prefix+key, payload, ttl).Err(); err != nil {
		t.logger.Warnw("durable cache write failed", "key", key, "error", err)
	}
}

// Close releases the Redis connection pool.
func (t *RedisTier) Close() error {
	return t.client.Close()
}
