// Package cache shields the upstream API behind a two-tier read-through
// cache: a fast in-process tier and a durable Redis tier. Misses for the
// same key collapse into a single upstream fetch.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/your-org/repo-governor/pkg/metrics"
)

// FetchFunc performs the upstream fetch on a full miss.
type FetchFunc func(ctx context.Context) ([]byte, error)

// TieredCache looks up the in-process tier, then the durable tier, then
// invokes the fetch. A durable hit back-fills the in-process tier; a
// full miss populates both.
type TieredCache struct {
	memory    *memoryTier
	durable   DurableTier
	memoryTTL time.Duration
	group     singleflight.Group
	logger    *zap.SugaredLogger
	metrics   *metrics.Metrics
}

// New builds a tiered cache. durable may be nil, leaving only the
// in-process tier. memoryTTL caps how long the fast tier holds entries
// regardless of the per-request TTL.
func New(durable DurableTier, memoryTTL time.Duration, logger *zap.SugaredLogger, m *metrics.Metrics) *TieredCache {
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return &TieredCache{
		memory:    newMemoryTier(),
		durable:   durable,
		memoryTTL: memoryTTL,
		logger:    logger,
		metrics:   m,
	}
}

// GetOrFetch returns the cached payload for key, fetching on a full
// miss. ttl governs the durable tier; the in-process tier uses the
// shorter of ttl and the configured memory TTL. Concurrent callers for
// the same key during a miss await one in-flight fetch.
func (c *TieredCache) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc) ([]byte, error) {
	if payload, ok := c.memory.get(key, time.Now()); ok {
		c.metrics.CacheHits.WithLabelValues("memory").Inc()
		return payload, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		now := time.Now()
		// A caller that lost the flight race may find the winner's
		// freshly written entry here.
		if payload, ok := c.memory.get(key, now); ok {
			c.metrics.CacheHits.WithLabelValues("memory").Inc()
			return payload, nil
		}

		if c.durable != nil {
			if payload, ok := c.durable.Get(ctx, key); ok {
				c.metrics.CacheHits.WithLabelValues("durable").Inc()
				c.memory.set(key, payload, c.memoryLimit(ttl), now)
				return payload, nil
			}
		}

		c.metrics.CacheMisses.Inc()
		payload, err := fetch(ctx)
		if err != nil {
			return nil, err
		}

		c.memory.set(key, payload, c.memoryLimit(ttl), now)
		if c.durable != nil {
			c.durable.Set(ctx, key, payload, ttl)
		}
		return payload, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (c *TieredCache) memoryLimit(ttl time.Duration) time.Duration {
	if c.memoryTTL > 0 && c.memoryTTL < ttl {
		return c.memoryTTL
	}
	return ttl
}

// Fingerprint derives a collision-resistant cache key from the logical
// request shape. Identical semantic requests always map to identical
// keys; transport details never participate.
func Fingerprint(category string, parts ...string) string {
	h := sha256.New()
	h.Write([]byte(category))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(parts, "\x00")))
	return category + ":" + hex.EncodeToString(h.Sum(nil))[:32]
}
