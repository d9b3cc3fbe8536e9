package cache

import (
	"context"
	"sync"
	"time"
)

// entry is one in-process cache record. Payloads are opaque serialized
// responses; they are never trusted past createdAt+ttl.
type entry struct {
	payload   []byte
	createdAt time.Time
	ttl       time.Duration
}

func (e entry) expired(now time.Time) bool {
	return now.Sub(e.createdAt) >= e.ttl
}

// memoryTier is the fast short-TTL tier. Expired entries are evicted
// lazily on read; Janitor adds an optional periodic sweep for memory
// hygiene.
type memoryTier struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func newMemoryTier() *memoryTier {
	return &memoryTier{entries: make(map[string]entry)}
}

func (t *memoryTier) get(key string, now time.Time) ([]byte, bool) {
	t.mu.RLock()
	e, ok := t.entries[key]
	t.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if e.expired(now) {
		t.mu.Lock()
		// Re-check under the write lock; a fresher entry may have landed.
		if cur, ok := t.entries[key]; ok && cur.expired(now) {
			delete(t.entries, key)
		}
		t.mu.Unlock()
		return nil, false
	}
	return e.payload, true
}

func (t *memoryTier) set(key string, payload []byte, ttl time.Duration, now time.Time) {
	if ttl <= 0 {
		return
	}
	t.mu.Lock()
	t.entries[key] = entry{payload: payload, createdAt: now, ttl: ttl}
	t.mu.Unlock()
}

func (t *memoryTier) sweep(now time.Time) {
	t.mu.Lock()
	for key, e := range t.entries {
		if e.expired(now) {
			delete(t.entries, key)
		}
	}
	t.mu.Unlock()
}

// Janitor sweeps expired in-process entries at the given interval until
// the context is cancelled.
func (c *TieredCache) Janitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.memory.sweep(now)
		}
	}
}
