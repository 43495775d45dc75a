package memory

import (
	"context"
	"sync"
	"time"
)

// StatusCache is the in-process equivalent of the Redis status cache,
// used when no Redis address is configured. Single-node only.
type StatusCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]statusEntry
}

type statusEntry struct {
	up        bool
	expiresAt time.Time
}

func NewStatusCache(ttl time.Duration) *StatusCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &StatusCache{
		ttl:     ttl,
		entries: make(map[string]statusEntry),
	}
}

func (c *StatusCache) Set(ctx context.Context, name string, up bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Cleanup expired
	now := time.Now()
	for k, v := range c.entries {
		if now.After(v.expiresAt) {
			delete(c.entries, k)
		}
	}

	c.entries[name] = statusEntry{up: up, expiresAt: now.Add(c.ttl)}
}

func (c *StatusCache) Get(ctx context.Context, name string) (up, known bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[name]
	if !ok || time.Now().After(entry.expiresAt) {
		delete(c.entries, name)
		return false, false
	}
	return entry.up, true
}

func (c *StatusCache) Invalidate(ctx context.Context, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, name)
}
