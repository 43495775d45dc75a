package memory

import (
	"context"
	"sync"
	"time"
)

// LoginCache is the in-process equivalent of the Redis login cache.
type LoginCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	checked map[string]time.Time
}

func NewLoginCache(ttl time.Duration) *LoginCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &LoginCache{
		ttl:     ttl,
		checked: make(map[string]time.Time),
	}
}

func (c *LoginCache) MarkVerified(ctx context.Context, account string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checked[account] = time.Now().Add(c.ttl)
}

func (c *LoginCache) IsFresh(ctx context.Context, account string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	exp, ok := c.checked[account]
	if !ok {
		return false
	}
	if time.Now().After(exp) {
		delete(c.checked, account)
		return false
	}
	return true
}

func (c *LoginCache) Clear(ctx context.Context, account string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.checked, account)
}
