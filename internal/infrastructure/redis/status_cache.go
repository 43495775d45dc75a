package redis

import (
	"context"
	"time"
)

const statusKeyPref = "status:"

// StatusCache remembers the last observed availability of an external
// dependency (camera service, storefront) so retry loops can skip dialing
// a component that was seen down moments ago. A missing or expired key
// means the status is unknown and the caller should probe for itself.
type StatusCache struct {
	client *Client
	ttl    time.Duration
}

func NewStatusCache(client *Client, ttl time.Duration) *StatusCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &StatusCache{client: client, ttl: ttl}
}

// Set records the availability of the named dependency. Failures are
// swallowed: an unreachable cache must never fail the request path that
// reports into it.
func (c *StatusCache) Set(ctx context.Context, name string, up bool) {
	if c == nil || c.client == nil || c.client.rdb == nil {
		return
	}
	val := "down"
	if up {
		val = "up"
	}
	_ = c.client.rdb.Set(ctx, statusKeyPref+name, val, c.ttl).Err()
}

// Get reports the cached availability of the named dependency. known is
// false when there is no fresh entry or the cache itself is unreachable;
// treat that as "go probe".
func (c *StatusCache) Get(ctx context.Context, name string) (up, known bool) {
	if c == nil || c.client == nil || c.client.rdb == nil {
		return false, false
	}
	v, err := c.client.rdb.Get(ctx, statusKeyPref+name).Result()
	if err != nil {
		// goredis.Nil and transport errors both mean no usable answer
		return false, false
	}
	return v == "up", true
}

// Invalidate drops the cached entry, forcing the next caller to probe.
// Used when the dependency's endpoint is reconfigured at runtime.
func (c *StatusCache) Invalidate(ctx context.Context, name string) {
	if c == nil || c.client == nil || c.client.rdb == nil {
		return
	}
	_ = c.client.rdb.Del(ctx, statusKeyPref+name).Err()
}
