package redis

import (
	"context"
	"time"
)

const loginKeyPref = "extlogin:"

// LoginCache remembers that a storefront account was seen logged in
// recently, so the ordering pipeline does not re-verify the external
// session on every request. Entries are short-lived; expiry just means
// the next order pays for a real check.
type LoginCache struct {
	client *Client
	ttl    time.Duration
}

func NewLoginCache(client *Client, ttl time.Duration) *LoginCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &LoginCache{client: client, ttl: ttl}
}

// MarkVerified records a successful login check for the account.
func (c *LoginCache) MarkVerified(ctx context.Context, account string) {
	if c == nil || c.client == nil || c.client.rdb == nil {
		return
	}
	_ = c.client.rdb.Set(ctx, loginKeyPref+account, "1", c.ttl).Err()
}

// IsFresh reports whether the account passed a login check within the
// cache window. Any cache failure reads as stale.
func (c *LoginCache) IsFresh(ctx context.Context, account string) bool {
	if c == nil || c.client == nil || c.client.rdb == nil {
		return false
	}
	err := c.client.rdb.Get(ctx, loginKeyPref+account).Err()
	return err == nil
}

// Clear forgets the account's login check, forcing re-verification.
// Called when the external session is cleared or re-created.
func (c *LoginCache) Clear(ctx context.Context, account string) {
	if c == nil || c.client == nil || c.client.rdb == nil {
		return
	}
	_ = c.client.rdb.Del(ctx, loginKeyPref+account).Err()
}
