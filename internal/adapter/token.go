package adapter

import (
	"sync"
	"time"
)

// TokenCache holds one bearer token and treats it as expired skew before its real expiry.
type TokenCache struct {
	mu      sync.Mutex
	token   string
	expires time.Time
	skew    time.Duration
	now     func() time.Time
}

// NewTokenCache builds a TokenCache.
func NewTokenCache(skew time.Duration, now func() time.Time) *TokenCache {
	if now == nil {
		now = time.Now
	}
	return &TokenCache{skew: skew, now: now}
}

// Get returns the cached token while it is still valid.
func (c *TokenCache) Get() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" || !c.now().Before(c.expires) {
		return "", false
	}
	return c.token, true
}

// Set stores token valid for ttl minus the skew.
func (c *TokenCache) Set(token string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.expires = c.now().Add(ttl - c.skew)
}

// Clear drops the token.
func (c *TokenCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.expires = time.Time{}
}
