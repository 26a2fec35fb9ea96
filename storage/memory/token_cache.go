package memorystore

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/navikt/token-support-sub000/oauth2client"
)

const (
	// DefaultMaxSize bounds the number of cached responses.
	DefaultMaxSize = 1000
	// cleanupInterval is how often expired entries are removed.
	cleanupInterval = time.Minute
)

// TokenCache is an in-memory implementation of oauth2client.Cache with a
// per-entry TTL. Use one instance per grant type.
type TokenCache struct {
	mu        sync.Mutex
	data      map[string]item
	maxSize   int
	now       func() time.Time
	closed    chan struct{}
	closeOnce sync.Once
}

type item struct {
	v   oauth2client.AccessTokenResponse
	exp time.Time
}

// Option customizes a TokenCache.
type Option func(*TokenCache)

// WithMaxSize sets the capacity. When full, new keys are not cached until
// expired entries are purged.
func WithMaxSize(n int) Option {
	return func(c *TokenCache) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

// WithClock injects the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(c *TokenCache) { c.now = now }
}

// NewTokenCache creates a cache and starts a background goroutine that
// removes expired entries every minute. Call Close to stop it.
func NewTokenCache(opts ...Option) *TokenCache {
	c := &TokenCache{
		data:    make(map[string]item),
		maxSize: DefaultMaxSize,
		now:     time.Now,
		closed:  make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	go c.cleanupLoop()
	return c
}

func (c *TokenCache) Get(_ context.Context, key string) (*oauth2client.AccessTokenResponse, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.data[key]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(it.exp) {
		delete(c.data, key)
		return nil, false, nil
	}
	return clone(it.v), true, nil
}

func (c *TokenCache) Set(_ context.Context, key string, resp *oauth2client.AccessTokenResponse, ttl time.Duration) error {
	if resp == nil || ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.data[key]; !exists && len(c.data) >= c.maxSize {
		c.purgeLocked()
		if len(c.data) >= c.maxSize {
			return nil
		}
	}
	c.data[key] = item{v: *clone(*resp), exp: c.now().Add(ttl)}
	return nil
}

// clone copies resp so callers never share Extra with a stored entry.
func clone(resp oauth2client.AccessTokenResponse) *oauth2client.AccessTokenResponse {
	resp.Extra = maps.Clone(resp.Extra)
	return &resp
}

// Len returns the number of stored entries, expired ones included.
func (c *TokenCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

func (c *TokenCache) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			c.purgeLocked()
			c.mu.Unlock()
		case <-c.closed:
			return
		}
	}
}

func (c *TokenCache) purgeLocked() {
	now := c.now()
	for k, v := range c.data {
		if !now.Before(v.exp) {
			delete(c.data, k)
		}
	}
}

// Close stops the background cleanup goroutine.
func (c *TokenCache) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}
