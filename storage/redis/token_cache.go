package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/navikt/token-support-sub000/oauth2client"
)

// DefaultKeyPrefix namespaces cached access tokens.
const DefaultKeyPrefix = "tokensupport:access_token:"

// TokenCache stores access token responses in Redis so replicas share them.
// Keys are GrantRequest digests, never raw tokens. Use a distinct prefix per
// grant type.
type TokenCache struct {
	rdb   redis.UniversalClient
	keyNS string
}

func NewTokenCache(rdb redis.UniversalClient, keyPrefix string) *TokenCache {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &TokenCache{rdb: rdb, keyNS: keyPrefix}
}

func (c *TokenCache) key(k string) string { return c.keyNS + k }

func (c *TokenCache) Set(ctx context.Context, key string, resp *oauth2client.AccessTokenResponse, ttl time.Duration) error {
	if resp == nil || ttl <= 0 {
		return nil
	}
	b, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.key(key), b, ttl).Err()
}

func (c *TokenCache) Get(ctx context.Context, key string) (*oauth2client.AccessTokenResponse, bool, error) {
	val, err := c.rdb.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var resp oauth2client.AccessTokenResponse
	if err := json.Unmarshal(val, &resp); err != nil {
		return nil, false, err
	}
	return &resp, true, nil
}

// Del removes a cached response.
func (c *TokenCache) Del(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, c.key(key)).Err()
}
