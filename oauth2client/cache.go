package oauth2client

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/navikt/token-support-sub000/metrics"
)

// Cache stores token responses by GrantRequest key. Implementations must
// drop entries once ttl has passed.
type Cache interface {
	Get(ctx context.Context, key string) (*AccessTokenResponse, bool, error)
	Set(ctx context.Context, key string, resp *AccessTokenResponse, ttl time.Duration) error
}

// coalescingCache fronts a Cache so concurrent misses for the same key share
// one token endpoint call. Different keys never wait on each other.
type coalescingCache struct {
	store        Cache
	group        singleflight.Group
	grant        GrantType
	evictSkew    time.Duration
	fetchTimeout time.Duration
	now          func() time.Time
	log          logrus.FieldLogger
	metrics      *metrics.Metrics
}

type fetchFunc func(ctx context.Context) (*AccessTokenResponse, error)

func (c *coalescingCache) getOrFetch(ctx context.Context, req GrantRequest, fetch fetchFunc) (*AccessTokenResponse, error) {
	key := req.Key()
	if resp, ok := c.lookup(ctx, key); ok {
		c.metrics.ObserveCacheLookup(c.grant.Label(), true)
		return resp, nil
	}
	c.metrics.ObserveCacheLookup(c.grant.Label(), false)

	// The shared fetch outlives any single caller; each caller still stops
	// waiting when its own context ends.
	ch := c.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()
		// A caller that lost the race may find the entry already stored.
		if resp, ok := c.lookup(fctx, key); ok {
			return resp, nil
		}
		resp, err := fetch(fctx)
		if err != nil {
			return nil, err
		}
		if ttl := c.ttl(resp); ttl > 0 {
			if err := c.store.Set(fctx, key, resp, ttl); err != nil {
				c.log.WithError(err).WithField("grant_type", c.grant.Label()).Warn("failed to cache access token")
			}
		}
		return resp, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*AccessTokenResponse), nil
	}
}

func (c *coalescingCache) lookup(ctx context.Context, key string) (*AccessTokenResponse, bool) {
	resp, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.log.WithError(err).WithField("grant_type", c.grant.Label()).Warn("access token cache lookup failed")
		return nil, false
	}
	return resp, ok && resp != nil
}

// ttl is the response lifetime minus the evict skew, never negative.
func (c *coalescingCache) ttl(resp *AccessTokenResponse) time.Duration {
	ttl := resp.Lifetime(c.now()) - c.evictSkew
	if ttl < 0 {
		return 0
	}
	return ttl
}
