package validation

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/lestrrat-go/jwx/v2/jwk"

	memorylimiter "github.com/navikt/token-support-sub000/ratelimit/memory"
)

// KeySource supplies the JSON Web Key Set used to verify an issuer's tokens.
type KeySource interface {
	KeySet(ctx context.Context) (jwk.Set, error)
}

// refresher is implemented by sources that can be forced to refetch when a
// token names a key id they do not hold.
type refresher interface {
	Refresh(ctx context.Context) (jwk.Set, error)
}

var errRefreshLimited = errors.New("JWKS refresh rate limited")

// cachedKeySource serves the last fetched set from a jwk.Cache. The cache
// refreshes in the background; only a genuine miss blocks on a fetch.
type cachedKeySource struct {
	cache   *jwk.Cache
	url     string
	limiter *memorylimiter.Limiter
}

func (s cachedKeySource) KeySet(ctx context.Context) (jwk.Set, error) {
	set, err := s.cache.Get(ctx, s.url)
	if err != nil {
		return nil, fmt.Errorf("get cached JWKS %s: %w", s.url, err)
	}
	return set, nil
}

// Refresh forces a refetch, at most as often as the limiter allows per URL.
func (s cachedKeySource) Refresh(ctx context.Context) (jwk.Set, error) {
	if !s.limiter.Allow(s.url) {
		return nil, errRefreshLimited
	}
	set, err := s.cache.Refresh(ctx, s.url)
	if err != nil {
		return nil, fmt.Errorf("refresh JWKS %s: %w", s.url, err)
	}
	return set, nil
}

// remoteKeySource fetches on every call. Used when caching is disabled.
type remoteKeySource struct {
	client *http.Client
	url    string
}

func (s remoteKeySource) KeySet(ctx context.Context) (jwk.Set, error) {
	set, err := jwk.Fetch(ctx, s.url, jwk.WithHTTPClient(s.client))
	if err != nil {
		return nil, fmt.Errorf("fetch JWKS %s: %w", s.url, err)
	}
	return set, nil
}

// StaticKeySource always returns the same set.
type StaticKeySource struct {
	Set jwk.Set
}

func (s StaticKeySource) KeySet(context.Context) (jwk.Set, error) { return s.Set, nil }
