package config

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navikt/token-support-sub000/core"
	"github.com/navikt/token-support-sub000/oauth2client"
	tokentest "github.com/navikt/token-support-sub000/testing"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("NO_PROXY", "")
	s, err := Load("TS_TEST")
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, s.ConnectTimeout)
	assert.Equal(t, 5*time.Second, s.ReadTimeout)
	assert.Equal(t, int64(51200), s.SizeLimit)
	assert.Equal(t, 60*time.Second, s.ClockSkew)
	assert.Equal(t, 15*time.Minute, s.JWKSLifespan)
	assert.Equal(t, 5*time.Minute, s.JWKSRefreshAhead)
	assert.Equal(t, 10*time.Second, s.EvictSkew)
	assert.Equal(t, 1000, s.CacheMaxSize)
	assert.Equal(t, "info", s.LogLevel)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("TS_TEST_PROXY_URL", "http://proxy:3128")
	t.Setenv("NO_PROXY", "localhost, .svc.cluster.local")
	t.Setenv("TS_TEST_READ_TIMEOUT", "2s")
	t.Setenv("TS_TEST_JWKS_LIFESPAN", "30m")
	t.Setenv("TS_TEST_EVICT_SKEW", "30s")

	s, err := Load("TS_TEST")
	require.NoError(t, err)
	assert.Equal(t, "http://proxy:3128", s.ProxyURL)
	assert.Equal(t, 2*time.Second, s.ReadTimeout)
	assert.Equal(t, 30*time.Minute, s.JWKSLifespan)
	assert.Equal(t, 30*time.Second, s.EvictSkew)

	rc := s.RetrieverConfig(logrus.New())
	assert.Equal(t, []string{"localhost", ".svc.cluster.local"}, rc.NoProxy)
	assert.Equal(t, "http://proxy:3128", rc.ProxyURL)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("TS_TEST_READ_TIMEOUT", "soon")
	_, err := Load("TS_TEST")
	assert.Error(t, err)
}

func TestLoad_RejectsNonPositiveSizes(t *testing.T) {
	t.Setenv("TS_TEST_CACHE_MAX_SIZE", "0")
	_, err := Load("TS_TEST")
	assert.Error(t, err)
}

func TestApplyJWKSDefaults(t *testing.T) {
	s := Settings{JWKSLifespan: 20 * time.Minute, JWKSRefreshAhead: time.Minute}
	in := map[string]core.IssuerTrustConfig{
		"plain":  {DiscoveryURL: "https://a"},
		"custom": {DiscoveryURL: "https://b", JWKSCache: core.JWKSCachePolicy{Disabled: true}},
	}
	out := s.ApplyJWKSDefaults(in)
	assert.Equal(t, 20*time.Minute, out["plain"].JWKSCache.Lifespan)
	assert.True(t, out["custom"].JWKSCache.Disabled)
	assert.Zero(t, in["plain"].JWKSCache.Lifespan)
}

func TestNewLogger(t *testing.T) {
	l, err := Settings{LogLevel: "debug"}.NewLogger()
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())

	_, err = Settings{LogLevel: "loud"}.NewLogger()
	assert.Error(t, err)
}

func clientCredentials(t *testing.T, ti *tokentest.TestIssuer) oauth2client.ClientRegistration {
	t.Helper()
	auth, err := oauth2client.NewClientSecretPost("client-id", "secret")
	require.NoError(t, err)
	return oauth2client.ClientRegistration{
		TokenEndpointURL: ti.TokenEndpoint(),
		GrantType:        oauth2client.GrantClientCredentials,
		Scopes:           []string{"api"},
		Auth:             auth,
	}
}

func quiet() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestServiceOptions_MemoryCache(t *testing.T) {
	ti := tokentest.NewTestIssuer()
	defer ti.Close()
	s, err := Load("TS_TEST")
	require.NoError(t, err)

	opts, closeFn, err := s.ServiceOptions(quiet())
	require.NoError(t, err)
	defer func() { _ = closeFn() }()

	svc := oauth2client.NewAccessTokenService(opts...)
	reg := clientCredentials(t, ti)
	for i := 0; i < 3; i++ {
		_, err := svc.GetAccessToken(context.Background(), reg)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, ti.TokenRequestCount())
}

func TestServiceOptions_RedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	ti := tokentest.NewTestIssuer()
	defer ti.Close()
	t.Setenv("TS_TEST_REDIS_ADDR", mr.Addr())
	s, err := Load("TS_TEST")
	require.NoError(t, err)

	opts, closeFn, err := s.ServiceOptions(quiet())
	require.NoError(t, err)
	defer func() { _ = closeFn() }()

	svc := oauth2client.NewAccessTokenService(opts...)
	reg := clientCredentials(t, ti)
	first, err := svc.GetAccessToken(context.Background(), reg)
	require.NoError(t, err)

	// A second service sharing the redis instance reuses the token.
	other := oauth2client.NewAccessTokenService(opts...)
	second, err := other.GetAccessToken(context.Background(), reg)
	require.NoError(t, err)
	assert.Equal(t, first.AccessToken, second.AccessToken)
	assert.Equal(t, 1, ti.TokenRequestCount())

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Contains(t, keys[0], "tokensupport:access_token:client_credentials:")
}
