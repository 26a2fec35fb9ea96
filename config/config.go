// Package config loads process level settings from the environment. Issuer
// and client registrations are plain structs supplied by the caller.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/navikt/token-support-sub000/core"
	"github.com/navikt/token-support-sub000/oauth2client"
	memorylimiter "github.com/navikt/token-support-sub000/ratelimit/memory"
	"github.com/navikt/token-support-sub000/retriever"
	memorystore "github.com/navikt/token-support-sub000/storage/memory"
	redisstore "github.com/navikt/token-support-sub000/storage/redis"
	"github.com/navikt/token-support-sub000/validation"
)

// DefaultPrefix is the environment variable prefix used by Load("").
const DefaultPrefix = "TOKEN_SUPPORT"

// Settings are the ambient knobs shared by validation and token acquisition.
type Settings struct {
	ProxyURL string `split_words:"true"`
	// NoProxy falls back to the conventional NO_PROXY variable.
	NoProxy          string        `envconfig:"NO_PROXY"`
	ConnectTimeout   time.Duration `default:"5s" split_words:"true"`
	ReadTimeout      time.Duration `default:"5s" split_words:"true"`
	SizeLimit        int64         `default:"51200" split_words:"true"`
	ClockSkew        time.Duration `default:"60s" split_words:"true"`
	JWKSLifespan     time.Duration `default:"15m" envconfig:"JWKS_LIFESPAN"`
	JWKSRefreshAhead time.Duration `default:"5m" envconfig:"JWKS_REFRESH_AHEAD"`
	EvictSkew        time.Duration `default:"10s" split_words:"true"`
	JWKSRefreshLimit int           `default:"1" envconfig:"JWKS_REFRESH_LIMIT"`
	JWKSRefreshEvery time.Duration `default:"30s" envconfig:"JWKS_REFRESH_WINDOW"`
	CacheMaxSize     int           `default:"1000" split_words:"true"`
	// RedisAddr switches the access token cache from process memory to redis.
	RedisAddr      string `split_words:"true"`
	RedisKeyPrefix string `default:"tokensupport:access_token:" split_words:"true"`
	LogLevel       string `default:"info" split_words:"true"`
}

// Load reads Settings from environment variables named PREFIX_FIELD.
func Load(prefix string) (Settings, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	var s Settings
	if err := envconfig.Process(prefix, &s); err != nil {
		return Settings{}, fmt.Errorf("config: %w", err)
	}
	if s.SizeLimit <= 0 {
		return Settings{}, fmt.Errorf("config: size limit must be positive, got %d", s.SizeLimit)
	}
	if s.CacheMaxSize <= 0 {
		return Settings{}, fmt.Errorf("config: cache max size must be positive, got %d", s.CacheMaxSize)
	}
	return s, nil
}

// NewLogger returns a logrus logger at LogLevel.
func (s Settings) NewLogger() (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(s.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	l := logrus.New()
	l.SetLevel(lvl)
	return l, nil
}

// RetrieverConfig maps the settings onto retriever.Config.
func (s Settings) RetrieverConfig(log logrus.FieldLogger) retriever.Config {
	return retriever.Config{
		ConnectTimeout: s.ConnectTimeout,
		ReadTimeout:    s.ReadTimeout,
		SizeLimit:      s.SizeLimit,
		ProxyURL:       s.ProxyURL,
		NoProxy:        retriever.ParseNoProxy(s.NoProxy),
		Logger:         log,
	}
}

// JWKSCachePolicy is the default key set cache policy for issuers that do not
// set their own.
func (s Settings) JWKSCachePolicy() core.JWKSCachePolicy {
	return core.JWKSCachePolicy{Lifespan: s.JWKSLifespan, RefreshAhead: s.JWKSRefreshAhead}
}

// ApplyJWKSDefaults fills the cache policy of issuers that left it zero.
func (s Settings) ApplyJWKSDefaults(issuers map[string]core.IssuerTrustConfig) map[string]core.IssuerTrustConfig {
	out := make(map[string]core.IssuerTrustConfig, len(issuers))
	for name, cfg := range issuers {
		if cfg.JWKSCache == (core.JWKSCachePolicy{}) {
			cfg.JWKSCache = s.JWKSCachePolicy()
		}
		out[name] = cfg
	}
	return out
}

// RegistryOptions returns the validation options derived from the settings.
func (s Settings) RegistryOptions(log logrus.FieldLogger) []validation.RegistryOption {
	return []validation.RegistryOption{
		validation.WithRetrieverConfig(s.RetrieverConfig(log)),
		validation.WithClockSkew(s.ClockSkew),
		validation.WithJWKSRefreshLimit(memorylimiter.Limit{Limit: s.JWKSRefreshLimit, Window: s.JWKSRefreshEvery}),
		validation.WithLogger(log),
	}
}

var cachedGrants = []oauth2client.GrantType{
	oauth2client.GrantClientCredentials,
	oauth2client.GrantJWTBearer,
	oauth2client.GrantTokenExchange,
}

// ServiceOptions returns the oauth2client options derived from the settings.
// The HTTP client shares proxy and timeouts with metadata fetches. Every grant
// gets a cache, backed by redis when RedisAddr is set. The returned close
// function releases the cache resources.
func (s Settings) ServiceOptions(log logrus.FieldLogger) ([]oauth2client.Option, func() error, error) {
	ret, err := retriever.New(s.RetrieverConfig(log))
	if err != nil {
		return nil, nil, err
	}
	opts := []oauth2client.Option{
		oauth2client.WithHTTPClient(ret.HTTPClient()),
		oauth2client.WithEvictSkew(s.EvictSkew),
		oauth2client.WithLogger(log),
	}

	if s.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: s.RedisAddr})
		for _, g := range cachedGrants {
			opts = append(opts, oauth2client.WithCache(g, redisstore.NewTokenCache(rdb, s.RedisKeyPrefix+g.Label()+":")))
		}
		log.WithField("redis_addr", s.RedisAddr).Info("access token cache backed by redis")
		return opts, rdb.Close, nil
	}

	caches := make([]*memorystore.TokenCache, 0, len(cachedGrants))
	for _, g := range cachedGrants {
		c := memorystore.NewTokenCache(memorystore.WithMaxSize(s.CacheMaxSize))
		caches = append(caches, c)
		opts = append(opts, oauth2client.WithCache(g, c))
	}
	closeAll := func() error {
		for _, c := range caches {
			_ = c.Close()
		}
		return nil
	}
	return opts, closeAll, nil
}
