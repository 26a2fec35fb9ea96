package validation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/sirupsen/logrus"

	"github.com/navikt/token-support-sub000/core"
	"github.com/navikt/token-support-sub000/metrics"
	oidckit "github.com/navikt/token-support-sub000/oidc"
	memorylimiter "github.com/navikt/token-support-sub000/ratelimit/memory"
	"github.com/navikt/token-support-sub000/retriever"
)

// Issuer is one trusted issuer resolved at startup.
type Issuer struct {
	Name      string
	Metadata  oidckit.Metadata
	Config    core.IssuerTrustConfig
	Validator *Validator
}

// HeaderName returns the inbound header scanned for this issuer's tokens.
func (i *Issuer) HeaderName() string { return i.Config.EffectiveHeaderName() }

// Registry maps short names and issuer identifiers to validators. It is
// immutable once built and safe for concurrent use.
type Registry struct {
	byName   map[string]*Issuer
	byIssuer map[string]*Issuer
	ordered  []*Issuer
	cancel   context.CancelFunc
	log      logrus.FieldLogger
	metrics  *metrics.Metrics
}

type registryOptions struct {
	retriever retriever.Config
	skew      time.Duration
	now       func() time.Time
	log       logrus.FieldLogger
	metrics   *metrics.Metrics
	refresh   memorylimiter.Limit
}

// DefaultJWKSRefreshLimit bounds forced key set refetches triggered by an
// unknown key id.
var DefaultJWKSRefreshLimit = memorylimiter.Limit{Limit: 1, Window: 30 * time.Second}

// RegistryOption customizes NewRegistry.
type RegistryOption func(*registryOptions)

// WithRetrieverConfig sets timeouts, size limit and proxy used for discovery
// and key set fetches.
func WithRetrieverConfig(cfg retriever.Config) RegistryOption {
	return func(o *registryOptions) { o.retriever = cfg }
}

// WithClockSkew overrides DefaultClockSkew.
func WithClockSkew(d time.Duration) RegistryOption {
	return func(o *registryOptions) { o.skew = d }
}

// WithClock injects the time source used for claim checks.
func WithClock(now func() time.Time) RegistryOption {
	return func(o *registryOptions) { o.now = now }
}

// WithJWKSRefreshLimit overrides DefaultJWKSRefreshLimit.
func WithJWKSRefreshLimit(l memorylimiter.Limit) RegistryOption {
	return func(o *registryOptions) { o.refresh = l }
}

func WithLogger(l logrus.FieldLogger) RegistryOption {
	return func(o *registryOptions) { o.log = l }
}

func WithMetrics(m *metrics.Metrics) RegistryOption {
	return func(o *registryOptions) { o.metrics = m }
}

// NewRegistry fetches discovery metadata for every configured issuer and
// builds its validator. Any failure aborts with ErrConfiguration; key sets are
// fetched lazily on first use. The returned registry keeps a background key
// set refresher running until Close.
func NewRegistry(ctx context.Context, issuers map[string]core.IssuerTrustConfig, opts ...RegistryOption) (*Registry, error) {
	o := registryOptions{log: logrus.StandardLogger(), refresh: DefaultJWKSRefreshLimit}
	for _, opt := range opts {
		opt(&o)
	}
	if len(issuers) == 0 {
		return nil, fmt.Errorf("%w: no issuers configured", ErrConfiguration)
	}
	if o.retriever.Logger == nil {
		o.retriever.Logger = o.log
	}

	names := make([]string, 0, len(issuers))
	for name := range issuers {
		names = append(names, name)
	}
	sort.Strings(names)

	cacheCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cache := jwk.NewCache(cacheCtx, jwk.WithRefreshWindow(refreshWindow(issuers)))
	limiter := memorylimiter.New(o.refresh)
	r := &Registry{
		byName:   make(map[string]*Issuer, len(issuers)),
		byIssuer: make(map[string]*Issuer, len(issuers)),
		cancel:   cancel,
		log:      o.log,
		metrics:  o.metrics,
	}

	for _, name := range names {
		iss, err := buildIssuer(ctx, name, issuers[name], cache, limiter, o)
		if err != nil {
			cancel()
			return nil, err
		}
		if prev, dup := r.byIssuer[iss.Metadata.Issuer]; dup {
			cancel()
			return nil, fmt.Errorf("%w: issuers %q and %q share issuer identifier %q", ErrConfiguration, prev.Name, name, iss.Metadata.Issuer)
		}
		r.byName[name] = iss
		r.byIssuer[iss.Metadata.Issuer] = iss
		r.ordered = append(r.ordered, iss)
		o.log.WithFields(logrus.Fields{
			"issuer_name": name,
			"issuer":      iss.Metadata.Issuer,
			"jwks_uri":    iss.Metadata.JWKSURI,
		}).Info("registered trusted issuer")
	}
	return r, nil
}

// refreshWindow is the cache's scheduling granularity. It may not exceed the
// shortest refresh interval of any cached issuer, and the cache treats
// anything under a second as its 15 minute default.
func refreshWindow(issuers map[string]core.IssuerTrustConfig) time.Duration {
	w := time.Minute
	for _, cfg := range issuers {
		if cfg.JWKSCache.Disabled {
			continue
		}
		if iv := cfg.JWKSCache.RefreshInterval(); iv < w {
			w = iv
		}
	}
	return max(w, time.Second)
}

func buildIssuer(ctx context.Context, name string, cfg core.IssuerTrustConfig, cache *jwk.Cache, limiter *memorylimiter.Limiter, o registryOptions) (*Issuer, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: issuer short name is empty", ErrConfiguration)
	}
	rcfg := o.retriever.WithProxy(cfg.ProxyURL)
	rcfg.UsePlaintextForHTTPS = rcfg.UsePlaintextForHTTPS || cfg.UsePlaintextForHTTPS
	ret, err := retriever.New(rcfg)
	if err != nil {
		return nil, fmt.Errorf("%w: issuer %q: %v", ErrConfiguration, name, err)
	}

	md, err := oidckit.DiscoverIssuer(ctx, ret, cfg.DiscoveryURL)
	if err != nil {
		return nil, fmt.Errorf("%w: issuer %q: %v", ErrConfiguration, name, err)
	}

	var keys KeySource
	if cfg.JWKSCache.Disabled {
		keys = remoteKeySource{client: ret.HTTPClient(), url: md.JWKSURI}
	} else {
		err := cache.Register(md.JWKSURI,
			jwk.WithHTTPClient(ret.HTTPClient()),
			jwk.WithRefreshInterval(cfg.JWKSCache.RefreshInterval()),
		)
		if err != nil {
			return nil, fmt.Errorf("%w: issuer %q: register JWKS: %v", ErrConfiguration, name, err)
		}
		keys = cachedKeySource{cache: cache, url: md.JWKSURI, limiter: limiter}
	}

	v, err := NewValidator(ValidatorConfig{
		IssuerName:        name,
		Issuer:            md.Issuer,
		AcceptedAudiences: cfg.AcceptedAudiences,
		OptionalClaims:    cfg.Validation.OptionalClaims,
		Keys:              keys,
		ClockSkew:         o.skew,
		Now:               o.now,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return &Issuer{Name: name, Metadata: *md, Config: cfg, Validator: v}, nil
}

// ByName looks up an issuer by its configured short name.
func (r *Registry) ByName(name string) (*Issuer, bool) {
	iss, ok := r.byName[name]
	return iss, ok
}

// ByIssuer looks up an issuer by the iss value from its metadata.
func (r *Registry) ByIssuer(issuer string) (*Issuer, bool) {
	iss, ok := r.byIssuer[issuer]
	return iss, ok
}

// Issuers returns all issuers ordered by short name.
func (r *Registry) Issuers() []*Issuer {
	out := make([]*Issuer, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Close stops background key set refreshes.
func (r *Registry) Close() {
	if r.cancel != nil {
		r.cancel()
	}
}
