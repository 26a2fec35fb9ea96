package core

import (
	"strings"
	"time"
)

const (
	// DefaultHeaderName is the inbound header scanned for bearer tokens when an
	// issuer does not name one.
	DefaultHeaderName = "Authorization"

	DefaultJWKSLifespan     = 15 * time.Minute
	DefaultJWKSRefreshAhead = 5 * time.Minute
)

// IssuerTrustConfig configures verification of tokens from one trusted issuer.
// One per configured short name.
type IssuerTrustConfig struct {
	// DiscoveryURL points at the issuer's OpenID/OAuth metadata document.
	DiscoveryURL string
	// AcceptedAudiences enforces that tokens contain at least one of these
	// audiences (OR semantics). Empty plus an optional "aud" disables the check.
	AcceptedAudiences []string
	// HeaderName is the inbound header carrying "Bearer <token>" values.
	HeaderName string
	// CookieName, when set, accepts the token from a cookie of that name.
	CookieName string
	Validation ValidationConfig
	JWKSCache  JWKSCachePolicy
	// ProxyURL overrides the retriever's proxy for this issuer.
	ProxyURL string
	// UsePlaintextForHTTPS rewrites https discovery/JWKS URLs to http on port
	// 443 for TLS-terminating sidecars.
	UsePlaintextForHTTPS bool
}

// ValidationConfig tunes the claims policy for one issuer.
type ValidationConfig struct {
	// OptionalClaims are removed from the default required set
	// {aud, exp, iat, iss, sub}.
	OptionalClaims []string
}

// JWKSCachePolicy configures caching of the issuer's key set. A zero value
// means caching with default lifespan and refresh-ahead window.
type JWKSCachePolicy struct {
	Disabled     bool
	Lifespan     time.Duration
	RefreshAhead time.Duration
}

// Defaulted returns the policy with zero durations replaced by defaults.
func (p JWKSCachePolicy) Defaulted() JWKSCachePolicy {
	out := p
	if out.Lifespan <= 0 {
		out.Lifespan = DefaultJWKSLifespan
	}
	if out.RefreshAhead <= 0 {
		out.RefreshAhead = DefaultJWKSRefreshAhead
	}
	return out
}

// RefreshInterval is how often the key set is refetched in the background so
// readers never see an expired set.
func (p JWKSCachePolicy) RefreshInterval() time.Duration {
	d := p.Defaulted()
	if iv := d.Lifespan - d.RefreshAhead; iv > 0 {
		return iv
	}
	return d.Lifespan
}

// EffectiveHeaderName returns HeaderName or DefaultHeaderName.
func (c IssuerTrustConfig) EffectiveHeaderName() string {
	if h := strings.TrimSpace(c.HeaderName); h != "" {
		return h
	}
	return DefaultHeaderName
}
