package oauth2client

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/navikt/token-support-sub000/metrics"
	"github.com/navikt/token-support-sub000/token"
)

// TokenResolver returns the current subject token used as assertion or
// subject_token in delegation grants.
type TokenResolver interface {
	SubjectToken(ctx context.Context) (string, bool)
}

// TokenResolverFunc adapts a function to TokenResolver.
type TokenResolverFunc func(ctx context.Context) (string, bool)

func (f TokenResolverFunc) SubjectToken(ctx context.Context) (string, bool) { return f(ctx) }

// ContextTokenResolver reads the validated tokens stored on the context by
// token.WithValidatedTokens. With Issuer set it uses that issuer's token,
// otherwise the first validated token.
type ContextTokenResolver struct {
	Issuer string
}

func (r ContextTokenResolver) SubjectToken(ctx context.Context) (string, bool) {
	tokens, ok := token.FromContext(ctx)
	if !ok {
		return "", false
	}
	var t *token.JWT
	if r.Issuer != "" {
		t, ok = tokens.Get(r.Issuer)
	} else {
		t, ok = tokens.FirstValidToken()
	}
	if !ok {
		return "", false
	}
	return t.Encoded(), true
}

// AccessTokenService dispatches a registration to the grant client for its
// grant type, going through that grant type's cache when one is configured.
type AccessTokenService struct {
	clients  map[GrantType]GrantClient
	caches   map[GrantType]*coalescingCache
	resolver TokenResolver
	now      func() time.Time
	log      logrus.FieldLogger
	metrics  *metrics.Metrics
}

// NewAccessTokenService builds the service with one client per grant type.
// Without WithTokenResolver, ContextTokenResolver{} is used.
func NewAccessTokenService(opts ...Option) *AccessTokenService {
	o := buildOptions(opts)
	s := &AccessTokenService{
		clients: map[GrantType]GrantClient{
			GrantClientCredentials: NewClientCredentialsClient(opts...),
			GrantJWTBearer:         NewOnBehalfOfClient(opts...),
			GrantTokenExchange:     NewTokenExchangeClient(opts...),
		},
		caches:   make(map[GrantType]*coalescingCache, len(o.caches)),
		resolver: o.resolver,
		now:      o.now,
		log:      o.log,
		metrics:  o.metrics,
	}
	if s.resolver == nil {
		s.resolver = ContextTokenResolver{}
	}
	for grant, store := range o.caches {
		if store == nil {
			continue
		}
		s.caches[grant] = &coalescingCache{
			store:        store,
			grant:        grant,
			evictSkew:    o.evictSkew,
			fetchTimeout: o.fetchTimeout(),
			now:          o.now,
			log:          o.log,
			metrics:      o.metrics,
		}
	}
	return s
}

// SetClient replaces the grant client for a grant type.
func (s *AccessTokenService) SetClient(grant GrantType, c GrantClient) {
	s.clients[grant] = c
}

// GetAccessToken returns an access token for reg, from cache when possible.
func (s *AccessTokenService) GetAccessToken(ctx context.Context, reg ClientRegistration) (*AccessTokenResponse, error) {
	req, err := s.grantRequest(ctx, reg)
	if err != nil {
		return nil, err
	}
	client, ok := s.clients[reg.GrantType]
	if !ok {
		return nil, fmt.Errorf("%w: no client for grant type %q", ErrInvalidArgument, reg.GrantType)
	}
	fetch := func(ctx context.Context) (*AccessTokenResponse, error) {
		resp, err := client.GetToken(ctx, req)
		if err != nil {
			return nil, err
		}
		resp.stampExpiresAt(s.now())
		return resp, nil
	}
	cache, ok := s.caches[reg.GrantType]
	if !ok {
		return fetch(ctx)
	}
	return cache.getOrFetch(ctx, req, fetch)
}

func (s *AccessTokenService) grantRequest(ctx context.Context, reg ClientRegistration) (GrantRequest, error) {
	switch reg.GrantType {
	case GrantClientCredentials:
		return ClientCredentialsRequest{Reg: reg}, nil
	case GrantJWTBearer, GrantTokenExchange:
		subject, ok := s.resolver.SubjectToken(ctx)
		if !ok || subject == "" {
			s.log.WithField("grant_type", reg.GrantType.Label()).Debug("no subject token for delegation grant")
			return nil, ErrNoSubjectToken
		}
		if reg.GrantType == GrantJWTBearer {
			return OnBehalfOfRequest{Reg: reg, Assertion: subject}, nil
		}
		return TokenExchangeRequest{Reg: reg, SubjectToken: subject}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported grant type %q", ErrInvalidArgument, reg.GrantType)
	}
}

// TokenSource adapts the service to oauth2.TokenSource for reg. The context
// is used for every Token call, so it must carry the subject token for
// delegation grants.
func (s *AccessTokenService) TokenSource(ctx context.Context, reg ClientRegistration) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, svc: s, reg: reg}
}

type tokenSource struct {
	ctx context.Context
	svc *AccessTokenService
	reg ClientRegistration
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	resp, err := ts.svc.GetAccessToken(ts.ctx, ts.reg)
	if err != nil {
		return nil, err
	}
	t := &oauth2.Token{
		AccessToken: resp.AccessToken,
		TokenType:   resp.TokenType(),
	}
	if resp.ExpiresAt > 0 {
		t.Expiry = time.Unix(resp.ExpiresAt, 0)
	}
	return t, nil
}
